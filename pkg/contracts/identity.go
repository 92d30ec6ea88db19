package contracts

import "time"

// PatternType classifies a detected pattern.
type PatternType string

const (
	PatternEmotion  PatternType = "emotion"
	PatternTopic    PatternType = "topic"
	PatternBehavior PatternType = "behavior"
)

// PatternStrength buckets occurrence counts.
type PatternStrength string

const (
	StrengthWeak     PatternStrength = "weak"
	StrengthEmerging PatternStrength = "emerging"
	StrengthModerate PatternStrength = "moderate"
	StrengthStrong   PatternStrength = "strong"
)

// StrengthFor maps an occurrence count to a strength bucket.
// Thresholds: 1 weak, 2 emerging, 3 moderate, 4+ strong.
func StrengthFor(occurrences int) PatternStrength {
	switch {
	case occurrences >= 4:
		return StrengthStrong
	case occurrences == 3:
		return StrengthModerate
	case occurrences == 2:
		return StrengthEmerging
	default:
		return StrengthWeak
	}
}

// Pattern is a recurring signal across reflections. A pattern exists once
// it has been observed at least twice.
type Pattern struct {
	Type        PatternType     `json:"type"`
	Name        string          `json:"name"`
	Occurrences int             `json:"occurrences"`
	FirstSeen   time.Time       `json:"first_seen"`
	LastSeen    time.Time       `json:"last_seen"`
	Confidence  float64         `json:"confidence"`
	Strength    PatternStrength `json:"strength"`
	Contexts    []string        `json:"contexts,omitempty"`
}

// TensionType classifies a detected tension.
type TensionType string

const (
	TensionEmotional     TensionType = "emotional"
	TensionBehavioral    TensionType = "behavioral"
	TensionValue         TensionType = "value"
	TensionTemporal      TensionType = "temporal"
	TensionContradiction TensionType = "explicit_contradiction"
)

// Tension is a detected pull between two signals in the identity graph.
type Tension struct {
	Type        TensionType `json:"type"`
	Description string      `json:"description"`
	Severity    float64     `json:"severity"`
	Evidence    []string    `json:"evidence,omitempty"`
}

// IdentitySnapshot is the derived view of a user's identity graph. It is
// recomputed from events and never the source of truth. SourceMerkleRoot
// binds the snapshot to the exact event sequence it was folded from.
type IdentitySnapshot struct {
	InstanceID      string    `json:"instance_id"`
	UserID          string    `json:"user_id"`
	Patterns        []Pattern `json:"patterns"`
	Tensions        []Tension `json:"tensions"`
	Beliefs         []string  `json:"beliefs"`
	RecurringThemes []string  `json:"recurring_themes"`
	DominantEmotion string    `json:"dominant_emotion"`
	EventCount      int       `json:"event_count"`
	SourceMerkleRoot string   `json:"source_merkle_root"`
	Warnings        []string  `json:"warnings,omitempty"`
}
