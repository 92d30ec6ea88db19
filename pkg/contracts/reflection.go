// Package contracts defines the shared value types of the Mirror core:
// reflections, chained events, derived identity state, recognition
// certificates, governance proposals, update manifests, and the error
// taxonomy. Types here carry no behavior beyond construction and
// canonical-payload selection; subsystems own the logic.
package contracts

import "time"

// Mode is the invocation context of a reflection. It gates which
// constitutional checkers allow prescriptive language.
type Mode string

const (
	ModePostAction Mode = "POST_ACTION"
	ModeGuidance   Mode = "GUIDANCE"
	ModeFreeform   Mode = "FREEFORM"
	ModeCheckIn    Mode = "CHECK_IN"
)

// Modality identifies the channel the reflection arrived through.
type Modality string

const (
	ModalityText     Modality = "text"
	ModalityVoice    Modality = "voice"
	ModalityDocument Modality = "document"
	ModalityImage    Modality = "image"
	ModalityVideo    Modality = "video"
)

// Reflection is a user utterance entering the pipeline. Immutable after
// creation.
type Reflection struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Content   string         `json:"content"`
	Mode      Mode           `json:"mode"`
	Modality  Modality       `json:"modality"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Preferences shape the expression layer's output.
type Preferences struct {
	Tone         Tone        `json:"tone"`
	DetailLevel  DetailLevel `json:"detail_level"`
	UseQuestions bool        `json:"use_questions"`
	MaxLength    int         `json:"max_length"`
}

// Tone selects the expression substitution table.
type Tone string

const (
	ToneWarm     Tone = "warm"
	ToneClinical Tone = "clinical"
	ToneDirect   Tone = "direct"
	ToneBalanced Tone = "balanced"
)

// DetailLevel controls response length shaping.
type DetailLevel string

const (
	DetailBrief    DetailLevel = "brief"
	DetailModerate DetailLevel = "moderate"
	DetailDetailed DetailLevel = "detailed"
)

// DefaultPreferences returns the baseline expression preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		Tone:         ToneBalanced,
		DetailLevel:  DetailModerate,
		UseQuestions: true,
		MaxLength:    2000,
	}
}
