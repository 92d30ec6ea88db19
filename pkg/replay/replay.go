// Package replay derives identity snapshots from event streams. Replay is
// a pure left fold: the same ordered events always produce the same
// snapshot, byte for byte. No clock, no network, no randomness.
package replay

import (
	"sort"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/merkle"
)

const (
	maxContextsPerPattern = 3
	maxContextLength      = 80
)

type patternKey struct {
	Type contracts.PatternType
	Name string
}

type state struct {
	patterns map[patternKey]*contracts.Pattern
	order    []patternKey

	tensions     []contracts.Tension
	tensionSeen  map[string]int
	beliefs      []string
	beliefSeen   map[string]bool
	warnings     []string
	warningSeen  map[string]bool
	eventHashes  []string
	eventCount   int
}

func newState() *state {
	return &state{
		patterns:    make(map[patternKey]*contracts.Pattern),
		tensionSeen: make(map[string]int),
		beliefSeen:  make(map[string]bool),
		warningSeen: make(map[string]bool),
	}
}

// Replay folds events into an identity snapshot for the stream they belong
// to. Unknown event types never fail the fold; they surface as
// unknown_event_seen warnings so newer logs stay readable by older nodes.
func Replay(events []contracts.Event, instanceID, userID string) contracts.IdentitySnapshot {
	st := newState()
	for i := range events {
		st.apply(&events[i])
	}
	return st.snapshot(instanceID, userID)
}

func (st *state) apply(e *contracts.Event) {
	st.eventCount++
	st.eventHashes = append(st.eventHashes, e.EventHash)

	switch e.EventType {
	case contracts.EventReflectionCreated, contracts.EventVoiceTranscribed:
		st.applyReflection(e)
	case contracts.EventPatternDetected:
		st.applyPattern(e)
	case contracts.EventTensionDetected:
		st.applyTension(e)
	case contracts.EventSafetySignal,
		contracts.EventViolationDetected,
		contracts.EventResponseShaped,
		contracts.EventAmendmentProposed,
		contracts.EventAmendmentVoted,
		contracts.EventForkAnnounced,
		contracts.EventUpdateRegistered:
		// Counted but identity-neutral.
	default:
		st.warn("unknown_event_seen: " + string(e.EventType))
	}
}

func (st *state) applyReflection(e *contracts.Event) {
	beliefs, ok := e.Payload["beliefs"].([]any)
	if !ok {
		return
	}
	for _, b := range beliefs {
		s, ok := b.(string)
		if !ok || s == "" || st.beliefSeen[s] {
			continue
		}
		st.beliefSeen[s] = true
		st.beliefs = append(st.beliefs, s)
	}
}

func (st *state) applyPattern(e *contracts.Event) {
	name, _ := e.Payload["name"].(string)
	if name == "" {
		return
	}
	ptype, _ := e.Payload["type"].(string)
	key := patternKey{Type: contracts.PatternType(ptype), Name: name}

	p, ok := st.patterns[key]
	if !ok {
		p = &contracts.Pattern{
			Type:      key.Type,
			Name:      name,
			FirstSeen: e.Timestamp.UTC(),
		}
		st.patterns[key] = p
		st.order = append(st.order, key)
	}
	p.Occurrences++
	p.LastSeen = e.Timestamp.UTC()
	p.Confidence = confidenceFor(p.Occurrences)
	p.Strength = contracts.StrengthFor(p.Occurrences)

	if ctx, ok := e.Payload["context"].(string); ok && ctx != "" && len(p.Contexts) < maxContextsPerPattern {
		p.Contexts = append(p.Contexts, clip(ctx, maxContextLength))
	}
}

func (st *state) applyTension(e *contracts.Event) {
	ttype, _ := e.Payload["type"].(string)
	desc, _ := e.Payload["description"].(string)
	if desc == "" {
		return
	}
	severity, _ := e.Payload["severity"].(float64)

	key := ttype + "\x00" + desc
	if idx, ok := st.tensionSeen[key]; ok {
		if severity > st.tensions[idx].Severity {
			st.tensions[idx].Severity = severity
		}
		return
	}

	t := contracts.Tension{
		Type:        contracts.TensionType(ttype),
		Description: desc,
		Severity:    severity,
	}
	if evidence, ok := e.Payload["evidence"].([]any); ok {
		for _, item := range evidence {
			if s, ok := item.(string); ok && s != "" {
				t.Evidence = append(t.Evidence, s)
			}
		}
	}
	st.tensionSeen[key] = len(st.tensions)
	st.tensions = append(st.tensions, t)
}

func (st *state) warn(msg string) {
	if st.warningSeen[msg] {
		return
	}
	st.warningSeen[msg] = true
	st.warnings = append(st.warnings, msg)
}

func (st *state) snapshot(instanceID, userID string) contracts.IdentitySnapshot {
	snap := contracts.IdentitySnapshot{
		InstanceID:       instanceID,
		UserID:           userID,
		Beliefs:          st.beliefs,
		Tensions:         st.tensions,
		EventCount:       st.eventCount,
		SourceMerkleRoot: merkle.Root(st.eventHashes),
		Warnings:         st.warnings,
	}

	keys := make([]patternKey, len(st.order))
	copy(keys, st.order)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Name < keys[j].Name
	})

	for _, k := range keys {
		p := st.patterns[k]
		// A signal seen once is noise; a pattern starts at two.
		if p.Occurrences < 2 {
			continue
		}
		snap.Patterns = append(snap.Patterns, *p)
	}

	snap.RecurringThemes = recurringThemes(snap.Patterns)
	snap.DominantEmotion = dominantEmotion(snap.Patterns)
	return snap
}

func recurringThemes(patterns []contracts.Pattern) []string {
	var topics []contracts.Pattern
	for _, p := range patterns {
		if p.Type == contracts.PatternTopic {
			topics = append(topics, p)
		}
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Occurrences != topics[j].Occurrences {
			return topics[i].Occurrences > topics[j].Occurrences
		}
		return topics[i].Name < topics[j].Name
	})
	var themes []string
	for _, p := range topics {
		themes = append(themes, p.Name)
	}
	return themes
}

func dominantEmotion(patterns []contracts.Pattern) string {
	best := ""
	bestCount := 0
	for _, p := range patterns {
		if p.Type != contracts.PatternEmotion {
			continue
		}
		if p.Occurrences > bestCount || (p.Occurrences == bestCount && p.Name < best) {
			best = p.Name
			bestCount = p.Occurrences
		}
	}
	return best
}

func confidenceFor(occurrences int) float64 {
	c := 0.2 * float64(occurrences)
	if c > 1 {
		return 1
	}
	return c
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back off to a rune boundary so clipping never splits a character.
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}
