package replay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/merkle"
)

func event(i int, eventType contracts.EventType, payload map[string]any) contracts.Event {
	return contracts.Event{
		ID:        "e" + string(rune('0'+i)),
		Timestamp: time.Date(2026, 8, 1, 12, 0, i, 0, time.UTC),
		EventType: eventType,
		Payload:   payload,
		EventHash: "hash-" + string(rune('0'+i)),
	}
}

func TestReplayEmptyStream(t *testing.T) {
	snap := Replay(nil, "i1", "u1")
	assert.Equal(t, 0, snap.EventCount)
	assert.Empty(t, snap.Patterns)
	assert.Empty(t, snap.SourceMerkleRoot)
}

func TestReplayCountsPatternOccurrences(t *testing.T) {
	events := []contracts.Event{
		event(1, contracts.EventPatternDetected, map[string]any{"type": "emotion", "name": "anxiety", "context": "work deadline"}),
		event(2, contracts.EventPatternDetected, map[string]any{"type": "emotion", "name": "anxiety", "context": "late nights"}),
		event(3, contracts.EventPatternDetected, map[string]any{"type": "emotion", "name": "anxiety"}),
	}
	snap := Replay(events, "i1", "u1")

	require.Len(t, snap.Patterns, 1)
	p := snap.Patterns[0]
	assert.Equal(t, "anxiety", p.Name)
	assert.Equal(t, 3, p.Occurrences)
	assert.Equal(t, contracts.StrengthModerate, p.Strength)
	assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	assert.Equal(t, events[0].Timestamp, p.FirstSeen)
	assert.Equal(t, events[2].Timestamp, p.LastSeen)
	assert.Equal(t, []string{"work deadline", "late nights"}, p.Contexts)
	assert.Equal(t, "anxiety", snap.DominantEmotion)
}

func TestReplaySuppressesSingletonPatterns(t *testing.T) {
	events := []contracts.Event{
		event(1, contracts.EventPatternDetected, map[string]any{"type": "emotion", "name": "joy"}),
	}
	snap := Replay(events, "i1", "u1")
	assert.Empty(t, snap.Patterns)
	assert.Equal(t, 1, snap.EventCount)
}

func TestReplayConfidenceCapsAtOne(t *testing.T) {
	var events []contracts.Event
	for i := 0; i < 7; i++ {
		events = append(events, event(i, contracts.EventPatternDetected,
			map[string]any{"type": "emotion", "name": "anxiety"}))
	}
	snap := Replay(events, "i1", "u1")
	require.Len(t, snap.Patterns, 1)
	assert.Equal(t, 1.0, snap.Patterns[0].Confidence)
	assert.Equal(t, contracts.StrengthStrong, snap.Patterns[0].Strength)
}

func TestReplayRecurringThemesOrdering(t *testing.T) {
	var events []contracts.Event
	add := func(name string, times int) {
		for i := 0; i < times; i++ {
			events = append(events, event(len(events)%10, contracts.EventPatternDetected,
				map[string]any{"type": "topic", "name": name}))
		}
	}
	add("work", 2)
	add("family", 4)
	add("sleep", 2)

	snap := Replay(events, "i1", "u1")
	assert.Equal(t, []string{"family", "sleep", "work"}, snap.RecurringThemes)
}

func TestReplayTensionsDedupeAndKeepMaxSeverity(t *testing.T) {
	events := []contracts.Event{
		event(1, contracts.EventTensionDetected, map[string]any{
			"type": "value", "description": "wants rest but overcommits",
			"severity": 0.4, "evidence": []any{"said yes again"},
		}),
		event(2, contracts.EventTensionDetected, map[string]any{
			"type": "value", "description": "wants rest but overcommits",
			"severity": 0.7,
		}),
	}
	snap := Replay(events, "i1", "u1")
	require.Len(t, snap.Tensions, 1)
	assert.Equal(t, contracts.TensionValue, snap.Tensions[0].Type)
	assert.Equal(t, 0.7, snap.Tensions[0].Severity)
	assert.Equal(t, []string{"said yes again"}, snap.Tensions[0].Evidence)
}

func TestReplayBeliefsDedupedInOrder(t *testing.T) {
	events := []contracts.Event{
		event(1, contracts.EventReflectionCreated, map[string]any{
			"content": "x", "beliefs": []any{"honesty matters", "rest is earned"},
		}),
		event(2, contracts.EventReflectionCreated, map[string]any{
			"content": "y", "beliefs": []any{"rest is earned", "family first"},
		}),
	}
	snap := Replay(events, "i1", "u1")
	assert.Equal(t, []string{"honesty matters", "rest is earned", "family first"}, snap.Beliefs)
}

func TestReplayUnknownEventTypeWarnsOnce(t *testing.T) {
	events := []contracts.Event{
		event(1, contracts.EventType("hologram_recorded"), map[string]any{}),
		event(2, contracts.EventType("hologram_recorded"), map[string]any{}),
		event(3, contracts.EventReflectionCreated, map[string]any{"content": "x"}),
	}
	snap := Replay(events, "i1", "u1")
	assert.Equal(t, []string{"unknown_event_seen: hologram_recorded"}, snap.Warnings)
	assert.Equal(t, 3, snap.EventCount)
}

func TestReplayDeterministicBytes(t *testing.T) {
	events := []contracts.Event{
		event(1, contracts.EventPatternDetected, map[string]any{"type": "emotion", "name": "anxiety"}),
		event(2, contracts.EventPatternDetected, map[string]any{"type": "topic", "name": "work"}),
		event(3, contracts.EventPatternDetected, map[string]any{"type": "emotion", "name": "anxiety"}),
		event(4, contracts.EventPatternDetected, map[string]any{"type": "topic", "name": "work"}),
		event(5, contracts.EventTensionDetected, map[string]any{"type": "emotional", "description": "d", "severity": 0.5}),
	}

	first, err := json.Marshal(Replay(events, "i1", "u1"))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := json.Marshal(Replay(events, "i1", "u1"))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestReplayMerkleRootBindsEventSequence(t *testing.T) {
	events := []contracts.Event{
		event(1, contracts.EventReflectionCreated, map[string]any{"content": "a"}),
		event(2, contracts.EventReflectionCreated, map[string]any{"content": "b"}),
	}
	snap := Replay(events, "i1", "u1")
	assert.Equal(t, merkle.Root([]string{"hash-1", "hash-2"}), snap.SourceMerkleRoot)

	swapped := []contracts.Event{events[1], events[0]}
	assert.NotEqual(t, snap.SourceMerkleRoot, Replay(swapped, "i1", "u1").SourceMerkleRoot)
}

func TestCacheRoundTripAndFreshness(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)

	snap := Replay([]contracts.Event{
		event(1, contracts.EventReflectionCreated, map[string]any{"content": "a"}),
	}, "i1", "u1")
	require.NoError(t, cache.Put(snap))

	got, ok := cache.Get("i1", "u1")
	require.True(t, ok)
	assert.Equal(t, snap, got)

	_, ok = cache.GetFresh("i1", "u1", snap.SourceMerkleRoot)
	assert.True(t, ok)
	_, ok = cache.GetFresh("i1", "u1", "another-root")
	assert.False(t, ok)
	_, ok = cache.Get("i1", "missing")
	assert.False(t, ok)
}
