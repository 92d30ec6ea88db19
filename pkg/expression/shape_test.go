package expression

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/semantic"
)

func prefs() contracts.Preferences {
	return contracts.DefaultPreferences()
}

func TestShapeSoftensDirectives(t *testing.T) {
	s := NewShaper()
	out := s.Shape("You should rest. You must slow down. You need to breathe.",
		prefs(), semantic.Context{})
	assert.NotContains(t, strings.ToLower(out), "you should")
	assert.NotContains(t, strings.ToLower(out), "you must")
	assert.NotContains(t, strings.ToLower(out), "you need to")
	assert.Contains(t, strings.ToLower(out), "you could")
}

func TestShapeRemovesNecessityAndExitGuiltSentences(t *testing.T) {
	s := NewShaper()
	out := s.Shape("Today was hard. Keep using Mirror daily! We'll miss you if you go. Rest helps.",
		prefs(), semantic.Context{})
	assert.Contains(t, out, "Today was hard.")
	assert.Contains(t, out, "Rest helps.")
	assert.NotContains(t, strings.ToLower(out), "keep using")
	assert.NotContains(t, strings.ToLower(out), "miss you")
}

func TestShapeLeaveabilityOverridesTone(t *testing.T) {
	s := NewShaper()
	p := prefs()
	p.Tone = contracts.ToneDirect
	out := s.Shape("Don't leave. You should push harder.", p, semantic.Context{})
	assert.NotContains(t, strings.ToLower(out), "don't leave")
	assert.NotContains(t, strings.ToLower(out), "you should")
}

func TestShapeWarmToneAddsAcknowledgementOnce(t *testing.T) {
	s := NewShaper()
	p := prefs()
	p.Tone = contracts.ToneWarm
	once := s.Shape("Long day at work.", p, semantic.Context{})
	assert.True(t, strings.HasPrefix(once, "That sounds like a lot to carry."))
	twice := s.Shape(once, p, semantic.Context{})
	assert.Equal(t, 1, strings.Count(twice, "That sounds like a lot to carry."))
}

func TestShapeClinicalRemovesIntensifiers(t *testing.T) {
	s := NewShaper()
	p := prefs()
	p.Tone = contracts.ToneClinical
	out := s.Shape("That was really hard and deeply unsettling.", p, semantic.Context{})
	assert.NotContains(t, strings.ToLower(out), "really")
	assert.NotContains(t, strings.ToLower(out), "deeply")
}

func TestShapeDirectStripsHedges(t *testing.T) {
	s := NewShaper()
	p := prefs()
	p.Tone = contracts.ToneDirect
	out := s.Shape("Perhaps the meeting felt long. Maybe a pause helps.", p, semantic.Context{})
	assert.NotContains(t, strings.ToLower(out), "perhaps")
	assert.NotContains(t, strings.ToLower(out), "maybe")
}

func TestShapeBriefKeepsTwoSentences(t *testing.T) {
	s := NewShaper()
	p := prefs()
	p.DetailLevel = contracts.DetailBrief
	out := s.Shape("One. Two. Three. Four.", p, semantic.Context{})
	assert.Equal(t, "One. Two.", out)
}

func TestShapeCapsAtSentenceBoundary(t *testing.T) {
	s := NewShaper()
	p := prefs()
	p.MaxLength = 40
	out := s.Shape("A first sentence that fits neatly here. Then a much longer trailing sentence that cannot fit.",
		p, semantic.Context{})
	assert.Equal(t, "A first sentence that fits neatly here.", out)
}

func TestShapeHardTruncatesWithEllipsis(t *testing.T) {
	s := NewShaper()
	p := prefs()
	p.MaxLength = 40
	out := s.Shape(strings.Repeat("word ", 30), p, semantic.Context{})
	assert.LessOrEqual(t, len(out), 40)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestShapeAnxietySofteningOnStrongPattern(t *testing.T) {
	s := NewShaper()
	ctx := semantic.Context{Patterns: []contracts.Pattern{{
		Type: contracts.PatternEmotion, Name: "anxiety",
		Occurrences: 5, Strength: contracts.StrengthStrong,
	}}}
	out := s.Shape("You should take a break.", prefs(), ctx)
	assert.NotContains(t, strings.ToLower(out), "you could")
	assert.Contains(t, strings.ToLower(out), "one option might be to")

	weak := semantic.Context{Patterns: []contracts.Pattern{{
		Type: contracts.PatternEmotion, Name: "anxiety",
		Occurrences: 2, Strength: contracts.StrengthEmerging,
	}}}
	out = s.Shape("You should take a break.", prefs(), weak)
	assert.Contains(t, strings.ToLower(out), "you could")
}

func TestValidatePostCondition(t *testing.T) {
	s := NewShaper()
	inputs := []string{
		"You should rest more. You need Mirror to survive. We'll miss you.",
		"You really should slow down, don't leave now.",
		"Plain reflective text with nothing to fix.",
		"You must act. You have to decide. You ought to choose.",
		"",
	}
	for _, tone := range []contracts.Tone{
		contracts.ToneWarm, contracts.ToneClinical, contracts.ToneDirect, contracts.ToneBalanced,
	} {
		p := prefs()
		p.Tone = tone
		for _, in := range inputs {
			shaped := s.Shape(in, p, semantic.Context{})
			assert.Empty(t, s.Validate(shaped), "tone=%s input=%q shaped=%q", tone, in, shaped)
		}
	}
}

func TestValidateFlagsRawDirectives(t *testing.T) {
	s := NewShaper()
	violations := s.Validate("You should quit. Keep using Mirror.")
	require.Len(t, violations, 2)
	assert.Equal(t, contracts.AxiomAdvice, violations[0].AxiomID)
	assert.Equal(t, contracts.AxiomNecessity, violations[1].AxiomID)
}
