package semantic

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

func utterance(i int, content string) contracts.Reflection {
	return contracts.Reflection{
		ID:        "r" + string(rune('0'+i)),
		UserID:    "u1",
		Timestamp: time.Date(2026, 8, 1, 12, 0, i, 0, time.UTC),
		Content:   content,
		Mode:      contracts.ModeFreeform,
	}
}

func findPattern(ctx Context, ptype contracts.PatternType, name string) (contracts.Pattern, bool) {
	for _, p := range ctx.Patterns {
		if p.Type == ptype && p.Name == name {
			return p, true
		}
	}
	return contracts.Pattern{}, false
}

func TestAnalyzeDetectsEmotionPattern(t *testing.T) {
	a := NewAnalyzer()
	history := []contracts.Reflection{
		utterance(1, "Feeling anxious about the deadline"),
		utterance(2, "Still worried about work"),
	}
	ctx := a.Analyze(utterance(3, "So nervous today"), history)

	p, ok := findPattern(ctx, contracts.PatternEmotion, "anxiety")
	require.True(t, ok)
	assert.Equal(t, 3, p.Occurrences)
	assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	assert.Equal(t, contracts.StrengthModerate, p.Strength)
	assert.Len(t, p.Contexts, 3)
	assert.LessOrEqual(t, len(p.Contexts[0]), 80)
}

func TestAnalyzeSuppressesSingleOccurrences(t *testing.T) {
	a := NewAnalyzer()
	ctx := a.Analyze(utterance(1, "I was happy once at the office"), nil)
	_, ok := findPattern(ctx, contracts.PatternEmotion, "joy")
	assert.False(t, ok)
}

func TestAnalyzeDetectsTopicAndThemes(t *testing.T) {
	a := NewAnalyzer()
	history := []contracts.Reflection{
		utterance(1, "My boss moved the deadline again"),
		utterance(2, "Another meeting about the project"),
		utterance(3, "Slept badly, skipped the gym"),
	}
	ctx := a.Analyze(utterance(4, "Work is eating everything, no sleep"), history)

	work, ok := findPattern(ctx, contracts.PatternTopic, "work")
	require.True(t, ok)
	assert.GreaterOrEqual(t, work.Occurrences, 4)
	require.NotEmpty(t, ctx.RecurringThemes)
	assert.Equal(t, "work", ctx.RecurringThemes[0])
}

func TestAnalyzeDetectsBehaviorAcrossInflections(t *testing.T) {
	a := NewAnalyzer()
	history := []contracts.Reflection{
		utterance(1, "Went running this morning"),
		utterance(2, "I ran again before breakfast"),
	}
	ctx := a.Analyze(utterance(3, "Another run planned"), history)

	p, ok := findPattern(ctx, contracts.PatternBehavior, "exercising")
	require.True(t, ok)
	assert.Equal(t, 3, p.Occurrences)
}

func TestEmotionalBaselineExcludesCurrent(t *testing.T) {
	a := NewAnalyzer()
	history := []contracts.Reflection{
		utterance(1, "Feeling calm and peaceful"),
		utterance(2, "Calm again, relaxed"),
	}
	ctx := a.Analyze(utterance(3, "Anxious anxious anxious today"), history)
	assert.Equal(t, "calm", ctx.EmotionalBaseline)
}

func TestEmotionalTensionRequiresConfidence(t *testing.T) {
	a := NewAnalyzer()

	// Two occurrences each: confidence 0.4, below the 0.5 threshold.
	weak := a.Analyze(utterance(3, "anxious but calm"),
		[]contracts.Reflection{utterance(1, "anxious and calm")})
	for _, tension := range weak.Tensions {
		assert.NotEqual(t, contracts.TensionEmotional, tension.Type)
	}

	// Three occurrences each: confidence 0.6.
	history := []contracts.Reflection{
		utterance(1, "anxious yet calm"),
		utterance(2, "worried but peaceful"),
	}
	strong := a.Analyze(utterance(3, "nervous and relaxed at once"), history)
	var found *contracts.Tension
	for i := range strong.Tensions {
		if strong.Tensions[i].Type == contracts.TensionEmotional {
			found = &strong.Tensions[i]
		}
	}
	require.NotNil(t, found)
	assert.InDelta(t, 0.6, found.Severity, 1e-9)
}

func TestBehavioralTensionOnUnmetIntention(t *testing.T) {
	a := NewAnalyzer()
	history := []contracts.Reflection{
		utterance(1, "I should exercise this week"),
		utterance(2, "Watched shows all evening"),
	}
	ctx := a.Analyze(utterance(3, "Tired again"), history)

	var found bool
	for _, tension := range ctx.Tensions {
		if tension.Type == contracts.TensionBehavioral {
			found = true
			assert.Contains(t, tension.Description, "exercise")
		}
	}
	assert.True(t, found)
}

func TestBehavioralTensionClearedByAction(t *testing.T) {
	a := NewAnalyzer()
	history := []contracts.Reflection{
		utterance(1, "I should exercise this week"),
		utterance(2, "Exercised before work today"),
	}
	ctx := a.Analyze(utterance(3, "Feeling better"), history)
	for _, tension := range ctx.Tensions {
		assert.NotEqual(t, contracts.TensionBehavioral, tension.Type)
	}
}

func TestTemporalAndValueTensions(t *testing.T) {
	a := NewAnalyzer()
	history := []contracts.Reflection{
		utterance(1, "I used to paint every week but now I never do"),
		utterance(2, "I value honesty but I keep quiet in meetings"),
	}
	ctx := a.Analyze(utterance(3, "Same as always"), history)

	types := make(map[contracts.TensionType]bool)
	for _, tension := range ctx.Tensions {
		types[tension.Type] = true
	}
	assert.True(t, types[contracts.TensionTemporal])
	assert.True(t, types[contracts.TensionValue])
}

func TestExplicitContradictionTension(t *testing.T) {
	a := NewAnalyzer()
	ctx := a.Analyze(utterance(1, "I'm happy about the move but so sad to leave"), nil)

	var found bool
	for _, tension := range ctx.Tensions {
		if tension.Type == contracts.TensionContradiction {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := NewAnalyzer()
	history := []contracts.Reflection{
		utterance(1, "anxious about work, skipped the gym"),
		utterance(2, "calm but worried, boss again, I should run"),
	}
	current := utterance(3, "happy however sad, used to sleep well now I don't")

	first, err := json.Marshal(a.Analyze(current, history))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := json.Marshal(a.Analyze(current, history))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestTokenizeAndStem(t *testing.T) {
	assert.Equal(t, []string{"i", "can't", "sleep", "tonight"}, Tokenize("I can't sleep, tonight!"))
	assert.Equal(t, "run", Stem("running"))
	assert.Equal(t, "run", Stem("runs"))
	assert.Equal(t, "skip", Stem("skipped"))
	assert.Equal(t, "walk", Stem("walked"))
}
