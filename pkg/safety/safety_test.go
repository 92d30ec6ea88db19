package safety

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

func TestCheckDetectsCriticalIdeation(t *testing.T) {
	layer := NewLayer()
	signals := layer.Check(context.Background(), "I just want to end my life, nothing helps")

	require.NotEmpty(t, signals)
	assert.Equal(t, contracts.SafetyCritical, signals[0].Level)
	assert.Equal(t, contracts.CategorySuicidal, signals[0].Category)
	assert.Equal(t, "end my life", strings.ToLower(signals[0].Evidence))
	assert.NotEmpty(t, signals[0].Resources)
}

func TestCheckIsCaseInsensitive(t *testing.T) {
	layer := NewLayer()
	signals := layer.Check(context.Background(), "I WANT TO DIE")
	require.NotEmpty(t, signals)
	assert.Equal(t, contracts.SafetyCritical, Overall(signals))
}

func TestCheckRequiresWholeTokens(t *testing.T) {
	layer := NewLayer()

	// "therapist" contains "the rapist" only across a boundary; none of the
	// catalog phrases appear as whole tokens here.
	signals := layer.Check(context.Background(), "my therapist says skilling up helps")
	assert.Empty(t, signals)

	// "hopelessly devoted" does not contain the token "hopeless".
	signals = layer.Check(context.Background(), "feeling hopelessly devoted to this hobby")
	assert.Empty(t, signals)
}

func TestCheckWatchSignalsCarryNoResources(t *testing.T) {
	layer := NewLayer()
	signals := layer.Check(context.Background(), "everything feels hopeless lately")

	require.Len(t, signals, 1)
	assert.Equal(t, contracts.SafetyWatch, signals[0].Level)
	assert.Empty(t, signals[0].Resources)
}

func TestCheckOrdersBySeverity(t *testing.T) {
	layer := NewLayer()
	signals := layer.Check(context.Background(),
		"I feel hopeless and some days I want to die")

	require.GreaterOrEqual(t, len(signals), 2)
	for i := 1; i < len(signals); i++ {
		assert.GreaterOrEqual(t, signals[i-1].Level.Rank(), signals[i].Level.Rank())
	}
}

func TestCheckDeterministic(t *testing.T) {
	layer := NewLayer()
	text := "I feel hopeless, I want to die, and I'm not safe at home"
	first := layer.Check(context.Background(), text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, layer.Check(context.Background(), text))
	}
}

func TestEscalatePolicy(t *testing.T) {
	critical := []contracts.SafetySignal{{Level: contracts.SafetyCritical}}
	e := Escalate(critical)
	assert.True(t, e.ShortCircuit)
	assert.True(t, e.AttachResources)
	assert.True(t, e.NotifyGuardian)

	alert := []contracts.SafetySignal{{Level: contracts.SafetyAlert}}
	e = Escalate(alert)
	assert.False(t, e.ShortCircuit)
	assert.True(t, e.AttachResources)
	assert.True(t, e.NotifyGuardian)

	watch := []contracts.SafetySignal{{Level: contracts.SafetyWatch}}
	e = Escalate(watch)
	assert.False(t, e.ShortCircuit)
	assert.False(t, e.AttachResources)
	assert.False(t, e.NotifyGuardian)

	e = Escalate(nil)
	assert.Equal(t, contracts.SafetyNone, e.Level)
	assert.False(t, e.ShortCircuit)
}

func TestTruncateEvidence(t *testing.T) {
	long := strings.Repeat("a", 150)
	assert.Len(t, TruncateEvidence(long), EvidenceCap)
	assert.Equal(t, "short", TruncateEvidence("short"))
}

func TestCrisisResponseListsResources(t *testing.T) {
	text := CrisisResponse(DefaultResources())
	assert.Contains(t, text, "988")
	assert.Contains(t, text, "741741")
	assert.Contains(t, text, "emergency number")
}
