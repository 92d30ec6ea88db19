package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlabs/mirror/core/pkg/audit"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
	"github.com/mirrorlabs/mirror/core/pkg/eventlog"
	"github.com/mirrorlabs/mirror/core/pkg/semantic"
)

type fixture struct {
	pipeline *Pipeline
	log      *eventlog.Log
	trail    *audit.Trail
	notified []contracts.SafetyLevel
}

func newFixture(t *testing.T, generator Generator) *fixture {
	t.Helper()
	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)
	log := eventlog.New(eventlog.NewMemoryStore(), signer,
		func() []string { return []string{signer.PublicKey()} })

	f := &fixture{log: log, trail: audit.NewTrail()}
	f.pipeline = New(Config{
		InstanceID: "i1",
		Log:        log,
		Trail:      f.trail,
		Generator:  generator,
		Notify: func(_ string, level contracts.SafetyLevel, _ []contracts.SafetyCategory, _ []contracts.Resource) {
			f.notified = append(f.notified, level)
		},
	})
	return f
}

func request(content string, mode contracts.Mode) contracts.Reflection {
	return contracts.Reflection{
		ID:        "req-1",
		UserID:    "u1",
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Content:   content,
		Mode:      mode,
		Modality:  contracts.ModalityText,
	}
}

func echoGenerator(text string) Generator {
	return GeneratorFunc(func(context.Context, contracts.Reflection, semantic.Context) (string, error) {
		return text, nil
	})
}

func eventsOf(t *testing.T, f *fixture) []contracts.Event {
	t.Helper()
	events, err := f.log.ReadAll(context.Background(),
		eventlog.Stream{InstanceID: "i1", UserID: "u1"})
	require.NoError(t, err)
	return events
}

func TestCrisisShortCircuit(t *testing.T) {
	f := newFixture(t, echoGenerator("ignored"))
	res := f.pipeline.Process(context.Background(),
		request("I want to kill myself", contracts.ModePostAction), nil,
		contracts.DefaultPreferences(), "")

	assert.True(t, res.CrisisDetected)
	assert.True(t, res.Success)
	assert.Contains(t, res.Response, "988")
	assert.Equal(t, StageSafety, res.StageReached)
	require.Equal(t, []contracts.SafetyLevel{contracts.SafetyCritical}, f.notified)

	events := eventsOf(t, f)
	require.Len(t, events, 1)
	assert.Equal(t, contracts.EventSafetySignal, events[0].EventType)
	assert.Equal(t, "critical", events[0].Payload["level"])
	assert.Equal(t, "suicidal", events[0].Payload["category"])

	// L2 never ran: no semantic audit record exists.
	for _, e := range f.trail.Events() {
		assert.NotEqual(t, audit.EventSemanticComplete, e.Type)
	}
}

func TestAxiomViolationBlocksResponse(t *testing.T) {
	f := newFixture(t, nil)
	res := f.pipeline.Process(context.Background(),
		request("Feeling stressed", contracts.ModePostAction), nil,
		contracts.DefaultPreferences(),
		"You are definitely depressed and you need Mirror every day.")

	assert.False(t, res.Success)
	assert.Equal(t, FallbackText, res.Response)
	assert.Equal(t, contracts.KindViolation, res.ErrorKind)

	ids := make(map[contracts.AxiomID]bool)
	for _, v := range res.Violations {
		ids[v.AxiomID] = true
	}
	assert.True(t, ids[contracts.AxiomDiagnosis], "expected I4")
	assert.True(t, ids[contracts.AxiomNecessity], "expected I6")

	for _, e := range eventsOf(t, f) {
		assert.NotEqual(t, contracts.EventResponseShaped, e.EventType)
	}
}

func TestPatternEmergesAfterThreshold(t *testing.T) {
	f := newFixture(t, echoGenerator("Noted."))
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	var history []contracts.Reflection
	for i := 0; i < 3; i++ {
		history = append(history, contracts.Reflection{
			ID:        "h",
			UserID:    "u1",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Content:   "Feeling anxious again",
			Mode:      contracts.ModeFreeform,
		})
	}
	res := f.pipeline.Process(context.Background(),
		request("Still anxious today", contracts.ModeFreeform), history,
		contracts.DefaultPreferences(), "")
	require.True(t, res.Success)

	var patterns []contracts.Event
	for _, e := range eventsOf(t, f) {
		if e.EventType == contracts.EventPatternDetected {
			patterns = append(patterns, e)
		}
	}
	require.Len(t, patterns, 1)
	assert.Equal(t, "emotion", patterns[0].Payload["type"])
	assert.Equal(t, "anxiety", patterns[0].Payload["name"])
}

func TestSuccessAppendsDeliveredEventsOnly(t *testing.T) {
	f := newFixture(t, echoGenerator("A quiet day can still hold a lot."))
	res := f.pipeline.Process(context.Background(),
		request("Just a quiet day", contracts.ModeFreeform), nil,
		contracts.DefaultPreferences(), "")

	require.True(t, res.Success)
	assert.Equal(t, StageComplete, res.StageReached)
	assert.NotEmpty(t, res.Response)

	events := eventsOf(t, f)
	require.NotEmpty(t, events)
	assert.Equal(t, contracts.EventReflectionCreated, events[0].EventType)
	assert.Equal(t, contracts.EventResponseShaped, events[len(events)-1].EventType)

	ok, _ := f.trail.VerifyIntegrity()
	assert.True(t, ok)
}

func TestMalformedRequestRejected(t *testing.T) {
	f := newFixture(t, nil)

	res := f.pipeline.Process(context.Background(),
		request("", contracts.ModeFreeform), nil, contracts.DefaultPreferences(), "x")
	assert.False(t, res.Success)
	assert.Equal(t, contracts.KindMalformedInput, res.ErrorKind)

	bad := request("hello", contracts.Mode("DREAM"))
	res = f.pipeline.Process(context.Background(), bad, nil, contracts.DefaultPreferences(), "x")
	assert.Equal(t, contracts.KindMalformedInput, res.ErrorKind)

	assert.Empty(t, eventsOf(t, f))
}

func TestDeadlineExceededFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.pipeline.Process(ctx,
		request("hello there", contracts.ModeFreeform), nil,
		contracts.DefaultPreferences(), "fine text")
	assert.False(t, res.Success)
	assert.Equal(t, contracts.KindDeadlineExceeded, res.ErrorKind)
	assert.Empty(t, eventsOf(t, f))
}

func TestGeneratorErrorFailsClosed(t *testing.T) {
	f := newFixture(t, GeneratorFunc(
		func(context.Context, contracts.Reflection, semantic.Context) (string, error) {
			return "", errors.New("provider unavailable")
		}))
	res := f.pipeline.Process(context.Background(),
		request("hello there", contracts.ModeFreeform), nil,
		contracts.DefaultPreferences(), "")
	assert.False(t, res.Success)
	assert.Equal(t, contracts.KindInternal, res.ErrorKind)
	assert.Equal(t, FallbackText, res.Response)
}

func TestGeneratorPanicFailsClosed(t *testing.T) {
	f := newFixture(t, GeneratorFunc(
		func(context.Context, contracts.Reflection, semantic.Context) (string, error) {
			panic("provider bug")
		}))
	res := f.pipeline.Process(context.Background(),
		request("hello there", contracts.ModeFreeform), nil,
		contracts.DefaultPreferences(), "")
	assert.False(t, res.Success)
	assert.Equal(t, contracts.KindInternal, res.ErrorKind)
	require.NotEmpty(t, res.Violations)
	assert.Equal(t, "internal error", res.Violations[0].Reason)

	// The audit record is still emitted on the panic path.
	var decided bool
	for _, e := range f.trail.Events() {
		if e.Type == audit.EventPipelineDecision {
			decided = true
		}
	}
	assert.True(t, decided)
}

func TestFailClosedProperty(t *testing.T) {
	f := newFixture(t, nil)
	candidates := []string{
		"You should quit your job immediately.",
		"We'll miss you. Don't leave. You need Mirror.",
		"A calm observation about the day.",
		"Deep down you really want to give up.",
	}
	for _, candidate := range candidates {
		req := request("Thinking things over", contracts.ModeFreeform)
		res := f.pipeline.Process(context.Background(), req, nil,
			contracts.DefaultPreferences(), candidate)
		if res.Success {
			layer := f.pipeline.constitution
			assert.Empty(t, layer.CheckResponse(req, res.Response), "candidate=%q", candidate)
			assert.Empty(t, f.pipeline.shaper.Validate(res.Response), "candidate=%q", candidate)
		} else {
			assert.NotEmpty(t, res.Violations, "candidate=%q", candidate)
		}
	}
}
