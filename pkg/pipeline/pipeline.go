// Package pipeline orchestrates one reflection through the layered
// checks: admission, safety, constitution, semantics, generation,
// shaping, validation, persistence. The pipeline fails closed: any
// panic or stage error blocks the response, and user events are only
// appended after a response has passed every check, so the event log
// records delivered responses only.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mirrorlabs/mirror/core/pkg/audit"
	"github.com/mirrorlabs/mirror/core/pkg/constitution"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/eventlog"
	"github.com/mirrorlabs/mirror/core/pkg/expression"
	"github.com/mirrorlabs/mirror/core/pkg/safety"
	"github.com/mirrorlabs/mirror/core/pkg/semantic"
)

// FallbackText replaces any blocked response. Violation kinds travel in
// the result; raw internal detail never reaches the user.
const FallbackText = "I can't offer a response to this one right now."

// Stage numbers as reported in Result.StageReached.
const (
	StageAdmission       = 1
	StageSafety          = 2
	StageRequestCheck    = 3
	StageSemantics       = 4
	StageGeneration      = 5
	StageResponseCheck   = 6
	StageShaping         = 7
	StageValidation      = 8
	StagePersistence     = 9
	StageComplete        = 10
)

// Generator produces candidate responses. The pipeline treats the output
// as untrusted text that must still pass every check.
type Generator interface {
	Generate(ctx context.Context, r contracts.Reflection, sem semantic.Context) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, r contracts.Reflection, sem semantic.Context) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, r contracts.Reflection, sem semantic.Context) (string, error) {
	return f(ctx, r, sem)
}

// NotifyFunc is the external guardian notification hook.
type NotifyFunc func(userID string, level contracts.SafetyLevel, categories []contracts.SafetyCategory, resources []contracts.Resource)

// Result is the pipeline outcome for one reflection.
type Result struct {
	Success         bool                    `json:"success"`
	Response        string                  `json:"response"`
	Violations      []contracts.Violation   `json:"violations,omitempty"`
	Signals         []contracts.SafetySignal `json:"signals,omitempty"`
	CrisisDetected  bool                    `json:"crisis_detected"`
	ErrorKind       contracts.ErrorKind     `json:"error_kind,omitempty"`
	StageReached    int                     `json:"stage_reached"`
	ExecutionTimeMS int64                   `json:"execution_time_ms"`
}

// Pipeline wires the layers together for one instance.
type Pipeline struct {
	instanceID   string
	safety       *safety.Layer
	constitution *constitution.Layer
	semantic     *semantic.Analyzer
	shaper       *expression.Shaper
	log          *eventlog.Log
	trail        *audit.Trail
	generator    Generator
	notify       NotifyFunc
	logger       *slog.Logger
	clock        func() time.Time
}

// Config collects pipeline dependencies.
type Config struct {
	InstanceID string
	Safety     *safety.Layer
	Axioms     *constitution.Layer
	Semantic   *semantic.Analyzer
	Shaper     *expression.Shaper
	Log        *eventlog.Log
	Trail      *audit.Trail
	Generator  Generator
	Notify     NotifyFunc
	Logger     *slog.Logger
}

// New builds a Pipeline. Nil layers get standard implementations; Log,
// Trail, and Generator must be supplied by the caller.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		instanceID:   cfg.InstanceID,
		safety:       cfg.Safety,
		constitution: cfg.Axioms,
		semantic:     cfg.Semantic,
		shaper:       cfg.Shaper,
		log:          cfg.Log,
		trail:        cfg.Trail,
		generator:    cfg.Generator,
		notify:       cfg.Notify,
		logger:       cfg.Logger,
		clock:        time.Now,
	}
	if p.safety == nil {
		p.safety = safety.NewLayer()
	}
	if p.constitution == nil {
		p.constitution = constitution.NewLayer()
	}
	if p.semantic == nil {
		p.semantic = semantic.NewAnalyzer()
	}
	if p.shaper == nil {
		p.shaper = expression.NewShaper()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// WithClock overrides the clock for testing.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// Process runs one reflection through all stages. An empty candidate asks
// the generator for one; a non-empty candidate skips generation.
func (p *Pipeline) Process(ctx context.Context, req contracts.Reflection, history []contracts.Reflection, prefs contracts.Preferences, candidate string) (result Result) {
	start := p.clock()
	defer func() {
		result.ExecutionTimeMS = p.clock().Sub(start).Milliseconds()
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic", "request_id", req.ID, "panic", fmt.Sprint(r))
			result = p.blocked(result, contracts.KindInternal, contracts.Violation{
				Severity: "fatal",
				Reason:   "internal error",
			})
			result.ExecutionTimeMS = p.clock().Sub(start).Milliseconds()
			p.decide(req.ID, result)
		}
	}()

	// Stage 1: admission.
	result.StageReached = StageAdmission
	p.stage(req.ID, StageAdmission)
	if err := p.deadline(ctx); err != nil {
		return p.failed(req, result, contracts.KindDeadlineExceeded)
	}
	if req.UserID == "" || len(req.Content) == 0 || !validMode(req.Mode) {
		return p.failed(req, result, contracts.KindMalformedInput)
	}

	// Stage 2: L1 safety.
	result.StageReached = StageSafety
	p.stage(req.ID, StageSafety)
	signals := p.safety.Check(ctx, req.Content)
	result.Signals = signals
	for _, s := range signals {
		p.record(audit.EventSafetySignal, req.ID, map[string]any{
			"level":    string(s.Level),
			"category": string(s.Category),
			"evidence": safety.TruncateEvidence(s.Evidence),
		})
	}
	esc := safety.Escalate(signals)
	if esc.NotifyGuardian && p.notify != nil {
		p.notify(req.UserID, esc.Level, categories(signals), safety.DefaultResources())
	}
	if esc.ShortCircuit {
		result.CrisisDetected = true
		result.Success = true
		result.Response = safety.CrisisResponse(safety.DefaultResources())
		// The crisis path still records its safety events: no signal is
		// ever silently dropped, even when later stages never run.
		if p.log != nil {
			stream := eventlog.Stream{InstanceID: p.instanceID, UserID: req.UserID}
			for _, sig := range signals {
				if _, err := p.log.Append(ctx, stream, contracts.EventSafetySignal, map[string]any{
					"level":    string(sig.Level),
					"category": string(sig.Category),
				}); err != nil {
					p.logger.Error("safety event append failed", "request_id", req.ID, "error", err)
				}
			}
		}
		p.decide(req.ID, result)
		return result
	}

	// Stage 3: L0 on the request.
	result.StageReached = StageRequestCheck
	p.stage(req.ID, StageRequestCheck)
	if err := p.deadline(ctx); err != nil {
		return p.failed(req, result, contracts.KindDeadlineExceeded)
	}
	if violations := p.constitution.CheckRequest(req); len(violations) > 0 {
		return p.blockedAndDecided(req, result, violations)
	}

	// Stage 4: L2 analysis.
	result.StageReached = StageSemantics
	p.stage(req.ID, StageSemantics)
	sem := p.semantic.Analyze(req, history)
	p.record(audit.EventSemanticComplete, req.ID, map[string]any{
		"patterns": len(sem.Patterns),
		"tensions": len(sem.Tensions),
	})

	// Stage 5: response generation.
	result.StageReached = StageGeneration
	p.stage(req.ID, StageGeneration)
	if err := p.deadline(ctx); err != nil {
		return p.failed(req, result, contracts.KindDeadlineExceeded)
	}
	if candidate == "" {
		if p.generator == nil {
			return p.failed(req, result, contracts.KindInternal)
		}
		text, err := p.generator.Generate(ctx, req, sem)
		if err != nil {
			p.logger.Error("generation failed", "request_id", req.ID, "error", err)
			return p.failed(req, result, contracts.KindInternal)
		}
		candidate = text
	}

	// Stage 6: L0 on the response.
	result.StageReached = StageResponseCheck
	p.stage(req.ID, StageResponseCheck)
	if violations := p.constitution.CheckResponse(req, candidate); len(violations) > 0 {
		for _, v := range violations {
			p.record(audit.EventAxiomViolation, req.ID, map[string]any{
				"axiom_id": string(v.AxiomID),
				"evidence": safety.TruncateEvidence(v.Evidence),
			})
		}
		return p.blockedAndDecided(req, result, violations)
	}

	// Stage 7: L3 shaping.
	result.StageReached = StageShaping
	p.stage(req.ID, StageShaping)
	shaped := p.shaper.Shape(candidate, prefs, sem)
	p.record(audit.EventExpressionComplete, req.ID, map[string]any{
		"length": len(shaped),
	})

	// Stage 8: L3 validation.
	result.StageReached = StageValidation
	p.stage(req.ID, StageValidation)
	if violations := p.shaper.Validate(shaped); len(violations) > 0 {
		return p.blockedAndDecided(req, result, violations)
	}

	// Stage 9: persist derived events.
	result.StageReached = StagePersistence
	p.stage(req.ID, StagePersistence)
	if err := p.deadline(ctx); err != nil {
		return p.failed(req, result, contracts.KindDeadlineExceeded)
	}
	if err := p.persist(ctx, req, sem, signals, shaped); err != nil {
		p.logger.Error("persistence failed", "request_id", req.ID, "error", err)
		return p.failed(req, result, contracts.KindInternal)
	}

	// Stage 10: success.
	result.StageReached = StageComplete
	result.Success = true
	result.Response = shaped
	p.decide(req.ID, result)
	return result
}

func (p *Pipeline) persist(ctx context.Context, req contracts.Reflection, sem semantic.Context, signals []contracts.SafetySignal, shaped string) error {
	if p.log == nil {
		return nil
	}
	stream := eventlog.Stream{InstanceID: p.instanceID, UserID: req.UserID}

	if _, err := p.log.Append(ctx, stream, contracts.EventReflectionCreated, map[string]any{
		"reflection_id": req.ID,
		"content":       req.Content,
		"mode":          string(req.Mode),
		"modality":      string(req.Modality),
	}); err != nil {
		return err
	}
	for _, pat := range sem.Patterns {
		if _, err := p.log.Append(ctx, stream, contracts.EventPatternDetected, map[string]any{
			"type":    string(pat.Type),
			"name":    pat.Name,
			"context": first(pat.Contexts),
		}); err != nil {
			return err
		}
	}
	for _, ten := range sem.Tensions {
		if _, err := p.log.Append(ctx, stream, contracts.EventTensionDetected, map[string]any{
			"type":        string(ten.Type),
			"description": ten.Description,
			"severity":    ten.Severity,
		}); err != nil {
			return err
		}
	}
	for _, sig := range signals {
		if _, err := p.log.Append(ctx, stream, contracts.EventSafetySignal, map[string]any{
			"level":    string(sig.Level),
			"category": string(sig.Category),
		}); err != nil {
			return err
		}
	}
	if _, err := p.log.Append(ctx, stream, contracts.EventResponseShaped, map[string]any{
		"reflection_id": req.ID,
		"length":        len(shaped),
	}); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) deadline(ctx context.Context) error {
	return ctx.Err()
}

func (p *Pipeline) stage(requestID string, stage int) {
	p.record(audit.EventStageEntered, requestID, map[string]any{"stage": stage})
}

func (p *Pipeline) record(eventType audit.EventType, requestID string, data map[string]any) {
	if p.trail == nil {
		return
	}
	if _, err := p.trail.Record(eventType, requestID, data); err != nil {
		p.logger.Error("audit record failed", "request_id", requestID, "error", err)
	}
}

func (p *Pipeline) decide(requestID string, result Result) {
	p.record(audit.EventPipelineDecision, requestID, map[string]any{
		"success":        result.Success,
		"stage_reached":  result.StageReached,
		"violations":     len(result.Violations),
		"crisis":         result.CrisisDetected,
		"error_kind":     string(result.ErrorKind),
	})
}

func (p *Pipeline) blocked(result Result, kind contracts.ErrorKind, violations ...contracts.Violation) Result {
	result.Success = false
	result.Response = FallbackText
	result.ErrorKind = kind
	result.Violations = append(result.Violations, violations...)
	return result
}

func (p *Pipeline) blockedAndDecided(req contracts.Reflection, result Result, violations []contracts.Violation) Result {
	out := p.blocked(result, contracts.KindViolation, violations...)
	p.decide(req.ID, out)
	return out
}

func (p *Pipeline) failed(req contracts.Reflection, result Result, kind contracts.ErrorKind) Result {
	out := p.blocked(result, kind)
	p.decide(req.ID, out)
	return out
}

func validMode(m contracts.Mode) bool {
	switch m {
	case contracts.ModePostAction, contracts.ModeGuidance, contracts.ModeFreeform, contracts.ModeCheckIn:
		return true
	}
	return false
}

func categories(signals []contracts.SafetySignal) []contracts.SafetyCategory {
	var out []contracts.SafetyCategory
	seen := make(map[contracts.SafetyCategory]bool)
	for _, s := range signals {
		if !seen[s.Category] {
			seen[s.Category] = true
			out = append(out, s.Category)
		}
	}
	return out
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
