// Package engine is the control surface over the subsystems: one facade
// exposing reflection submission, history, chain verification,
// certification, governance, and update operations with the closed
// error taxonomy at the boundary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/eventlog"
	"github.com/mirrorlabs/mirror/core/pkg/governance"
	"github.com/mirrorlabs/mirror/core/pkg/pipeline"
	"github.com/mirrorlabs/mirror/core/pkg/recognition"
	"github.com/mirrorlabs/mirror/core/pkg/replay"
	"github.com/mirrorlabs/mirror/core/pkg/updates"
)

// Error is the boundary error: a kind from the closed taxonomy plus a
// human-readable message. The underlying subsystem error stays
// reachable through Unwrap so transports can distinguish states the
// taxonomy folds together.
type Error struct {
	Kind    contracts.ErrorKind `json:"kind"`
	Message string              `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Engine wires the subsystems behind the control surface.
type Engine struct {
	instanceID  string
	log         *eventlog.Log
	pipeline    *pipeline.Pipeline
	cache       *replay.Cache
	recognition *recognition.Service
	council     *governance.Council
	updates     *updates.Registry
	clock       func() time.Time
}

// Config wires an Engine. Every field is required except Cache.
type Config struct {
	InstanceID  string
	Log         *eventlog.Log
	Pipeline    *pipeline.Pipeline
	Cache       *replay.Cache
	Recognition *recognition.Service
	Council     *governance.Council
	Updates     *updates.Registry
}

// New builds an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.InstanceID == "" {
		return nil, errors.New("engine: instance id required")
	}
	if cfg.Log == nil || cfg.Pipeline == nil {
		return nil, errors.New("engine: log and pipeline required")
	}
	if cfg.Recognition == nil || cfg.Council == nil || cfg.Updates == nil {
		return nil, errors.New("engine: recognition, council, and updates required")
	}
	return &Engine{
		instanceID:  cfg.InstanceID,
		log:         cfg.Log,
		pipeline:    cfg.Pipeline,
		cache:       cfg.Cache,
		recognition: cfg.Recognition,
		council:     cfg.Council,
		updates:     cfg.Updates,
		clock:       time.Now,
	}, nil
}

// WithClock replaces the time source. Test seam.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// SubmitReflection runs a reflection through the pipeline. History is
// loaded from the user's stream; the pipeline result carries its own
// error kind on failure.
func (e *Engine) SubmitReflection(ctx context.Context, req contracts.Reflection, prefs contracts.Preferences) (pipeline.Result, error) {
	history, err := e.historyReflections(ctx, req.UserID)
	if err != nil {
		return pipeline.Result{}, e.wrap(err)
	}
	result := e.pipeline.Process(ctx, req, history, prefs, "")
	if result.Success && e.cache != nil {
		// Refresh the snapshot cache from the now-longer stream.
		events, err := e.log.ReadAll(ctx, e.stream(req.UserID))
		if err == nil {
			_ = e.cache.Put(replay.Replay(events, e.instanceID, req.UserID))
		}
	}
	return result, nil
}

// GetHistory pages through a user's event stream.
func (e *Engine) GetHistory(ctx context.Context, userID, cursor string, limit int) ([]contracts.Event, error) {
	if userID == "" {
		return nil, &Error{Kind: contracts.KindMalformedInput, Message: "user required"}
	}
	if limit <= 0 {
		limit = 100
	}
	events, err := e.log.Read(ctx, e.stream(userID), cursor, limit)
	if err != nil {
		return nil, e.wrap(err)
	}
	return events, nil
}

// VerifyChain re-validates a user's whole stream.
func (e *Engine) VerifyChain(ctx context.Context, userID string) (eventlog.VerifyResult, error) {
	res, err := e.log.VerifyChain(ctx, e.stream(userID))
	if err != nil {
		return eventlog.VerifyResult{}, e.wrap(err)
	}
	return res, nil
}

// Snapshot replays a user's stream into an identity snapshot, serving
// from the cache when it is fresh.
func (e *Engine) Snapshot(ctx context.Context, userID string) (contracts.IdentitySnapshot, error) {
	events, err := e.log.ReadAll(ctx, e.stream(userID))
	if err != nil {
		return contracts.IdentitySnapshot{}, e.wrap(err)
	}
	snap := replay.Replay(events, e.instanceID, userID)
	if e.cache != nil {
		if cached, ok := e.cache.GetFresh(e.instanceID, userID, snap.SourceMerkleRoot); ok {
			return cached, nil
		}
		_ = e.cache.Put(snap)
	}
	return snap, nil
}

// Certify issues a recognition certificate for this instance.
func (e *Engine) Certify(ctx context.Context, userID, tier string, ttl time.Duration) (*contracts.RecognitionCertificate, error) {
	cert, err := e.recognition.Certify(e.instanceID, userID, tier, ttl)
	if err != nil {
		return nil, e.wrap(err)
	}
	return cert, nil
}

// VerifyCert returns the certificate when valid, nil otherwise.
func (e *Engine) VerifyCert(certID string) *contracts.RecognitionCertificate {
	return e.recognition.Verify(certID)
}

// Revoke revokes a certificate.
func (e *Engine) Revoke(certID string, cause contracts.RevocationCause, reason string) (contracts.Revocation, error) {
	rev, err := e.recognition.Revoke(certID, cause, reason, e.instanceID)
	if err != nil {
		return contracts.Revocation{}, e.wrap(err)
	}
	return rev, nil
}

// Propose opens a governance proposal.
func (e *Engine) Propose(pType contracts.ProposalType, title, description string, changes map[string]any, proposedBy string) (string, error) {
	id, err := e.council.CreateProposal(pType, title, description, changes, proposedBy)
	if err != nil {
		return "", e.wrap(err)
	}
	return id, nil
}

// CastVote records a signed ballot.
func (e *Engine) CastVote(vote contracts.Vote) error {
	if err := e.council.Vote(vote); err != nil {
		return e.wrap(err)
	}
	return nil
}

// Execute applies an approved proposal.
func (e *Engine) Execute(proposalID string, apply governance.Executor) error {
	if err := e.council.ExecuteProposal(proposalID, apply); err != nil {
		return e.wrap(err)
	}
	return nil
}

// RegisterUpdate validates and stores a signed update manifest.
func (e *Engine) RegisterUpdate(m contracts.UpdateManifest, thresholdSigs map[string]string) error {
	if err := e.updates.Register(m, thresholdSigs); err != nil {
		return e.wrap(err)
	}
	return nil
}

// AvailableUpdates lists applicable, unapplied updates.
func (e *Engine) AvailableUpdates(section contracts.UpdateSection, channel contracts.UpdateChannel, currentVersion string) ([]contracts.UpdateManifest, error) {
	out, err := e.updates.Available(section, channel, currentVersion)
	if err != nil {
		return nil, e.wrap(err)
	}
	return out, nil
}

// MarkApplied records a completed update.
func (e *Engine) MarkApplied(updateID string) error {
	if err := e.updates.MarkApplied(updateID); err != nil {
		return e.wrap(err)
	}
	return nil
}

func (e *Engine) stream(userID string) eventlog.Stream {
	return eventlog.Stream{InstanceID: e.instanceID, UserID: userID}
}

// historyReflections rebuilds recent reflections from the stream for the
// semantic layer's baseline.
func (e *Engine) historyReflections(ctx context.Context, userID string) ([]contracts.Reflection, error) {
	events, err := e.log.ReadAll(ctx, e.stream(userID))
	if err != nil {
		return nil, err
	}
	var history []contracts.Reflection
	for i := range events {
		ev := &events[i]
		if ev.EventType != contracts.EventReflectionCreated {
			continue
		}
		content, _ := ev.Payload["content"].(string)
		mode, _ := ev.Payload["mode"].(string)
		history = append(history, contracts.Reflection{
			ID:        ev.ID,
			UserID:    userID,
			Timestamp: ev.Timestamp,
			Content:   content,
			Mode:      contracts.Mode(mode),
		})
	}
	return history, nil
}

// wrap maps subsystem sentinel errors onto the closed taxonomy.
func (e *Engine) wrap(err error) error {
	var engErr *Error
	if errors.As(err, &engErr) {
		return err
	}
	return &Error{Kind: kindOf(err), Message: err.Error(), cause: err}
}

func kindOf(err error) contracts.ErrorKind {
	switch {
	case errors.Is(err, eventlog.ErrChainMismatch):
		return contracts.KindChainMismatch
	case errors.Is(err, eventlog.ErrGenesisViolation):
		return contracts.KindGenesisViolation
	case errors.Is(err, eventlog.ErrSignatureInvalid),
		errors.Is(err, governance.ErrVoteSignatureInvalid),
		errors.Is(err, updates.ErrSignatureInvalid):
		return contracts.KindSignatureInvalid
	case errors.Is(err, governance.ErrThresholdNotMet),
		errors.Is(err, updates.ErrThresholdRequired):
		return contracts.KindThresholdNotMet
	case errors.Is(err, governance.ErrUnknownGuardian),
		errors.Is(err, governance.ErrDuplicateVote),
		errors.Is(err, governance.ErrVotingClosed),
		errors.Is(err, governance.ErrNotApproved):
		return contracts.KindUnauthorized
	case errors.Is(err, recognition.ErrCertNotFound),
		errors.Is(err, governance.ErrProposalNotFound),
		errors.Is(err, updates.ErrUpdateNotFound),
		errors.Is(err, recognition.ErrAlreadyRevoked),
		errors.Is(err, updates.ErrAlreadyApplied):
		return contracts.KindMalformedInput
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return contracts.KindDeadlineExceeded
	default:
		return contracts.KindInternal
	}
}
