// Package workers manages submitted-code manifests and their lifecycle.
// A worker's code never runs unless its manifest is approved and its
// author signature still verifies at execution time. I/O crossing the
// sandbox boundary is validated against the manifest's JSON schemas.
package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mirrorlabs/mirror/core/pkg/canonicalize"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
	"github.com/mirrorlabs/mirror/core/pkg/sandbox"
)

var (
	// ErrWorkerNotFound is returned when no manifest exists for the id.
	ErrWorkerNotFound = errors.New("workers: worker not found")
	// ErrNotApproved is returned when execution is requested for a worker
	// outside the approved state.
	ErrNotApproved = errors.New("workers: worker not approved")
	// ErrSignatureInvalid is returned when the author signature fails.
	ErrSignatureInvalid = errors.New("workers: manifest signature invalid")
	// ErrThresholdRequired is returned when a protected worker is approved
	// without a threshold signature.
	ErrThresholdRequired = errors.New("workers: threshold approval required")
	// ErrSchemaViolation is returned when worker I/O fails schema checks.
	ErrSchemaViolation = errors.New("workers: schema violation")
)

// protectedPermissions are the surfaces whose workers need M-of-N
// approval rather than a single approver.
var protectedPermissions = map[string]bool{
	"eventlog.append":    true,
	"governance.execute": true,
	"updates.register":   true,
	"recognition.issue":  true,
}

// ThresholdVerifier checks an M-of-N guardian signature over a message.
type ThresholdVerifier interface {
	VerifyThreshold(message []byte, signatures map[string]string) error
}

// Executor runs worker code under quota. Satisfied by *sandbox.Executor.
type Executor interface {
	Execute(ctx context.Context, code []byte, entrypoint string, input []byte, quotas sandbox.Quotas) (*sandbox.Result, error)
}

type entry struct {
	manifest contracts.WorkerManifest
	inputS   *jsonschema.Schema
	outputS  *jsonschema.Schema
}

// Registry stores worker manifests and gates execution.
type Registry struct {
	mu         sync.RWMutex
	workers    map[string]*entry
	approvedBy map[string]string
	executor   Executor
	threshold  ThresholdVerifier
	quotas     sandbox.Quotas
}

// NewRegistry creates a registry. threshold may be nil when no protected
// workers will be approved.
func NewRegistry(executor Executor, threshold ThresholdVerifier) *Registry {
	return &Registry{
		workers:    make(map[string]*entry),
		approvedBy: make(map[string]string),
		executor:   executor,
		threshold:  threshold,
		quotas:     sandbox.DefaultQuotas(),
	}
}

// WithQuotas overrides the execution budget.
func (r *Registry) WithQuotas(q sandbox.Quotas) *Registry {
	r.quotas = q
	return r
}

// CodeDigest returns the hex SHA-256 of worker code, the value bound
// into the manifest signature.
func CodeDigest(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// NewWorkerID mints the id an author binds into the manifest before
// signing. Versions are immutable; re-registering changed code means a
// new id.
func NewWorkerID() string {
	return uuid.New().String()
}

// Register validates and stores a manifest in the proposed state,
// returning its worker id. The author signature covers the worker id,
// so the id must be assigned before signing.
func (r *Registry) Register(m contracts.WorkerManifest) (string, error) {
	if m.WorkerID == "" || m.Name == "" || m.Version == "" || len(m.Code) == 0 || m.Author == "" {
		return "", fmt.Errorf("workers: incomplete manifest for %q", m.Name)
	}
	if err := verifySignature(&m); err != nil {
		return "", err
	}

	e := &entry{manifest: m}
	var err error
	if m.InputSchema != "" {
		if e.inputS, err = jsonschema.CompileString("input.json", m.InputSchema); err != nil {
			return "", fmt.Errorf("workers: input schema: %w", err)
		}
	}
	if m.OutputSchema != "" {
		if e.outputS, err = jsonschema.CompileString("output.json", m.OutputSchema); err != nil {
			return "", fmt.Errorf("workers: output schema: %w", err)
		}
	}

	e.manifest.Status = contracts.WorkerProposed
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[m.WorkerID]; exists {
		return "", fmt.Errorf("workers: worker %s already registered", m.WorkerID)
	}
	r.workers[m.WorkerID] = e
	return m.WorkerID, nil
}

// Approve moves a proposed worker to approved. Workers requesting
// protected permissions need a verified threshold signature over the
// manifest's signed payload.
func (r *Registry) Approve(workerID, approver string, thresholdSigs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[workerID]
	if !ok {
		return ErrWorkerNotFound
	}
	if e.manifest.Status != contracts.WorkerProposed {
		return fmt.Errorf("workers: cannot approve worker in state %s", e.manifest.Status)
	}
	if touchesProtected(e.manifest.RequiredPermissions) {
		if r.threshold == nil || len(thresholdSigs) == 0 {
			return ErrThresholdRequired
		}
		canon, err := canonicalize.JCS(e.manifest.SignedPayload(CodeDigest(e.manifest.Code)))
		if err != nil {
			return fmt.Errorf("workers: canonicalize manifest: %w", err)
		}
		if err := r.threshold.VerifyThreshold(canon, thresholdSigs); err != nil {
			return fmt.Errorf("workers: threshold approval: %w", err)
		}
	}
	e.manifest.Status = contracts.WorkerApproved
	r.approvedBy[workerID] = approver
	return nil
}

// ApprovedBy returns the recorded approver for a worker, if any.
func (r *Registry) ApprovedBy(workerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.approvedBy[workerID]
}

// Suspend pauses an approved worker.
func (r *Registry) Suspend(workerID string) error {
	return r.transition(workerID, contracts.WorkerApproved, contracts.WorkerSuspended)
}

// Revoke permanently retires a worker. Revocation is terminal.
func (r *Registry) Revoke(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[workerID]
	if !ok {
		return ErrWorkerNotFound
	}
	e.manifest.Status = contracts.WorkerRevoked
	return nil
}

func (r *Registry) transition(workerID string, from, to contracts.WorkerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[workerID]
	if !ok {
		return ErrWorkerNotFound
	}
	if e.manifest.Status != from {
		return fmt.Errorf("workers: cannot move %s from %s to %s", workerID, e.manifest.Status, to)
	}
	e.manifest.Status = to
	return nil
}

// Get returns the manifest for a worker id.
func (r *Registry) Get(workerID string) (contracts.WorkerManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.workers[workerID]
	if !ok {
		return contracts.WorkerManifest{}, ErrWorkerNotFound
	}
	return e.manifest, nil
}

// List returns manifests, optionally filtered by status. An empty filter
// returns everything.
func (r *Registry) List(status contracts.WorkerStatus) []contracts.WorkerManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []contracts.WorkerManifest
	for _, e := range r.workers {
		if status == "" || e.manifest.Status == status {
			out = append(out, e.manifest)
		}
	}
	return out
}

// Execute runs an approved worker on input. The author signature is
// re-verified at execution time so a tampered store cannot smuggle code
// into the sandbox, and I/O is checked against the manifest schemas.
func (r *Registry) Execute(ctx context.Context, workerID string, input []byte) (*sandbox.Result, error) {
	r.mu.RLock()
	e, ok := r.workers[workerID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrWorkerNotFound
	}
	if e.manifest.Status != contracts.WorkerApproved {
		return nil, ErrNotApproved
	}
	if err := verifySignature(&e.manifest); err != nil {
		return nil, err
	}
	if e.inputS != nil {
		if err := validate(e.inputS, input); err != nil {
			return nil, fmt.Errorf("%w: input: %v", ErrSchemaViolation, err)
		}
	}

	result, err := r.executor.Execute(ctx, e.manifest.Code, e.manifest.Entrypoint, input, r.quotas)
	if err != nil {
		return nil, err
	}
	if e.outputS != nil {
		if err := validate(e.outputS, result.Output); err != nil {
			return nil, fmt.Errorf("%w: output: %v", ErrSchemaViolation, err)
		}
	}
	return result, nil
}

func verifySignature(m *contracts.WorkerManifest) error {
	canon, err := canonicalize.JCS(m.SignedPayload(CodeDigest(m.Code)))
	if err != nil {
		return fmt.Errorf("workers: canonicalize manifest: %w", err)
	}
	ok, err := crypto.VerifyHex(m.Author, m.Signature, canon)
	if err != nil || !ok {
		return ErrSignatureInvalid
	}
	return nil
}

func validate(schema *jsonschema.Schema, raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return schema.Validate(value)
}

func touchesProtected(permissions []string) bool {
	for _, p := range permissions {
		if protectedPermissions[p] {
			return true
		}
	}
	return false
}
