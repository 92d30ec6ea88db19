// Package updates tracks signed update manifests per section and channel
// and decides which updates an instance may see and apply. Applying is
// the caller's job; the registry enforces the checks that must pass
// first and records the outcome.
package updates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/mirrorlabs/mirror/core/pkg/artifacts"
	"github.com/mirrorlabs/mirror/core/pkg/canonicalize"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
)

var (
	// ErrUpdateNotFound is returned when no manifest exists for the id.
	ErrUpdateNotFound = errors.New("updates: update not found")
	// ErrSignatureInvalid is returned when the manifest signature fails or
	// the issuer is not trusted.
	ErrSignatureInvalid = errors.New("updates: manifest signature invalid")
	// ErrThresholdRequired is returned when a constitution or governance
	// manifest arrives without threshold approval.
	ErrThresholdRequired = errors.New("updates: threshold signature required")
	// ErrArtifactMissing is returned when a referenced artifact is absent
	// from the store.
	ErrArtifactMissing = errors.New("updates: artifact missing")
	// ErrDependencyNotApplied is returned when an update's dependency has
	// not been applied yet.
	ErrDependencyNotApplied = errors.New("updates: dependency not applied")
	// ErrConflictApplied is returned when a conflicting update is already
	// applied.
	ErrConflictApplied = errors.New("updates: conflicting update applied")
	// ErrAlreadyApplied is returned on a second apply of the same update.
	ErrAlreadyApplied = errors.New("updates: already applied")
)

// ThresholdVerifier checks an M-of-N guardian signature over a message.
type ThresholdVerifier interface {
	VerifyThreshold(message []byte, signatures map[string]string) error
}

type appliedRecord struct {
	At      time.Time `json:"at"`
	Version string    `json:"version"`
}

// Registry holds manifests and the instance's applied set.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]*contracts.UpdateManifest
	applied   map[string]appliedRecord
	failed    map[string]string
	trust     func() []string
	threshold ThresholdVerifier
	store     artifacts.Store
	clock     func() time.Time
	logger    *slog.Logger
}

// Config wires a Registry.
type Config struct {
	// Trust returns the hex guardian keys accepted as manifest issuers.
	Trust func() []string
	// Threshold verifies M-of-N approval for constitution and governance
	// sections. Nil means those sections cannot be registered.
	Threshold ThresholdVerifier
	// Store resolves artifact digests during apply checks.
	Store  artifacts.Store
	Logger *slog.Logger
}

// NewRegistry builds an update registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Trust == nil {
		return nil, errors.New("updates: trust set required")
	}
	if cfg.Store == nil {
		return nil, errors.New("updates: artifact store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		manifests: make(map[string]*contracts.UpdateManifest),
		applied:   make(map[string]appliedRecord),
		failed:    make(map[string]string),
		trust:     cfg.Trust,
		threshold: cfg.Threshold,
		store:     cfg.Store,
		clock:     time.Now,
		logger:    cfg.Logger,
	}, nil
}

// WithClock replaces the time source. Test seam.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Register validates and stores a manifest. Constitution and governance
// manifests additionally need verified threshold approval.
func (r *Registry) Register(m contracts.UpdateManifest, thresholdSigs map[string]string) error {
	if m.UpdateID == "" || m.Version == "" || m.Section == "" || m.Channel == "" {
		return fmt.Errorf("updates: incomplete manifest %q", m.UpdateID)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("updates: version %q: %w", m.Version, err)
	}
	canon, err := canonicalize.JCS(m.SignedPayload())
	if err != nil {
		return fmt.Errorf("updates: canonicalize manifest: %w", err)
	}
	if !r.issuerTrusted(m.IssuedBy) {
		return ErrSignatureInvalid
	}
	if ok, err := crypto.VerifyHex(m.IssuedBy, m.Signature, canon); err != nil || !ok {
		return ErrSignatureInvalid
	}
	if m.Section.ThresholdSigned() {
		if r.threshold == nil || len(thresholdSigs) == 0 {
			return ErrThresholdRequired
		}
		if err := r.threshold.VerifyThreshold(canon, thresholdSigs); err != nil {
			return fmt.Errorf("updates: threshold approval: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.manifests[m.UpdateID]; exists {
		return fmt.Errorf("updates: update %s already registered", m.UpdateID)
	}
	copied := m
	r.manifests[m.UpdateID] = &copied
	r.logger.Info("update registered",
		"update_id", m.UpdateID, "section", string(m.Section),
		"channel", string(m.Channel), "version", m.Version)
	return nil
}

// Get returns the manifest for an update id.
func (r *Registry) Get(updateID string) (contracts.UpdateManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[updateID]
	if !ok {
		return contracts.UpdateManifest{}, ErrUpdateNotFound
	}
	return *m, nil
}

// Available returns unapplied manifests matching section and channel
// whose version window admits currentVersion, sorted by version.
func (r *Registry) Available(section contracts.UpdateSection, channel contracts.UpdateChannel, currentVersion string) ([]contracts.UpdateManifest, error) {
	current, err := semver.NewVersion(currentVersion)
	if err != nil {
		return nil, fmt.Errorf("updates: current version %q: %w", currentVersion, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []contracts.UpdateManifest
	for _, m := range r.manifests {
		if m.Section != section || m.Channel != channel {
			continue
		}
		if _, done := r.applied[m.UpdateID]; done {
			continue
		}
		ok, err := inWindow(current, m.MinVersion, m.MaxVersion)
		if err != nil {
			return nil, fmt.Errorf("updates: manifest %s: %w", m.UpdateID, err)
		}
		if ok {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		vi := semver.MustParse(out[i].Version)
		vj := semver.MustParse(out[j].Version)
		if vi.Equal(vj) {
			return out[i].UpdateID < out[j].UpdateID
		}
		return vi.LessThan(vj)
	})
	return out, nil
}

// CheckApply runs the pre-apply contract in order: manifest signature,
// artifact digests present in the store, dependencies applied, no
// applied conflicts. The first failure is recorded as the update's
// failure reason and returned.
func (r *Registry) CheckApply(ctx context.Context, updateID string) error {
	r.mu.RLock()
	m, ok := r.manifests[updateID]
	r.mu.RUnlock()
	if !ok {
		return ErrUpdateNotFound
	}

	err := r.runApplyChecks(ctx, m)
	if err != nil {
		r.mu.Lock()
		r.failed[updateID] = err.Error()
		r.mu.Unlock()
	}
	return err
}

func (r *Registry) runApplyChecks(ctx context.Context, m *contracts.UpdateManifest) error {
	canon, err := canonicalize.JCS(m.SignedPayload())
	if err != nil {
		return fmt.Errorf("updates: canonicalize manifest: %w", err)
	}
	if ok, err := crypto.VerifyHex(m.IssuedBy, m.Signature, canon); err != nil || !ok {
		return ErrSignatureInvalid
	}
	for name, digest := range m.Artifacts {
		ok, err := r.store.Exists(ctx, digest)
		if err != nil {
			return fmt.Errorf("updates: artifact %s: %w", name, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s (%s)", ErrArtifactMissing, name, digest)
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dep := range m.Dependencies {
		if _, done := r.applied[dep]; !done {
			return fmt.Errorf("%w: %s", ErrDependencyNotApplied, dep)
		}
	}
	for _, conflict := range m.Conflicts {
		if _, done := r.applied[conflict]; done {
			return fmt.Errorf("%w: %s", ErrConflictApplied, conflict)
		}
	}
	return nil
}

// MarkApplied records a successful apply.
func (r *Registry) MarkApplied(updateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.manifests[updateID]
	if !ok {
		return ErrUpdateNotFound
	}
	if _, done := r.applied[updateID]; done {
		return ErrAlreadyApplied
	}
	r.applied[updateID] = appliedRecord{At: r.clock().UTC(), Version: m.Version}
	delete(r.failed, updateID)
	r.logger.Info("update applied", "update_id", updateID, "version", m.Version)
	return nil
}

// MarkFailed records a failed apply with its reason.
func (r *Registry) MarkFailed(updateID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.manifests[updateID]; !ok {
		return ErrUpdateNotFound
	}
	r.failed[updateID] = reason
	r.logger.Warn("update failed", "update_id", updateID, "reason", reason)
	return nil
}

// IsApplied reports whether an update has been applied.
func (r *Registry) IsApplied(updateID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, done := r.applied[updateID]
	return done
}

// FailureReason returns the recorded failure for an update, if any.
func (r *Registry) FailureReason(updateID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reason, ok := r.failed[updateID]
	return reason, ok
}

// Rollback returns the manifest named by an applied update's rollback
// reference, for use after a post-apply failure.
func (r *Registry) Rollback(updateID string) (contracts.UpdateManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[updateID]
	if !ok {
		return contracts.UpdateManifest{}, ErrUpdateNotFound
	}
	if m.RollbackManifest == "" {
		return contracts.UpdateManifest{}, fmt.Errorf("updates: %s has no rollback manifest", updateID)
	}
	rb, ok := r.manifests[m.RollbackManifest]
	if !ok {
		return contracts.UpdateManifest{}, fmt.Errorf("%w: rollback %s", ErrUpdateNotFound, m.RollbackManifest)
	}
	return *rb, nil
}

func (r *Registry) issuerTrusted(issuer string) bool {
	for _, key := range r.trust() {
		if key == issuer {
			return true
		}
	}
	return false
}

// inWindow reports whether current falls inside the manifest's optional
// [min, max] version window.
func inWindow(current *semver.Version, minVersion, maxVersion string) (bool, error) {
	if minVersion != "" {
		minV, err := semver.NewVersion(minVersion)
		if err != nil {
			return false, fmt.Errorf("min_version %q: %w", minVersion, err)
		}
		if current.LessThan(minV) {
			return false, nil
		}
	}
	if maxVersion != "" {
		maxV, err := semver.NewVersion(maxVersion)
		if err != nil {
			return false, fmt.Errorf("max_version %q: %w", maxVersion, err)
		}
		if current.GreaterThan(maxV) {
			return false, nil
		}
	}
	return true, nil
}
