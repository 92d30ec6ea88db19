// Package eventlog implements the tamper-evident per-user event log.
// Every (instance, user) pair owns an independent stream whose events are
// linked by a SHA-256 hash chain and signed with Ed25519. Appends are
// linearized per stream; streams never coordinate with each other.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorlabs/mirror/core/pkg/canonicalize"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
)

var (
	// ErrChainMismatch is returned when an appended event's previous_hash
	// does not equal the current tail's event_hash.
	ErrChainMismatch = errors.New("eventlog: previous hash does not match stream tail")
	// ErrGenesisViolation is returned when an event with a non-zero
	// previous_hash arrives on an empty stream.
	ErrGenesisViolation = errors.New("eventlog: non-genesis previous hash on empty stream")
	// ErrSignatureInvalid is returned when an event signature fails to verify.
	ErrSignatureInvalid = errors.New("eventlog: event signature invalid")
	// ErrHashMismatch is returned when a stored event hash does not match
	// its recomputed value.
	ErrHashMismatch = errors.New("eventlog: stored event hash does not match canonical content")
)

// Stream identifies one append-only chain.
type Stream struct {
	InstanceID string
	UserID     string
}

// Store is the persistence seam under the Log. Implementations only move
// bytes; all chain validation happens in Log before Append is called.
type Store interface {
	// Append persists one event at the tail of the stream.
	Append(ctx context.Context, s Stream, e contracts.Event) error

	// ReadAll returns every event of the stream in append order.
	ReadAll(ctx context.Context, s Stream) ([]contracts.Event, error)

	// ReadAfter returns up to limit events after the event with afterID.
	// An empty afterID starts from the beginning; limit <= 0 means no cap.
	ReadAfter(ctx context.Context, s Stream, afterID string, limit int) ([]contracts.Event, error)

	// Tail returns the last event of the stream, or nil on an empty stream.
	Tail(ctx context.Context, s Stream) (*contracts.Event, error)
}

// KeySet returns the public keys (hex) trusted to sign events. It is
// called per verification so callers can swap the trust set atomically.
type KeySet func() []string

// Log validates and appends events through a Store.
type Log struct {
	store  Store
	signer *crypto.Ed25519Signer
	trust  KeySet
	clock  func() time.Time

	mu      sync.Mutex
	streams map[Stream]*sync.Mutex
}

// New creates a Log. The signer signs locally appended events; trust is
// consulted when verifying chains (it should include the signer's own key).
func New(store Store, signer *crypto.Ed25519Signer, trust KeySet) *Log {
	return &Log{
		store:   store,
		signer:  signer,
		trust:   trust,
		clock:   time.Now,
		streams: make(map[Stream]*sync.Mutex),
	}
}

// WithClock overrides the clock for testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

func (l *Log) lockFor(s Stream) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.streams[s]
	if !ok {
		m = &sync.Mutex{}
		l.streams[s] = m
	}
	return m
}

// Append builds, signs, and persists a new event at the stream tail,
// returning its event hash. The per-stream lock makes the chain
// well-defined without distributed consensus.
func (l *Log) Append(ctx context.Context, s Stream, eventType contracts.EventType, payload map[string]any) (string, error) {
	lock := l.lockFor(s)
	lock.Lock()
	defer lock.Unlock()

	tail, err := l.store.Tail(ctx, s)
	if err != nil {
		return "", fmt.Errorf("eventlog: tail read failed: %w", err)
	}
	prev := contracts.GenesisHash
	if tail != nil {
		prev = tail.EventHash
	}

	e := contracts.Event{
		ID:           uuid.New().String(),
		Timestamp:    l.clock().UTC(),
		EventType:    eventType,
		InstanceID:   s.InstanceID,
		UserID:       s.UserID,
		Payload:      payload,
		PreviousHash: prev,
	}

	canon, err := canonicalize.JCS(e.HashablePayload())
	if err != nil {
		return "", fmt.Errorf("eventlog: canonicalization failed: %w", err)
	}
	e.EventHash = canonicalize.HashBytes(canon)
	e.Signature, err = l.signer.Sign(canon)
	if err != nil {
		return "", fmt.Errorf("eventlog: signing failed: %w", err)
	}

	if err := l.store.Append(ctx, s, e); err != nil {
		return "", fmt.Errorf("eventlog: append failed: %w", err)
	}
	return e.EventHash, nil
}

// AppendSigned persists an externally built event after full validation:
// chain linkage, hash integrity, and signature against the trust set.
func (l *Log) AppendSigned(ctx context.Context, s Stream, e contracts.Event) (string, error) {
	lock := l.lockFor(s)
	lock.Lock()
	defer lock.Unlock()

	tail, err := l.store.Tail(ctx, s)
	if err != nil {
		return "", fmt.Errorf("eventlog: tail read failed: %w", err)
	}
	if tail == nil {
		if e.PreviousHash != contracts.GenesisHash {
			return "", ErrGenesisViolation
		}
	} else if e.PreviousHash != tail.EventHash {
		return "", ErrChainMismatch
	}

	canon, err := canonicalize.JCS(e.HashablePayload())
	if err != nil {
		return "", fmt.Errorf("eventlog: canonicalization failed: %w", err)
	}
	if canonicalize.HashBytes(canon) != e.EventHash {
		return "", ErrHashMismatch
	}
	if !l.signatureTrusted(canon, e.Signature) {
		return "", ErrSignatureInvalid
	}

	if err := l.store.Append(ctx, s, e); err != nil {
		return "", fmt.Errorf("eventlog: append failed: %w", err)
	}
	return e.EventHash, nil
}

// Read returns up to limit events after afterID, in append order.
func (l *Log) Read(ctx context.Context, s Stream, afterID string, limit int) ([]contracts.Event, error) {
	return l.store.ReadAfter(ctx, s, afterID, limit)
}

// ReadAll returns the full stream in append order.
func (l *Log) ReadAll(ctx context.Context, s Stream) ([]contracts.Event, error) {
	return l.store.ReadAll(ctx, s)
}

// VerifyResult reports the outcome of a chain walk.
type VerifyResult struct {
	OK         bool   `json:"ok"`
	FirstBadID string `json:"first_bad_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Checked    int    `json:"checked"`
}

// VerifyChain walks the stream in order, recomputing every event hash,
// checking linkage, and verifying each signature against the trust set.
// The first mismatch identifies the offending event.
func (l *Log) VerifyChain(ctx context.Context, s Stream) (VerifyResult, error) {
	events, err := l.store.ReadAll(ctx, s)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("eventlog: read failed: %w", err)
	}

	prev := contracts.GenesisHash
	for i, e := range events {
		if e.PreviousHash != prev {
			return VerifyResult{FirstBadID: e.ID, Reason: "previous_hash mismatch", Checked: i}, nil
		}
		canon, err := canonicalize.JCS(e.HashablePayload())
		if err != nil {
			return VerifyResult{FirstBadID: e.ID, Reason: "canonicalization failed", Checked: i}, nil
		}
		if canonicalize.HashBytes(canon) != e.EventHash {
			return VerifyResult{FirstBadID: e.ID, Reason: "event_hash mismatch", Checked: i}, nil
		}
		if !l.signatureTrusted(canon, e.Signature) {
			return VerifyResult{FirstBadID: e.ID, Reason: "signature invalid", Checked: i}, nil
		}
		prev = e.EventHash
	}
	return VerifyResult{OK: true, Checked: len(events)}, nil
}

func (l *Log) signatureTrusted(canon []byte, sigHex string) bool {
	for _, pub := range l.trust() {
		ok, err := crypto.VerifyHex(pub, sigHex, canon)
		if err == nil && ok {
			return true
		}
	}
	return false
}
