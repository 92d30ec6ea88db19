// Package audit records internal pipeline decisions on a hash chain that
// parallels the user event log. The trail answers "what did the pipeline
// decide and why" without holding full reflection content; evidence is
// truncated before it gets here.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorlabs/mirror/core/pkg/canonicalize"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

// EventType classifies an audit record.
type EventType string

const (
	EventStageEntered       EventType = "stage_entered"
	EventSafetySignal       EventType = "safety_signal"
	EventAxiomViolation     EventType = "axiom_violation"
	EventSemanticComplete   EventType = "semantic_analysis_complete"
	EventExpressionComplete EventType = "expression_shaping_complete"
	EventPipelineDecision   EventType = "pipeline_decision"
)

// Event is one audit record. Chained exactly like log events: EventHash
// covers canonical JSON of the hashable fields, PreviousHash links to the
// prior record.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Type         EventType      `json:"type"`
	RequestID    string         `json:"request_id"`
	Data         map[string]any `json:"data,omitempty"`
	PreviousHash string         `json:"previous_hash"`
	EventHash    string         `json:"event_hash"`
}

func (e *Event) hashable() map[string]any {
	return map[string]any{
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"type":          string(e.Type),
		"request_id":    e.RequestID,
		"data":          e.Data,
		"previous_hash": e.PreviousHash,
	}
}

// Trail is an append-only audit chain. Safe for concurrent use.
type Trail struct {
	mu     sync.Mutex
	events []Event
	tail   string
	echo   io.Writer
	clock  func() time.Time
}

// NewTrail creates an empty trail.
func NewTrail() *Trail {
	return &Trail{tail: contracts.GenesisHash, clock: time.Now}
}

// WithEcho mirrors every record as one JSON line to w, for live tailing.
func (t *Trail) WithEcho(w io.Writer) *Trail {
	t.echo = w
	return t
}

// WithClock overrides the clock for testing.
func (t *Trail) WithClock(clock func() time.Time) *Trail {
	t.clock = clock
	return t
}

// Record appends one audit event and returns it.
func (t *Trail) Record(eventType EventType, requestID string, data map[string]any) (Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Event{
		ID:           uuid.New().String(),
		Timestamp:    t.clock().UTC(),
		Type:         eventType,
		RequestID:    requestID,
		Data:         data,
		PreviousHash: t.tail,
	}
	canon, err := canonicalize.JCS(e.hashable())
	if err != nil {
		return Event{}, fmt.Errorf("audit: canonicalization failed: %w", err)
	}
	e.EventHash = canonicalize.HashBytes(canon)

	t.events = append(t.events, e)
	t.tail = e.EventHash

	if t.echo != nil {
		if line, err := json.Marshal(e); err == nil {
			fmt.Fprintf(t.echo, "%s\n", line)
		}
	}
	return e, nil
}

// Events returns a copy of the trail in append order.
func (t *Trail) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Len returns the number of recorded events.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// VerifyIntegrity walks the chain, recomputing hashes and linkage. It
// returns ok plus the ID of the first bad record when the walk fails.
func (t *Trail) VerifyIntegrity() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := contracts.GenesisHash
	for i := range t.events {
		e := &t.events[i]
		if e.PreviousHash != prev {
			return false, e.ID
		}
		canon, err := canonicalize.JCS(e.hashable())
		if err != nil || canonicalize.HashBytes(canon) != e.EventHash {
			return false, e.ID
		}
		prev = e.EventHash
	}
	return true, ""
}

// tamper is a test hook mutating a stored record in place.
func (t *Trail) tamper(index int, mutate func(*Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= 0 && index < len(t.events) {
		mutate(&t.events[index])
	}
}
