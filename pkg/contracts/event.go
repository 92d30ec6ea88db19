package contracts

import "time"

// EventType is the closed enumeration of log event types. Replay treats
// anything outside this set as a forward-compatible warning, never an error.
type EventType string

const (
	EventReflectionCreated EventType = "reflection_created"
	EventVoiceTranscribed  EventType = "voice_transcribed"
	EventPatternDetected   EventType = "pattern_detected"
	EventTensionDetected   EventType = "tension_detected"
	EventSafetySignal      EventType = "safety_signal"
	EventViolationDetected EventType = "violation_detected"
	EventResponseShaped    EventType = "response_shaped"
	EventAmendmentProposed EventType = "amendment_proposed"
	EventAmendmentVoted    EventType = "amendment_voted"
	EventForkAnnounced     EventType = "fork_announced"
	EventUpdateRegistered  EventType = "update_registered"
)

// GenesisHash is the previous_hash of the first event in every stream.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event is the atomic unit of the per-(instance, user) log. Events are
// append-only: never modified, never deleted.
//
// EventHash is SHA-256 over the canonical JSON of the hashable fields
// (timestamp, event_type, instance_id, user_id, payload, previous_hash).
// Signature is Ed25519 over those same canonical bytes, hex encoded.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    EventType      `json:"event_type"`
	InstanceID   string         `json:"instance_id"`
	UserID       string         `json:"user_id"`
	Payload      map[string]any `json:"payload"`
	PreviousHash string         `json:"previous_hash"`
	EventHash    string         `json:"event_hash"`
	Signature    string         `json:"signature"`
}

// HashablePayload returns the portion of the event covered by the event
// hash and signature, with the timestamp pinned to RFC3339Nano UTC so the
// canonical bytes are platform-stable.
func (e *Event) HashablePayload() map[string]any {
	return map[string]any{
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"event_type":    string(e.EventType),
		"instance_id":   e.InstanceID,
		"user_id":       e.UserID,
		"payload":       e.Payload,
		"previous_hash": e.PreviousHash,
	}
}
