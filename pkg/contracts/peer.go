package contracts

import "time"

// MessageType enumerates the P2P protocol messages.
type MessageType string

const (
	MsgDiscovery            MessageType = "discovery"
	MsgCommonsPublish       MessageType = "commons_publish"
	MsgCommonsQuery         MessageType = "commons_query"
	MsgForkAnnounce         MessageType = "fork_announce"
	MsgVerificationRequest  MessageType = "verification_request"
	MsgVerificationResponse MessageType = "verification_response"
	MsgAmendmentProposal    MessageType = "amendment_proposal"
	MsgVoteCast             MessageType = "vote_cast"
	MsgPing                 MessageType = "ping"
)

// Broadcast is the recipient value for messages addressed to all verified
// peers.
const Broadcast = "broadcast"

// PeerMessage is the signed gossip envelope. The signature covers the
// canonical JSON of every field except Signature.
type PeerMessage struct {
	MessageID         string         `json:"message_id"`
	Type              MessageType    `json:"type"`
	SenderInstanceID  string         `json:"sender_instance_id"`
	RecipientInstance string         `json:"recipient_instance_id"`
	Payload           map[string]any `json:"payload"`
	Timestamp         time.Time      `json:"timestamp"`
	Signature         string         `json:"signature"`
}

// SignedPayload returns the canonical-JSON input of the envelope signature.
func (m *PeerMessage) SignedPayload() map[string]any {
	return map[string]any{
		"message_id":            m.MessageID,
		"type":                  string(m.Type),
		"sender_instance_id":    m.SenderInstanceID,
		"recipient_instance_id": m.RecipientInstance,
		"payload":               m.Payload,
		"timestamp":             m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Peer is another instance participating in gossip. A peer is verified iff
// its advertised genesis hash matches a trusted value; unverified peers are
// tracked but never trusted for gossip.
type Peer struct {
	InstanceID  string    `json:"instance_id"`
	GenesisHash string    `json:"genesis_hash"`
	Endpoint    string    `json:"endpoint"`
	LastSeen    time.Time `json:"last_seen"`
	Verified    bool      `json:"verified"`
	TrustScore  float64   `json:"trust_score"`
}
