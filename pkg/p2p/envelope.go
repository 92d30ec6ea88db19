package p2p

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorlabs/mirror/core/pkg/canonicalize"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
)

// NewMessage builds and signs a gossip envelope. recipient is an
// instance id or contracts.Broadcast.
func NewMessage(signer *crypto.Ed25519Signer, msgType contracts.MessageType, sender, recipient string, payload map[string]any, at time.Time) (contracts.PeerMessage, error) {
	msg := contracts.PeerMessage{
		MessageID:         uuid.New().String(),
		Type:              msgType,
		SenderInstanceID:  sender,
		RecipientInstance: recipient,
		Payload:           payload,
		Timestamp:         at.UTC(),
	}
	canon, err := canonicalize.JCS(msg.SignedPayload())
	if err != nil {
		return contracts.PeerMessage{}, fmt.Errorf("p2p: canonicalize message: %w", err)
	}
	msg.Signature, err = signer.Sign(canon)
	if err != nil {
		return contracts.PeerMessage{}, fmt.Errorf("p2p: sign message: %w", err)
	}
	return msg, nil
}

// VerifyEnvelope checks the envelope signature against the sender's key.
func VerifyEnvelope(publicKey string, msg contracts.PeerMessage) error {
	canon, err := canonicalize.JCS(msg.SignedPayload())
	if err != nil {
		return fmt.Errorf("p2p: canonicalize message: %w", err)
	}
	ok, err := crypto.VerifyHex(publicKey, msg.Signature, canon)
	if err != nil || !ok {
		return fmt.Errorf("p2p: envelope signature invalid for %s", msg.MessageID)
	}
	return nil
}
