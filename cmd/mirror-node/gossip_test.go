package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlabs/mirror/core/pkg/artifacts"
	"github.com/mirrorlabs/mirror/core/pkg/canonicalize"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
	"github.com/mirrorlabs/mirror/core/pkg/governance"
	"github.com/mirrorlabs/mirror/core/pkg/updates"
)

type gossipHarness struct {
	bridge   *gossip
	council  *governance.Council
	updates  *updates.Registry
	guardian *crypto.Ed25519Signer
	now      time.Time
}

// newGossipHarness builds a 1-of-1 council and an update registry
// trusting the same guardian, bridged without a live node.
func newGossipHarness(t *testing.T) *gossipHarness {
	t.Helper()
	h := &gossipHarness{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	signer, err := crypto.NewEd25519Signer("g1")
	require.NoError(t, err)
	h.guardian = signer

	council, err := governance.NewCouncil(governance.Config{
		Guardians: []contracts.Guardian{{
			GuardianID: "g1",
			PublicKey:  signer.PublicKey(),
			Status:     contracts.GuardianActive,
		}},
		Threshold: 1,
	})
	require.NoError(t, err)
	h.council = council.WithClock(func() time.Time { return h.now })

	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)
	h.updates, err = updates.NewRegistry(updates.Config{
		Trust: func() []string { return []string{signer.PublicKey()} },
		Store: store,
	})
	require.NoError(t, err)

	h.bridge = &gossip{
		council: h.council,
		updates: h.updates,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h
}

func peerMessage(msgType contracts.MessageType, payload map[string]any) contracts.PeerMessage {
	return contracts.PeerMessage{
		MessageID:         "msg-1",
		Type:              msgType,
		SenderInstanceID:  "peer-1",
		RecipientInstance: contracts.Broadcast,
		Payload:           payload,
		Timestamp:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRemoteProposalAnnouncementImported(t *testing.T) {
	h := newGossipHarness(t)
	payload, err := toPayload(contracts.Proposal{
		ProposalID:     "prop-remote-1",
		Type:           contracts.ProposalAmendment,
		Title:          "Lower response length cap",
		ProposedBy:     "g1",
		ProposedAt:     h.now,
		VotingDeadline: h.now.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	h.bridge.onProposal(peerMessage(contracts.MsgAmendmentProposal, payload))

	p, err := h.council.Get("prop-remote-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalOpen, p.Status)
}

func TestRemoteBallotFeedsCouncil(t *testing.T) {
	h := newGossipHarness(t)
	id, err := h.council.CreateProposal(contracts.ProposalAmendment,
		"Adjust quiet hours", "", map[string]any{"quiet_hours_start": "23:00"}, "g1")
	require.NoError(t, err)

	vote, err := governance.SignVote(h.guardian, id, "g1", true, h.now)
	require.NoError(t, err)
	payload, err := toPayload(vote)
	require.NoError(t, err)

	h.bridge.onVote(peerMessage(contracts.MsgVoteCast, payload))

	p, err := h.council.Get(id)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalApproved, p.Status)
}

func TestAnnouncedUpdateRegistered(t *testing.T) {
	h := newGossipHarness(t)
	m := contracts.UpdateManifest{
		UpdateID:  "upd-remote-1",
		Version:   "1.2.0",
		Section:   contracts.SectionWorkers,
		Channel:   contracts.ChannelStable,
		Title:     "Worker refresh",
		Artifacts: map[string]string{},
		IssuedAt:  h.now,
		IssuedBy:  h.guardian.PublicKey(),
	}
	canon, err := canonicalize.JCS(m.SignedPayload())
	require.NoError(t, err)
	m.Signature, err = h.guardian.Sign(canon)
	require.NoError(t, err)

	manifest, err := toPayload(m)
	require.NoError(t, err)
	h.bridge.onPublish(peerMessage(contracts.MsgCommonsPublish, map[string]any{
		"kind":     "update_manifest",
		"manifest": manifest,
	}))

	got, err := h.updates.Get("upd-remote-1")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", got.Version)
}

func TestPublishWithoutManifestKindIgnored(t *testing.T) {
	h := newGossipHarness(t)
	h.bridge.onPublish(peerMessage(contracts.MsgCommonsPublish, map[string]any{
		"kind":    "pattern",
		"pattern": map[string]any{"name": "morning pages"},
	}))
	_, err := h.updates.Get("upd-remote-1")
	assert.ErrorIs(t, err, updates.ErrUpdateNotFound)
}

func TestMalformedGossipPayloadDropped(t *testing.T) {
	h := newGossipHarness(t)
	h.bridge.onVote(peerMessage(contracts.MsgVoteCast, map[string]any{"proposal_id": 42}))
	h.bridge.onProposal(peerMessage(contracts.MsgAmendmentProposal, map[string]any{"proposal_id": 42}))
	assert.Empty(t, h.council.List(""))
}
