package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/governance"
	"github.com/mirrorlabs/mirror/core/pkg/p2p"
	"github.com/mirrorlabs/mirror/core/pkg/updates"
)

// gossip bridges the P2P node and the governance surfaces. Inbound
// amendment proposals, ballots, and update announcements feed the
// council and the update registry; local governance activity is
// announced back out to verified peers.
type gossip struct {
	node    *p2p.Node
	council *governance.Council
	updates *updates.Registry
	logger  *slog.Logger
}

func (g *gossip) register() {
	g.node.Handle(contracts.MsgAmendmentProposal, g.onProposal)
	g.node.Handle(contracts.MsgVoteCast, g.onVote)
	g.node.Handle(contracts.MsgCommonsPublish, g.onPublish)
}

func (g *gossip) onProposal(msg contracts.PeerMessage) {
	var p contracts.Proposal
	if err := decodePayload(msg.Payload, &p); err != nil {
		g.logger.Warn("malformed proposal announcement",
			"sender", msg.SenderInstanceID, "error", err)
		return
	}
	if err := g.council.ImportProposal(p); err != nil {
		g.logger.Warn("announced proposal rejected",
			"proposal_id", p.ProposalID, "sender", msg.SenderInstanceID, "error", err)
	}
}

func (g *gossip) onVote(msg contracts.PeerMessage) {
	var vote contracts.Vote
	if err := decodePayload(msg.Payload, &vote); err != nil {
		g.logger.Warn("malformed ballot",
			"sender", msg.SenderInstanceID, "error", err)
		return
	}
	if err := g.council.Vote(vote); err != nil {
		g.logger.Warn("remote ballot rejected",
			"proposal_id", vote.ProposalID, "guardian_id", vote.GuardianID, "error", err)
	}
}

// onPublish ingests commons publications. Update manifests ride this
// channel with a payload kind discriminator; other publications are
// content for the pattern commons and need no local action here.
func (g *gossip) onPublish(msg contracts.PeerMessage) {
	kind, _ := msg.Payload["kind"].(string)
	if kind != "update_manifest" {
		return
	}
	var body struct {
		Manifest            contracts.UpdateManifest `json:"manifest"`
		ThresholdSignatures map[string]string        `json:"threshold_signatures"`
	}
	if err := decodePayload(msg.Payload, &body); err != nil {
		g.logger.Warn("malformed update announcement",
			"sender", msg.SenderInstanceID, "error", err)
		return
	}
	if err := g.updates.Register(body.Manifest, body.ThresholdSignatures); err != nil {
		g.logger.Warn("announced update rejected",
			"update_id", body.Manifest.UpdateID, "sender", msg.SenderInstanceID, "error", err)
	}
}

func (g *gossip) announceProposal(ctx context.Context, p contracts.Proposal) {
	payload, err := toPayload(p)
	if err != nil {
		g.logger.Warn("encode proposal announcement", "error", err)
		return
	}
	if _, err := g.node.Broadcast(ctx, contracts.MsgAmendmentProposal, payload); err != nil {
		g.logger.Warn("broadcast proposal", "proposal_id", p.ProposalID, "error", err)
	}
}

// voteRecorded announces a locally cast ballot and, when the ballot tips
// the proposal to approved, the approved proposal itself.
func (g *gossip) voteRecorded(ctx context.Context, vote contracts.Vote) {
	payload, err := toPayload(vote)
	if err != nil {
		g.logger.Warn("encode ballot announcement", "error", err)
		return
	}
	if _, err := g.node.Broadcast(ctx, contracts.MsgVoteCast, payload); err != nil {
		g.logger.Warn("broadcast ballot", "proposal_id", vote.ProposalID, "error", err)
	}
	if p, err := g.council.Get(vote.ProposalID); err == nil && p.Status == contracts.ProposalApproved {
		g.announceProposal(ctx, p)
	}
}

func (g *gossip) announceUpdate(ctx context.Context, m contracts.UpdateManifest, thresholdSigs map[string]string) {
	manifest, err := toPayload(m)
	if err != nil {
		g.logger.Warn("encode update announcement", "error", err)
		return
	}
	payload := map[string]any{
		"kind":     "update_manifest",
		"manifest": manifest,
	}
	if len(thresholdSigs) > 0 {
		payload["threshold_signatures"] = thresholdSigs
	}
	if _, err := g.node.Broadcast(ctx, contracts.MsgCommonsPublish, payload); err != nil {
		g.logger.Warn("broadcast update", "update_id", m.UpdateID, "error", err)
	}
}

func decodePayload(payload map[string]any, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func toPayload(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
