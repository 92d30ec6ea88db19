package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
)

type councilHarness struct {
	council *Council
	signers map[string]*crypto.Ed25519Signer
	now     time.Time
}

// newCouncilHarness builds a 2-of-3 council.
func newCouncilHarness(t *testing.T) *councilHarness {
	t.Helper()
	h := &councilHarness{
		signers: make(map[string]*crypto.Ed25519Signer),
		now:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	var guardians []contracts.Guardian
	for _, id := range []string{"g1", "g2", "g3"} {
		signer, err := crypto.NewEd25519Signer(id)
		require.NoError(t, err)
		h.signers[id] = signer
		guardians = append(guardians, contracts.Guardian{
			GuardianID: id,
			Name:       "Guardian " + id,
			PublicKey:  signer.PublicKey(),
			JoinedAt:   h.now,
			Status:     contracts.GuardianActive,
		})
	}
	council, err := NewCouncil(Config{Guardians: guardians, Threshold: 2})
	require.NoError(t, err)
	h.council = council.WithClock(func() time.Time { return h.now })
	return h
}

func (h *councilHarness) propose(t *testing.T) string {
	t.Helper()
	id, err := h.council.CreateProposal(contracts.ProposalAmendment,
		"Adjust quiet hours", "Shift default quiet hours one hour later",
		map[string]any{"quiet_hours_start": "23:00"}, "g1")
	require.NoError(t, err)
	return id
}

func (h *councilHarness) vote(t *testing.T, proposalID, guardianID string, approve bool) error {
	t.Helper()
	vote, err := SignVote(h.signers[guardianID], proposalID, guardianID, approve, h.now)
	require.NoError(t, err)
	return h.council.Vote(vote)
}

func TestProposalApprovedAtThreshold(t *testing.T) {
	h := newCouncilHarness(t)
	id := h.propose(t)

	require.NoError(t, h.vote(t, id, "g1", true))
	p, err := h.council.Get(id)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalOpen, p.Status)

	require.NoError(t, h.vote(t, id, "g2", true))
	p, err = h.council.Get(id)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalApproved, p.Status)
	assert.Equal(t, 2, p.Approvals())
}

func TestProposalRejectedWhenThresholdUnreachable(t *testing.T) {
	h := newCouncilHarness(t)
	id := h.propose(t)

	// Two rejections out of three guardians leave at most one approval;
	// the 2-of-3 threshold can no longer be reached.
	require.NoError(t, h.vote(t, id, "g2", false))
	require.NoError(t, h.vote(t, id, "g3", false))

	p, err := h.council.Get(id)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalRejected, p.Status)
}

func TestDuplicateVoteRejected(t *testing.T) {
	h := newCouncilHarness(t)
	id := h.propose(t)

	require.NoError(t, h.vote(t, id, "g1", true))
	err := h.vote(t, id, "g1", false)
	assert.ErrorIs(t, err, ErrDuplicateVote)
}

func TestVoteSignatureVerified(t *testing.T) {
	h := newCouncilHarness(t)
	id := h.propose(t)

	// A ballot signed with the wrong key is rejected.
	vote, err := SignVote(h.signers["g2"], id, "g1", true, h.now)
	require.NoError(t, err)
	assert.ErrorIs(t, h.council.Vote(vote), ErrVoteSignatureInvalid)

	// So is a ballot altered after signing.
	vote, err = SignVote(h.signers["g1"], id, "g1", false, h.now)
	require.NoError(t, err)
	vote.Approve = true
	assert.ErrorIs(t, h.council.Vote(vote), ErrVoteSignatureInvalid)
}

func TestUnknownGuardianCannotVote(t *testing.T) {
	h := newCouncilHarness(t)
	id := h.propose(t)

	rogue, err := crypto.NewEd25519Signer("rogue")
	require.NoError(t, err)
	vote, err := SignVote(rogue, id, "g9", true, h.now)
	require.NoError(t, err)
	assert.ErrorIs(t, h.council.Vote(vote), ErrUnknownGuardian)
}

func TestDeadlineClosesVoting(t *testing.T) {
	h := newCouncilHarness(t)
	id := h.propose(t)
	require.NoError(t, h.vote(t, id, "g1", true))

	h.now = h.now.Add(DefaultVotingPeriod + time.Hour)
	err := h.vote(t, id, "g2", true)
	assert.ErrorIs(t, err, ErrVotingClosed)

	// One approval of two required: the deadline settles it as rejected.
	p, err := h.council.Get(id)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalRejected, p.Status)
}

func TestExecuteProposal(t *testing.T) {
	h := newCouncilHarness(t)
	id := h.propose(t)
	require.NoError(t, h.vote(t, id, "g1", true))
	require.NoError(t, h.vote(t, id, "g2", true))

	var applied *contracts.Proposal
	require.NoError(t, h.council.ExecuteProposal(id, func(p *contracts.Proposal) error {
		applied = p
		return nil
	}))
	require.NotNil(t, applied)
	assert.Equal(t, "23:00", applied.ProposedChanges["quiet_hours_start"])

	p, err := h.council.Get(id)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalExecuted, p.Status)
}

func TestExecuteRequiresApprovedStatus(t *testing.T) {
	h := newCouncilHarness(t)
	id := h.propose(t)
	require.NoError(t, h.vote(t, id, "g1", true))

	err := h.council.ExecuteProposal(id, nil)
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestExecuteReverifiesSignatures(t *testing.T) {
	h := newCouncilHarness(t)
	id := h.propose(t)
	require.NoError(t, h.vote(t, id, "g1", true))
	require.NoError(t, h.vote(t, id, "g2", true))

	// Corrupt one recorded approval after the tally. Execution re-checks
	// every signature and refuses to act below threshold.
	h.council.proposals[id].Votes["g2"] = contracts.Vote{
		ProposalID: id, GuardianID: "g2", Approve: true,
		Timestamp: h.now, Signature: "deadbeef",
	}
	err := h.council.ExecuteProposal(id, nil)
	assert.ErrorIs(t, err, ErrThresholdNotMet)
}

func TestExecutedAddGuardianCanVote(t *testing.T) {
	h := newCouncilHarness(t)
	newSigner, err := crypto.NewEd25519Signer("g4")
	require.NoError(t, err)

	id, err := h.council.CreateProposal(contracts.ProposalAddGuardian,
		"Seat a fourth guardian", "",
		map[string]any{
			"guardian_id": "g4",
			"public_key":  newSigner.PublicKey(),
			"name":        "Guardian g4",
		}, "g1")
	require.NoError(t, err)
	require.NoError(t, h.vote(t, id, "g1", true))
	require.NoError(t, h.vote(t, id, "g2", true))

	var added string
	require.NoError(t, h.council.ExecuteProposal(id,
		MembershipExecutor(h.council, func(key string) { added = key })))
	assert.Equal(t, newSigner.PublicKey(), added)

	next := h.propose(t)
	vote, err := SignVote(newSigner, next, "g4", true, h.now)
	require.NoError(t, err)
	require.NoError(t, h.council.Vote(vote))

	p, err := h.council.Get(next)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Approvals())
}

func TestExecutedRemoveGuardianRetiresBallot(t *testing.T) {
	h := newCouncilHarness(t)
	id, err := h.council.CreateProposal(contracts.ProposalRemoveGuardian,
		"Retire g3", "", map[string]any{"guardian_id": "g3"}, "g1")
	require.NoError(t, err)
	require.NoError(t, h.vote(t, id, "g1", true))
	require.NoError(t, h.vote(t, id, "g2", true))
	require.NoError(t, h.council.ExecuteProposal(id, MembershipExecutor(h.council, nil)))

	next := h.propose(t)
	err = h.vote(t, next, "g3", true)
	assert.ErrorIs(t, err, ErrUnknownGuardian)
}

func TestMembershipExecutorRequiresCompleteChanges(t *testing.T) {
	h := newCouncilHarness(t)
	id, err := h.council.CreateProposal(contracts.ProposalAddGuardian,
		"Seat a guardian without a key", "",
		map[string]any{"guardian_id": "g4"}, "g1")
	require.NoError(t, err)
	require.NoError(t, h.vote(t, id, "g1", true))
	require.NoError(t, h.vote(t, id, "g2", true))

	err = h.council.ExecuteProposal(id, MembershipExecutor(h.council, nil))
	require.Error(t, err)

	// A failed application leaves the proposal approved, not executed.
	p, err := h.council.Get(id)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalApproved, p.Status)
}

func TestMembershipChangeRebalancesDefaultThreshold(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("solo")
	require.NoError(t, err)
	council, err := NewCouncil(Config{Guardians: []contracts.Guardian{{
		GuardianID: "solo",
		PublicKey:  signer.PublicKey(),
		Status:     contracts.GuardianActive,
	}}})
	require.NoError(t, err)
	require.Equal(t, 1, council.Threshold())

	id, err := council.CreateProposal(contracts.ProposalAddGuardian,
		"Seat a second guardian", "",
		map[string]any{"guardian_id": "g2", "public_key": "ab"}, "solo")
	require.NoError(t, err)
	vote, err := SignVote(signer, id, "solo", true, time.Now())
	require.NoError(t, err)
	require.NoError(t, council.Vote(vote))
	require.NoError(t, council.ExecuteProposal(id, MembershipExecutor(council, nil)))

	// Majority of two active guardians.
	assert.Equal(t, 2, council.Threshold())
}

func TestImportProposalFromPeer(t *testing.T) {
	h := newCouncilHarness(t)
	remote := contracts.Proposal{
		ProposalID:     "prop-remote-1",
		Type:           contracts.ProposalAmendment,
		Title:          "Lower response length cap",
		ProposedBy:     "g2",
		ProposedAt:     h.now,
		VotingDeadline: h.now.Add(24 * time.Hour),
		Votes: map[string]contracts.Vote{
			"g3": {ProposalID: "prop-remote-1", GuardianID: "g3", Approve: true, Signature: "feed"},
		},
	}
	require.NoError(t, h.council.ImportProposal(remote))

	// Carried votes are dropped; ballots must arrive signed.
	p, err := h.council.Get("prop-remote-1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Approvals())

	// Replay of the same announcement is a no-op.
	require.NoError(t, h.council.ImportProposal(remote))

	require.NoError(t, h.vote(t, "prop-remote-1", "g1", true))
	require.NoError(t, h.vote(t, "prop-remote-1", "g2", true))
	p, err = h.council.Get("prop-remote-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalApproved, p.Status)

	outsider := remote
	outsider.ProposalID = "prop-remote-2"
	outsider.ProposedBy = "stranger"
	assert.ErrorIs(t, h.council.ImportProposal(outsider), ErrUnknownGuardian)
}

func TestVerifyThresholdDistinctSigners(t *testing.T) {
	h := newCouncilHarness(t)
	message := []byte("approve worker digest abc123")

	sign := func(id string) string {
		sig, err := h.signers[id].Sign(message)
		require.NoError(t, err)
		return sig
	}

	// Two distinct valid signers meet 2-of-3.
	require.NoError(t, h.council.VerifyThreshold(message, map[string]string{
		"g1": sign("g1"), "g2": sign("g2"),
	}))

	// One valid plus one garbage signature does not.
	err := h.council.VerifyThreshold(message, map[string]string{
		"g1": sign("g1"), "g2": "ffff",
	})
	assert.ErrorIs(t, err, ErrThresholdNotMet)

	// Signatures from outside the council never count.
	rogue, err2 := crypto.NewEd25519Signer("rogue")
	require.NoError(t, err2)
	rogueSig, err2 := rogue.Sign(message)
	require.NoError(t, err2)
	err = h.council.VerifyThreshold(message, map[string]string{
		"g1": sign("g1"), "g9": rogueSig,
	})
	assert.ErrorIs(t, err, ErrThresholdNotMet)
}

func TestCouncilConfigValidation(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("g1")
	require.NoError(t, err)
	g := contracts.Guardian{
		GuardianID: "g1", PublicKey: signer.PublicKey(),
		Status: contracts.GuardianActive,
	}

	_, err = NewCouncil(Config{})
	require.Error(t, err)

	_, err = NewCouncil(Config{Guardians: []contracts.Guardian{g}, Threshold: 5})
	require.Error(t, err)

	c, err := NewCouncil(Config{Guardians: []contracts.Guardian{g}})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Threshold())
}
