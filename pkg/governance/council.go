// Package governance implements M-of-N guardian approval over protected
// changes. Guardians vote with Ed25519-signed ballots; a proposal
// executes only after the threshold of distinct valid signatures is met
// and re-verified at execution time.
package governance

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorlabs/mirror/core/pkg/canonicalize"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
)

var (
	// ErrProposalNotFound is returned when no proposal exists for the id.
	ErrProposalNotFound = errors.New("governance: proposal not found")
	// ErrVotingClosed is returned for votes on a non-open proposal or past
	// the deadline.
	ErrVotingClosed = errors.New("governance: voting closed")
	// ErrDuplicateVote is returned on a guardian's second ballot.
	ErrDuplicateVote = errors.New("governance: guardian already voted")
	// ErrUnknownGuardian is returned for ballots from outside the council.
	ErrUnknownGuardian = errors.New("governance: unknown guardian")
	// ErrVoteSignatureInvalid is returned when a ballot signature fails.
	ErrVoteSignatureInvalid = errors.New("governance: vote signature invalid")
	// ErrNotApproved is returned when execution is requested for a
	// proposal that has not reached approved status.
	ErrNotApproved = errors.New("governance: proposal not approved")
	// ErrThresholdNotMet is returned when execution-time re-verification
	// finds fewer valid approvals than the threshold.
	ErrThresholdNotMet = errors.New("governance: threshold not met")
)

// DefaultVotingPeriod bounds how long a proposal accepts ballots.
const DefaultVotingPeriod = 72 * time.Hour

// Executor applies an approved proposal's changes. The council verifies;
// the executor acts.
type Executor func(p *contracts.Proposal) error

// Council is the guardian set plus its open proposals.
type Council struct {
	mu           sync.RWMutex
	guardians    map[string]contracts.Guardian
	proposals    map[string]*contracts.Proposal
	threshold    int
	// fixedThreshold marks an explicitly configured threshold. A
	// defaulted threshold tracks the active majority across membership
	// changes; a fixed one never moves.
	fixedThreshold bool
	votingPeriod   time.Duration
	clock          func() time.Time
	logger         *slog.Logger
}

// Config wires a Council.
type Config struct {
	Guardians []contracts.Guardian
	// Threshold is the default approvals required. Zero means a strict
	// majority of active guardians.
	Threshold int
	// VotingPeriod defaults to 72h.
	VotingPeriod time.Duration
	Logger       *slog.Logger
}

// NewCouncil builds a council over the given guardians.
func NewCouncil(cfg Config) (*Council, error) {
	if len(cfg.Guardians) == 0 {
		return nil, errors.New("governance: at least one guardian required")
	}
	guardians := make(map[string]contracts.Guardian, len(cfg.Guardians))
	active := 0
	for _, g := range cfg.Guardians {
		if g.GuardianID == "" || g.PublicKey == "" {
			return nil, fmt.Errorf("governance: guardian %q missing id or key", g.Name)
		}
		if _, dup := guardians[g.GuardianID]; dup {
			return nil, fmt.Errorf("governance: duplicate guardian %s", g.GuardianID)
		}
		guardians[g.GuardianID] = g
		if g.Status == contracts.GuardianActive {
			active++
		}
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = active/2 + 1
	}
	if threshold > active {
		return nil, fmt.Errorf("governance: threshold %d exceeds %d active guardians", threshold, active)
	}
	period := cfg.VotingPeriod
	if period <= 0 {
		period = DefaultVotingPeriod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Council{
		guardians:      guardians,
		proposals:      make(map[string]*contracts.Proposal),
		threshold:      threshold,
		fixedThreshold: cfg.Threshold > 0,
		votingPeriod:   period,
		clock:          time.Now,
		logger:         logger,
	}, nil
}

// WithClock replaces the time source. Test seam.
func (c *Council) WithClock(clock func() time.Time) *Council {
	c.clock = clock
	return c
}

// Threshold returns the approvals required for the default proposal.
func (c *Council) Threshold() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threshold
}

// Guardians returns a snapshot of the council membership.
func (c *Council) Guardians() []contracts.Guardian {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]contracts.Guardian, 0, len(c.guardians))
	for _, g := range c.guardians {
		out = append(out, g)
	}
	return out
}

// MembershipExecutor effects add_guardian and remove_guardian proposals
// against the council. Other proposal types pass through untouched.
// onAdd, when set, receives each new guardian's public key so the caller
// can widen its trust set in the same step. The returned Executor runs
// under the council lock; pass it to ExecuteProposal, never call it
// directly.
func MembershipExecutor(c *Council, onAdd func(publicKey string)) Executor {
	return func(p *contracts.Proposal) error {
		switch p.Type {
		case contracts.ProposalAddGuardian:
			id, _ := p.ProposedChanges["guardian_id"].(string)
			key, _ := p.ProposedChanges["public_key"].(string)
			name, _ := p.ProposedChanges["name"].(string)
			if id == "" || key == "" {
				return errors.New("governance: add_guardian requires guardian_id and public_key")
			}
			if _, dup := c.guardians[id]; dup {
				return fmt.Errorf("governance: guardian %s already seated", id)
			}
			c.guardians[id] = contracts.Guardian{
				GuardianID: id,
				Name:       name,
				PublicKey:  key,
				JoinedAt:   c.clock().UTC(),
				Status:     contracts.GuardianActive,
			}
			c.rebalanceThreshold()
			c.logger.Info("guardian seated", "guardian_id", id)
			if onAdd != nil {
				onAdd(key)
			}
			return nil
		case contracts.ProposalRemoveGuardian:
			id, _ := p.ProposedChanges["guardian_id"].(string)
			if id == "" {
				return errors.New("governance: remove_guardian requires guardian_id")
			}
			g, ok := c.guardians[id]
			if !ok {
				return ErrUnknownGuardian
			}
			g.Status = contracts.GuardianRemoved
			c.guardians[id] = g
			c.rebalanceThreshold()
			c.logger.Info("guardian removed", "guardian_id", id)
			return nil
		default:
			return nil
		}
	}
}

// rebalanceThreshold restores the active-majority threshold after a
// membership change. Fixed thresholds are left alone. Caller holds the
// lock.
func (c *Council) rebalanceThreshold() {
	if c.fixedThreshold {
		return
	}
	active := 0
	for _, g := range c.guardians {
		if g.Status == contracts.GuardianActive {
			active++
		}
	}
	if active > 0 {
		c.threshold = active/2 + 1
	}
}

// ImportProposal stores a proposal received from a peer. The proposer
// must be a council guardian. Any carried votes are dropped: ballots
// arrive individually as signed vote_cast messages and are verified on
// ingestion. Re-importing a known id is a no-op, so message replay is
// harmless.
func (c *Council) ImportProposal(p contracts.Proposal) error {
	if p.ProposalID == "" || p.Title == "" {
		return errors.New("governance: imported proposal missing id or title")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.guardians[p.ProposedBy]; !ok {
		return ErrUnknownGuardian
	}
	if _, dup := c.proposals[p.ProposalID]; dup {
		return nil
	}
	cp := p
	cp.Status = contracts.ProposalOpen
	cp.Votes = make(map[string]contracts.Vote)
	if cp.Threshold <= 0 {
		cp.Threshold = c.threshold
	}
	if cp.VotingDeadline.IsZero() {
		cp.VotingDeadline = c.clock().UTC().Add(c.votingPeriod)
	}
	c.proposals[cp.ProposalID] = &cp
	c.logger.Info("proposal imported",
		"proposal_id", cp.ProposalID, "type", string(cp.Type), "by", cp.ProposedBy)
	return nil
}

// CreateProposal opens a proposal for voting and returns its id.
func (c *Council) CreateProposal(pType contracts.ProposalType, title, description string, changes map[string]any, proposedBy string) (string, error) {
	if title == "" {
		return "", errors.New("governance: proposal requires a title")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.guardians[proposedBy]; !ok {
		return "", ErrUnknownGuardian
	}

	now := c.clock().UTC()
	p := &contracts.Proposal{
		ProposalID:      uuid.New().String(),
		Type:            pType,
		Title:           title,
		Description:     description,
		ProposedChanges: changes,
		ProposedBy:      proposedBy,
		ProposedAt:      now,
		VotingDeadline:  now.Add(c.votingPeriod),
		Threshold:       c.threshold,
		Status:          contracts.ProposalOpen,
		Votes:           make(map[string]contracts.Vote),
	}
	c.proposals[p.ProposalID] = p
	c.logger.Info("proposal opened",
		"proposal_id", p.ProposalID, "type", string(pType), "by", proposedBy)
	return p.ProposalID, nil
}

// Vote records a guardian's signed ballot. The tally settles immediately:
// reaching the threshold approves the proposal, and a rejection count
// that makes the threshold unreachable rejects it early.
func (c *Council) Vote(vote contracts.Vote) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[vote.ProposalID]
	if !ok {
		return ErrProposalNotFound
	}
	c.settleDeadline(p)
	if p.Status != contracts.ProposalOpen {
		return ErrVotingClosed
	}
	guardian, ok := c.guardians[vote.GuardianID]
	if !ok || guardian.Status != contracts.GuardianActive {
		return ErrUnknownGuardian
	}
	if _, voted := p.Votes[vote.GuardianID]; voted {
		return ErrDuplicateVote
	}
	if err := verifyVote(guardian.PublicKey, vote); err != nil {
		return err
	}

	p.Votes[vote.GuardianID] = vote
	c.tally(p)
	return nil
}

// Get returns a snapshot of a proposal, settling the deadline first.
func (c *Council) Get(proposalID string) (contracts.Proposal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proposals[proposalID]
	if !ok {
		return contracts.Proposal{}, ErrProposalNotFound
	}
	c.settleDeadline(p)
	return snapshot(p), nil
}

// List returns proposals, optionally filtered by status.
func (c *Council) List(status contracts.ProposalStatus) []contracts.Proposal {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []contracts.Proposal
	for _, p := range c.proposals {
		c.settleDeadline(p)
		if status == "" || p.Status == status {
			out = append(out, snapshot(p))
		}
	}
	return out
}

// ExecuteProposal applies an approved proposal. Every approval signature
// is re-verified first, so a store tampered after voting cannot execute.
func (c *Council) ExecuteProposal(proposalID string, apply Executor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	c.settleDeadline(p)
	if p.Status != contracts.ProposalApproved {
		return ErrNotApproved
	}

	valid := 0
	seen := make(map[string]bool)
	for guardianID, vote := range p.Votes {
		if !vote.Approve || seen[guardianID] {
			continue
		}
		guardian, ok := c.guardians[guardianID]
		if !ok {
			continue
		}
		if err := verifyVote(guardian.PublicKey, vote); err != nil {
			c.logger.Warn("approval signature failed at execution",
				"proposal_id", proposalID, "guardian_id", guardianID)
			continue
		}
		seen[guardianID] = true
		valid++
	}
	if valid < p.Threshold {
		return fmt.Errorf("%w: %d of %d valid approvals", ErrThresholdNotMet, valid, p.Threshold)
	}

	if apply != nil {
		if err := apply(p); err != nil {
			return fmt.Errorf("governance: execute proposal %s: %w", proposalID, err)
		}
	}
	p.Status = contracts.ProposalExecuted
	c.logger.Info("proposal executed", "proposal_id", proposalID, "approvals", valid)
	return nil
}

// VerifyThreshold checks that at least the council threshold of distinct
// active guardians signed the message. Satisfies workers.ThresholdVerifier.
func (c *Council) VerifyThreshold(message []byte, signatures map[string]string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	valid := 0
	for guardianID, sig := range signatures {
		guardian, ok := c.guardians[guardianID]
		if !ok || guardian.Status != contracts.GuardianActive {
			continue
		}
		if ok, err := crypto.VerifyHex(guardian.PublicKey, sig, message); err == nil && ok {
			valid++
		}
	}
	if valid < c.threshold {
		return fmt.Errorf("%w: %d of %d", ErrThresholdNotMet, valid, c.threshold)
	}
	return nil
}

// SignVote builds and signs a ballot for a guardian. Convenience for
// callers holding the guardian's signer.
func SignVote(signer *crypto.Ed25519Signer, proposalID, guardianID string, approve bool, at time.Time) (contracts.Vote, error) {
	vote := contracts.Vote{
		ProposalID: proposalID,
		GuardianID: guardianID,
		Approve:    approve,
		Timestamp:  at.UTC(),
	}
	canon, err := canonicalize.JCS(vote.SignedPayload())
	if err != nil {
		return contracts.Vote{}, fmt.Errorf("governance: canonicalize vote: %w", err)
	}
	vote.Signature, err = signer.Sign(canon)
	if err != nil {
		return contracts.Vote{}, fmt.Errorf("governance: sign vote: %w", err)
	}
	return vote, nil
}

// tally settles a proposal the moment its outcome is decided. Caller
// holds the lock.
func (c *Council) tally(p *contracts.Proposal) {
	approvals, rejections := 0, 0
	for _, v := range p.Votes {
		if v.Approve {
			approvals++
		} else {
			rejections++
		}
	}
	if approvals >= p.Threshold {
		p.Status = contracts.ProposalApproved
		c.logger.Info("proposal approved", "proposal_id", p.ProposalID, "approvals", approvals)
		return
	}
	remaining := c.activeGuardians() - approvals - rejections
	if approvals+remaining < p.Threshold {
		p.Status = contracts.ProposalRejected
		c.logger.Info("proposal rejected early", "proposal_id", p.ProposalID, "rejections", rejections)
	}
}

// settleDeadline expires or settles an open proposal whose voting window
// has closed. Caller holds the lock.
func (c *Council) settleDeadline(p *contracts.Proposal) {
	if p.Status != contracts.ProposalOpen || c.clock().Before(p.VotingDeadline) {
		return
	}
	if p.Approvals() >= p.Threshold {
		p.Status = contracts.ProposalApproved
	} else {
		p.Status = contracts.ProposalRejected
	}
}

func (c *Council) activeGuardians() int {
	n := 0
	for _, g := range c.guardians {
		if g.Status == contracts.GuardianActive {
			n++
		}
	}
	return n
}

func verifyVote(publicKey string, vote contracts.Vote) error {
	canon, err := canonicalize.JCS(vote.SignedPayload())
	if err != nil {
		return fmt.Errorf("governance: canonicalize vote: %w", err)
	}
	ok, err := crypto.VerifyHex(publicKey, vote.Signature, canon)
	if err != nil || !ok {
		return ErrVoteSignatureInvalid
	}
	return nil
}

func snapshot(p *contracts.Proposal) contracts.Proposal {
	out := *p
	out.Votes = make(map[string]contracts.Vote, len(p.Votes))
	for k, v := range p.Votes {
		out.Votes[k] = v
	}
	return out
}
