package contracts

import "time"

// GuardianStatus is the membership state of a guardian.
type GuardianStatus string

const (
	GuardianActive   GuardianStatus = "active"
	GuardianInactive GuardianStatus = "inactive"
	GuardianRemoved  GuardianStatus = "removed"
)

// Guardian is a holder of a long-term signing key participating in
// threshold governance.
type Guardian struct {
	GuardianID   string         `json:"guardian_id"`
	Name         string         `json:"name"`
	PublicKey    string         `json:"public_key"`
	Role         string         `json:"role"`
	JoinedAt     time.Time      `json:"joined_at"`
	VotingWeight int            `json:"voting_weight"`
	Status       GuardianStatus `json:"status"`
}

// ProposalType names the governed change a proposal carries.
type ProposalType string

const (
	ProposalAmendment      ProposalType = "amendment"
	ProposalAddGuardian    ProposalType = "add_guardian"
	ProposalRemoveGuardian ProposalType = "remove_guardian"
	ProposalWorkerApproval ProposalType = "worker_approval"
	ProposalUpdateRelease  ProposalType = "update_release"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalOpen     ProposalStatus = "open"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExecuted ProposalStatus = "executed"
	ProposalExpired  ProposalStatus = "expired"
)

// Vote is a guardian's signed ballot on a proposal. The signature covers
// the canonical JSON of {proposal_id, guardian_id, approve, timestamp}.
type Vote struct {
	ProposalID string    `json:"proposal_id"`
	GuardianID string    `json:"guardian_id"`
	Approve    bool      `json:"approve"`
	Timestamp  time.Time `json:"timestamp"`
	Signature  string    `json:"signature"`
}

// SignedPayload returns the canonical-JSON input of the vote signature.
func (v *Vote) SignedPayload() map[string]any {
	return map[string]any{
		"proposal_id": v.ProposalID,
		"guardian_id": v.GuardianID,
		"approve":     v.Approve,
		"timestamp":   v.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Proposal is a pending governance change requiring M-of-N guardian
// approval before execution.
type Proposal struct {
	ProposalID      string          `json:"proposal_id"`
	Type            ProposalType    `json:"type"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	ProposedChanges map[string]any  `json:"proposed_changes"`
	ProposedBy      string          `json:"proposed_by"`
	ProposedAt      time.Time       `json:"proposed_at"`
	VotingDeadline  time.Time       `json:"voting_deadline"`
	Threshold       int             `json:"threshold"`
	Status          ProposalStatus  `json:"status"`
	Votes           map[string]Vote `json:"votes"`
}

// Approvals counts approving votes currently recorded.
func (p *Proposal) Approvals() int {
	n := 0
	for _, v := range p.Votes {
		if v.Approve {
			n++
		}
	}
	return n
}
