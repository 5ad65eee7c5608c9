package domain

import "time"

// DecisionKind distinguishes an approval request for a proposed entry
// from one for a proposed exit.
type DecisionKind string

const (
	DecisionEntry DecisionKind = "entry"
	DecisionExit  DecisionKind = "exit"
)

// DecisionStatus tracks a PendingDecision through the approval boundary.
type DecisionStatus string

const (
	DecisionAwaiting DecisionStatus = "awaiting"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
	DecisionExpired  DecisionStatus = "expired"
)

// PendingDecision gates a trade behind human approval when broker_mode
// is "disabled". Only one entry decision may be active at a time.
type PendingDecision struct {
	ID        string
	Kind      DecisionKind
	Subject   string // Position.ID for an exit, a proposal key for an entry
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    DecisionStatus
}
