package tickets

import (
	"time"

	"ms-lottery/internal/models"
)

type ConfirmKind int

const (
	ConfirmPaid ConfirmKind = iota
	ConfirmStillPending
	ConfirmRejected
)

// PendingHint tells the caller why a payment is not settled yet. Gateways
// must phrase AwaitingSettlement and OracleDegraded differently.
type PendingHint string

const (
	HintAwaitingSettlement PendingHint = "awaiting_settlement"
	HintOracleDegraded     PendingHint = "oracle_degraded"
	HintCheckThrottled     PendingHint = "check_throttled"
)

type RejectReason string

const (
	RejectNotFound     RejectReason = "not_found"
	RejectForbidden    RejectReason = "forbidden"
	RejectTicketFailed RejectReason = "ticket_failed"
)

// ConfirmResult is the rendering-agnostic answer of ConfirmPayment.
type ConfirmResult struct {
	Kind ConfirmKind
	// Ticket is set for ConfirmPaid.
	Ticket *models.Ticket
	// AlreadySettled is true when the ticket was paid before this call.
	AlreadySettled bool
	Hint           PendingHint
	RetryAfter     time.Duration
	Reason         RejectReason
}

func Paid(t *models.Ticket, alreadySettled bool) *ConfirmResult {
	return &ConfirmResult{Kind: ConfirmPaid, Ticket: t, AlreadySettled: alreadySettled}
}

func StillPending(hint PendingHint, retryAfter time.Duration) *ConfirmResult {
	return &ConfirmResult{Kind: ConfirmStillPending, Hint: hint, RetryAfter: retryAfter}
}

func Rejected(reason RejectReason) *ConfirmResult {
	return &ConfirmResult{Kind: ConfirmRejected, Reason: reason}
}

// MetricLabel names the result for the confirm counter.
func (r *ConfirmResult) MetricLabel() string {
	switch r.Kind {
	case ConfirmPaid:
		return "paid"
	case ConfirmStillPending:
		return "pending_" + string(r.Hint)
	default:
		return "rejected_" + string(r.Reason)
	}
}
