// Package oracle answers one question: has the payment for a ticket been
// observed on chain yet.
package oracle

import (
	"context"
	"time"

	"ms-lottery/internal/models"
)

type Kind int

const (
	// NotYetObserved means the oracle answered and no matching transfer exists.
	NotYetObserved Kind = iota
	// Confirmed carries the evidence of a matching transfer.
	Confirmed
	// Unavailable means the oracle could not answer (timeout, transport error,
	// rate limit, malformed reply).
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Confirmed:
		return "confirmed"
	case Unavailable:
		return "unavailable"
	default:
		return "not_yet_observed"
	}
}

// Outcome is the tagged result of a verification. Evidence is set only when
// Kind is Confirmed; Err only when Kind is Unavailable.
type Outcome struct {
	Kind     Kind
	Evidence *models.PaymentEvidence
	Err      error
}

func ConfirmedWith(ev models.PaymentEvidence) Outcome {
	return Outcome{Kind: Confirmed, Evidence: &ev}
}

func NotObserved() Outcome {
	return Outcome{Kind: NotYetObserved}
}

func UnavailableBecause(err error) Outcome {
	return Outcome{Kind: Unavailable, Err: err}
}

// Request describes the transfer expected for one ticket. Since is when the
// ticket was issued; no matching transfer can be older than that.
type Request struct {
	TicketID        string
	OwnerID         string
	ExpectedNano    uint64
	ExpectedAddress string
	Memo            string
	Since           time.Time
}

// Verifier is implemented by the toncenter client and the static oracle.
type Verifier interface {
	Verify(ctx context.Context, req Request) Outcome
}
