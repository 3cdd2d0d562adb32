package models

import "fmt"

type TicketStatus string

const (
	StatusCreated         TicketStatus = "created"
	StatusAwaitingPayment TicketStatus = "awaiting_payment"
	StatusPaid            TicketStatus = "paid"
	StatusFailed          TicketStatus = "failed"
)

// TicketEvent drives a ticket from one status to the next.
type TicketEvent string

const (
	EvtInstructionsIssued TicketEvent = "instructions_issued"
	EvtPaymentPending     TicketEvent = "payment_pending"
	EvtPaymentConfirmed   TicketEvent = "payment_confirmed"
	EvtUnrecoverable      TicketEvent = "unrecoverable"
)

// IsTerminal reports whether no further transition is allowed.
func (s TicketStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// NextStatus computes the status reached from cur on evt. Invalid transitions
// return cur together with an error.
func NextStatus(cur TicketStatus, evt TicketEvent) (TicketStatus, error) {
	switch cur {
	case StatusCreated:
		switch evt {
		case EvtInstructionsIssued:
			return StatusAwaitingPayment, nil
		case EvtPaymentConfirmed:
			return StatusPaid, nil
		case EvtUnrecoverable:
			return StatusFailed, nil
		}
	case StatusAwaitingPayment:
		switch evt {
		case EvtInstructionsIssued, EvtPaymentPending:
			return StatusAwaitingPayment, nil
		case EvtPaymentConfirmed:
			return StatusPaid, nil
		case EvtUnrecoverable:
			return StatusFailed, nil
		}
	}
	return cur, fmt.Errorf("invalid transition: %s --%s--> ?", cur, evt)
}

// SourceStatuses lists every status from which evt is a valid transition. The
// store uses it to build its conditional updates.
func SourceStatuses(evt TicketEvent) []TicketStatus {
	var out []TicketStatus
	for _, s := range []TicketStatus{StatusCreated, StatusAwaitingPayment, StatusPaid, StatusFailed} {
		if _, err := NextStatus(s, evt); err == nil {
			out = append(out, s)
		}
	}
	return out
}
