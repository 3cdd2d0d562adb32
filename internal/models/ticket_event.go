package models

import (
	"time"

	"github.com/google/uuid"
)

// TicketEventDto is the payload published on the ticket topics.
type TicketEventDto struct {
	EventID    string           `json:"event_id"`
	Type       string           `json:"type"`
	TicketID   string           `json:"ticket_id"`
	OwnerID    string           `json:"owner_id"`
	Numbers    []int            `json:"numbers"`
	Bonus      int              `json:"bonus"`
	Status     TicketStatus     `json:"status"`
	Evidence   *PaymentEvidence `json:"payment_evidence,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

const (
	TicketEventCreated = "ticket_created"
	TicketEventPaid    = "ticket_paid"
	TicketEventFailed  = "ticket_failed"
)

func NewTicketEventDto(eventType string, t Ticket) TicketEventDto {
	return TicketEventDto{
		EventID:    uuid.NewString(),
		Type:       eventType,
		TicketID:   t.TicketID,
		OwnerID:    t.OwnerID,
		Numbers:    []int(t.Numbers),
		Bonus:      t.Bonus,
		Status:     t.Status,
		Evidence:   t.PaymentEvidence,
		OccurredAt: time.Now().UTC(),
	}
}
