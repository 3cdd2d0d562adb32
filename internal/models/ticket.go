package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Lottery number domain.
const (
	NumbersPerTicket = 6
	MinNumber        = 1
	MaxNumber        = 42
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID        string           `bun:"ticket_id,pk" json:"ticket_id"`
	OwnerID         string           `bun:"owner_id,notnull" json:"owner_id"`
	OwnerName       string           `bun:"owner_name" json:"owner_name,omitempty"`
	Numbers         Numbers          `bun:"numbers,notnull,type:varchar(32)" json:"numbers"`
	Bonus           int              `bun:"bonus,notnull" json:"bonus"`
	Status          TicketStatus     `bun:"status,notnull" json:"status"`
	CreatedAt       time.Time        `bun:"created_at,notnull" json:"created_at"`
	PaidAt          time.Time        `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	PaymentEvidence *PaymentEvidence `bun:"payment_evidence,type:jsonb" json:"payment_evidence,omitempty"`
	FailureReason   string           `bun:"failure_reason,nullzero" json:"failure_reason,omitempty"`
}

// IsPaid reports whether the ticket reached its terminal paid state.
func (t *Ticket) IsPaid() bool {
	return t.Status == StatusPaid
}

// Validate checks the drawn numbers and the bonus against the lottery domain.
func (t *Ticket) Validate() error {
	if t.TicketID == "" {
		return fmt.Errorf("ticket id is empty")
	}
	if t.OwnerID == "" {
		return fmt.Errorf("ticket %s has no owner", t.TicketID)
	}
	if len(t.Numbers) != NumbersPerTicket {
		return fmt.Errorf("ticket %s has %d numbers, want %d", t.TicketID, len(t.Numbers), NumbersPerTicket)
	}
	seen := make(map[int]bool, NumbersPerTicket)
	for _, n := range t.Numbers {
		if n < MinNumber || n > MaxNumber {
			return fmt.Errorf("ticket %s number %d out of range", t.TicketID, n)
		}
		if seen[n] {
			return fmt.Errorf("ticket %s number %d drawn twice", t.TicketID, n)
		}
		seen[n] = true
	}
	if t.Bonus < MinNumber || t.Bonus > MaxNumber {
		return fmt.Errorf("ticket %s bonus %d out of range", t.TicketID, t.Bonus)
	}
	return nil
}

// Numbers is stored as a comma separated list ("3,9,14,20,31,42") so the
// same column works on Postgres and SQLite.
type Numbers []int

func (n Numbers) String() string {
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (n Numbers) Value() (driver.Value, error) {
	return n.String(), nil
}

func (n *Numbers) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*n = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("numbers: unsupported source type %T", src)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		*n = Numbers{}
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(Numbers, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("numbers: invalid value %q: %w", p, err)
		}
		out = append(out, v)
	}
	*n = out
	return nil
}

// TicketView is the rendering-agnostic shape returned by the HTTP API.
type TicketView struct {
	TicketID  string           `json:"ticket_id"`
	Numbers   []int            `json:"numbers"`
	Bonus     int              `json:"bonus"`
	Status    TicketStatus     `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	PaidAt    *time.Time       `json:"paid_at,omitempty"`
	Evidence  *PaymentEvidence `json:"payment_evidence,omitempty"`
}

func (t Ticket) ToView() TicketView {
	view := TicketView{
		TicketID:  t.TicketID,
		Numbers:   []int(t.Numbers),
		Bonus:     t.Bonus,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		Evidence:  t.PaymentEvidence,
	}
	if !t.PaidAt.IsZero() {
		paidAt := t.PaidAt
		view.PaidAt = &paidAt
	}
	return view
}
