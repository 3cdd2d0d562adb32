package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-lottery/internal/models"
)

var (
	ErrDuplicateID       = errors.New("ticket id already exists")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrAlreadyPaid       = errors.New("ticket already paid")
	ErrOwnerMismatch     = errors.New("ticket belongs to another owner")
	ErrTicketFailed      = errors.New("ticket is failed")
	ErrInvalidTransition = errors.New("invalid ticket transition")
)

type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

// CreateTicket inserts a new ticket. A collision on ticket_id is reported as
// ErrDuplicateID so the caller can draw a fresh identifier.
func (d *DB) CreateTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(&ticket).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert ticket %s: %w", ticket.TicketID, err)
	}
	return nil
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	return getTicket(ctx, d.Bun, id)
}

// GetTicketsByOwner returns the owner's tickets newest first. The result is
// never nil.
func (d *DB) GetTicketsByOwner(ctx context.Context, ownerID string) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0)
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("owner_id = ?", ownerID).
		OrderExpr("created_at DESC, ticket_id DESC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list tickets of %s: %w", ownerID, err)
	}
	return tickets, nil
}

// MarkPaid moves the ticket to paid and records the evidence. The check and
// the write are a single conditional UPDATE, so of two concurrent callers
// exactly one succeeds; the other gets the stored ticket with ErrAlreadyPaid.
func (d *DB) MarkPaid(ctx context.Context, ticketID, ownerID string, evidence models.PaymentEvidence, paidAt time.Time) (*models.Ticket, error) {
	var out *models.Ticket
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.StatusPaid).
			Set("paid_at = ?", paidAt).
			Set("payment_evidence = ?", evidence).
			Where("ticket_id = ?", ticketID).
			Where("owner_id = ?", ownerID).
			Where("status IN (?)", bun.In(models.SourceStatuses(models.EvtPaymentConfirmed))).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark ticket %s paid: %w", ticketID, err)
		}

		t, err := getTicket(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		out = t
		if rowsAffected(res) == 1 {
			return nil
		}
		return classifyRejected(t, ownerID)
	})
	return out, err
}

// MarkAwaitingPayment records that payment instructions were issued. Calling
// it again on an awaiting ticket is a no-op.
func (d *DB) MarkAwaitingPayment(ctx context.Context, ticketID, ownerID string) (*models.Ticket, error) {
	var out *models.Ticket
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.StatusAwaitingPayment).
			Where("ticket_id = ?", ticketID).
			Where("owner_id = ?", ownerID).
			Where("status IN (?)", bun.In(models.SourceStatuses(models.EvtInstructionsIssued))).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark ticket %s awaiting payment: %w", ticketID, err)
		}

		t, err := getTicket(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		out = t
		if rowsAffected(res) == 1 {
			return nil
		}
		return classifyRejected(t, ownerID)
	})
	return out, err
}

// MarkFailed moves an unpaid ticket to failed. Paid tickets are never touched.
func (d *DB) MarkFailed(ctx context.Context, ticketID, reason string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.StatusFailed).
		Set("failure_reason = ?", reason).
		Where("ticket_id = ?", ticketID).
		Where("status IN (?)", bun.In(models.SourceStatuses(models.EvtUnrecoverable))).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark ticket %s failed: %w", ticketID, err)
	}
	if rowsAffected(res) == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ListStaleUnpaid returns unpaid tickets created before cutoff, oldest first.
func (d *DB) ListStaleUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0)
	q := d.Bun.NewSelect().
		Model(&tickets).
		Where("status IN (?)", bun.In([]models.TicketStatus{models.StatusCreated, models.StatusAwaitingPayment})).
		Where("created_at < ?", cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list stale tickets: %w", err)
	}
	return tickets, nil
}

func (d *DB) HealthCheck(ctx context.Context) error {
	return d.Bun.PingContext(ctx)
}

func getTicket(ctx context.Context, idb bun.IDB, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := idb.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return &ticket, nil
}

// classifyRejected explains why a conditional update matched no row.
func classifyRejected(t *models.Ticket, ownerID string) error {
	switch {
	case t.OwnerID != ownerID:
		return ErrOwnerMismatch
	case t.Status == models.StatusPaid:
		return ErrAlreadyPaid
	case t.Status == models.StatusFailed:
		return ErrTicketFailed
	default:
		return ErrInvalidTransition
	}
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
