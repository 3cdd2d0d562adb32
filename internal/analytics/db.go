package analytics

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ms-lottery/internal/models"
)

// DB handles the read-only aggregate queries over the tickets table.
type DB struct {
	bun *bun.DB
}

func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// StatusCount is one row of the per-status ticket count.
type StatusCount struct {
	Status models.TicketStatus `bun:"status"`
	Count  int                 `bun:"count"`
}

// CountByStatus counts tickets per lifecycle status.
func (db *DB) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := db.bun.NewSelect().
		TableExpr("tickets").
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("status").
		OrderExpr("status").
		Scan(ctx, &rows)

	return rows, err
}

// CountPlayers counts owners holding at least one paid ticket.
func (db *DB) CountPlayers(ctx context.Context) (int, error) {
	var count int
	err := db.bun.NewSelect().
		TableExpr("tickets").
		ColumnExpr("COUNT(DISTINCT owner_id)").
		Where("status = ?", models.StatusPaid).
		Scan(ctx, &count)

	return count, err
}

// GetPaidSince returns tickets paid at or after since, oldest payment first.
func (db *DB) GetPaidSince(ctx context.Context, since time.Time) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0)
	err := db.bun.NewSelect().
		Model(&tickets).
		Where("status = ?", models.StatusPaid).
		Where("paid_at >= ?", since).
		Order("paid_at ASC").
		Scan(ctx)

	return tickets, err
}
