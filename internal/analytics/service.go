package analytics

import (
	"context"
	"fmt"
	"time"

	"ms-lottery/internal/models"
	"ms-lottery/internal/ton"
)

const (
	DefaultWindowDays = 30
	MaxWindowDays     = 365
)

type Store interface {
	CountByStatus(ctx context.Context) ([]StatusCount, error)
	CountPlayers(ctx context.Context) (int, error)
	GetPaidSince(ctx context.Context, since time.Time) ([]models.Ticket, error)
}

// Service handles analytics operations
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Summary is the public sales overview of the lottery.
type Summary struct {
	TotalTickets    int                         `json:"total_tickets"`
	TicketsByStatus map[models.TicketStatus]int `json:"tickets_by_status"`
	Players         int                         `json:"players"`
	WindowDays      int                         `json:"window_days"`
	WindowSold      int                         `json:"window_tickets_sold"`
	WindowRevenue   string                      `json:"window_revenue_ton"`
	DailySales      []DailySalesMetrics         `json:"daily_sales"`
}

// DailySalesMetrics contains paid tickets and received TON for a single UTC day
type DailySalesMetrics struct {
	Date        string `json:"date"`
	TicketsSold int    `json:"tickets_sold"`
	RevenueTON  string `json:"revenue_ton"`
}

// GetSummary aggregates the whole table plus the daily sales of the last
// days (clamped to 1..MaxWindowDays, 0 means DefaultWindowDays).
func (s *Service) GetSummary(ctx context.Context, days int) (*Summary, error) {
	switch {
	case days == 0:
		days = DefaultWindowDays
	case days < 1:
		days = 1
	case days > MaxWindowDays:
		days = MaxWindowDays
	}

	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tickets by status: %w", err)
	}
	players, err := s.store.CountPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count players: %w", err)
	}

	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))
	paid, err := s.store.GetPaidSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load paid tickets since %s: %w", since.Format(time.DateOnly), err)
	}

	summary := &Summary{
		TicketsByStatus: make(map[models.TicketStatus]int, len(counts)),
		Players:         players,
		WindowDays:      days,
		WindowSold:      len(paid),
		DailySales:      []DailySalesMetrics{},
	}
	for _, c := range counts {
		summary.TicketsByStatus[c.Status] = c.Count
		summary.TotalTickets += c.Count
	}

	var windowNano uint64
	var day *DailySalesMetrics
	var dayNano uint64
	for _, t := range paid {
		date := t.PaidAt.UTC().Format(time.DateOnly)
		if day == nil || day.Date != date {
			if day != nil {
				day.RevenueTON = ton.FormatTON(dayNano)
				summary.DailySales = append(summary.DailySales, *day)
			}
			day = &DailySalesMetrics{Date: date}
			dayNano = 0
		}
		day.TicketsSold++
		if t.PaymentEvidence != nil {
			dayNano += t.PaymentEvidence.AmountNano
			windowNano += t.PaymentEvidence.AmountNano
		}
	}
	if day != nil {
		day.RevenueTON = ton.FormatTON(dayNano)
		summary.DailySales = append(summary.DailySales, *day)
	}
	summary.WindowRevenue = ton.FormatTON(windowNano)

	return summary, nil
}
