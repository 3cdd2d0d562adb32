package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-lottery/internal/metrics"
	"ms-lottery/internal/oracle"
	"ms-lottery/internal/tickets/db"
)

const (
	expiryBatch   = 100
	ExpiredReason = "payment window expired"
)

// ExpireStale fails tickets left unpaid for longer than PaymentExpiry. Each
// ticket is checked with the oracle first: a settled payment is recorded
// instead, and a ticket the oracle cannot vouch for is left for the next
// sweep. It does nothing when no expiry is configured.
func (s *LotteryService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if s.Settings.PaymentExpiry <= 0 {
		return 0, nil
	}

	stale, err := s.Tickets.ListStaleUnpaid(ctx, now.Add(-s.Settings.PaymentExpiry).UTC(), expiryBatch)
	if err != nil {
		return 0, fmt.Errorf("expire stale tickets: %w", err)
	}

	expired := 0
	for _, t := range stale {
		started := time.Now()
		outcome := s.Oracle.Verify(ctx, s.paymentRequest(&t))
		metrics.RecordOracle(outcome.Kind.String(), started)

		switch outcome.Kind {
		case oracle.Confirmed:
			if _, err := s.settle(ctx, t.TicketID, t.OwnerID, *outcome.Evidence); err != nil {
				return expired, fmt.Errorf("settle stale ticket %s: %w", t.TicketID, err)
			}
			continue
		case oracle.NotYetObserved:
		default:
			s.Logger.Warn("ORACLE", fmt.Sprintf("oracle unavailable, not expiring %s: %v", t.TicketID, outcome.Err))
			continue
		}

		err := s.Tickets.MarkFailed(ctx, t.TicketID, ExpiredReason)
		if errors.Is(err, db.ErrInvalidTransition) {
			// paid in the meantime
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire ticket %s: %w", t.TicketID, err)
		}
		expired++
		s.Logger.LogTicket("EXPIRE", t.TicketID, ExpiredReason)
		t.FailureReason = ExpiredReason
		s.publish(ctx, "failed", t, s.Events.PublishTicketFailed)
	}
	metrics.RecordExpired(expired)
	return expired, nil
}

// RunExpirySweeper calls ExpireStale every interval until ctx ends.
func (s *LotteryService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if s.Settings.PaymentExpiry <= 0 || interval <= 0 {
		return
	}
	s.Logger.Info("TICKET", fmt.Sprintf("expiry sweeper started (expiry %s, every %s)", s.Settings.PaymentExpiry, interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx, s.now()); err != nil {
				s.Logger.Error("TICKET", err.Error())
			}
		}
	}
}
