package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-lottery/internal/logger"
	"ms-lottery/internal/metrics"
	"ms-lottery/internal/models"
	"ms-lottery/internal/oracle"
	"ms-lottery/internal/tickets/db"
	"ms-lottery/internal/ton"
)

// MaxGenerationAttempts bounds the redraws after identifier collisions.
const MaxGenerationAttempts = 5

var (
	ErrForbidden           = errors.New("ticket belongs to another owner")
	ErrGenerationExhausted = errors.New("could not allocate a free ticket id")
	ErrTicketNotFound      = db.ErrTicketNotFound
	ErrTicketFailed        = db.ErrTicketFailed
	ErrUnknownProvider     = errors.New("unknown wallet provider")
)

type TicketStore interface {
	CreateTicket(ctx context.Context, ticket models.Ticket) error
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketsByOwner(ctx context.Context, ownerID string) ([]models.Ticket, error)
	MarkPaid(ctx context.Context, ticketID, ownerID string, evidence models.PaymentEvidence, paidAt time.Time) (*models.Ticket, error)
	MarkAwaitingPayment(ctx context.Context, ticketID, ownerID string) (*models.Ticket, error)
	MarkFailed(ctx context.Context, ticketID, reason string) error
	ListStaleUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error)
}

type UserStore interface {
	EnsureUser(ctx context.Context, userID, username string) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SetWalletConnected(ctx context.Context, userID, provider string) error
}

type Generator interface {
	NewTicketID() string
	DrawNumbers() (models.Numbers, int)
}

type Cooldown interface {
	Start(ctx context.Context, ticketID, reason string, ttl time.Duration) error
	Remaining(ctx context.Context, ticketID string) (time.Duration, error)
	Clear(ctx context.Context, ticketID string) error
}

type EventPublisher interface {
	PublishTicketCreated(ctx context.Context, t models.Ticket) error
	PublishTicketPaid(ctx context.Context, t models.Ticket) error
	PublishTicketFailed(ctx context.Context, t models.Ticket) error
}

// Settings are the system-wide payment parameters.
type Settings struct {
	ReceivingAddress string
	PriceNano        uint64
	Network          string
	ConfirmCooldown  time.Duration
	OracleBackoff    time.Duration
	PaymentExpiry    time.Duration
}

// LotteryService drives tickets through created, awaiting_payment and paid.
// It keeps no ticket state in memory; every call starts from the store.
type LotteryService struct {
	Tickets   TicketStore
	Users     UserStore
	Generator Generator
	Oracle    oracle.Verifier
	Cooldown  Cooldown
	Events    EventPublisher
	Settings  Settings
	Logger    *logger.Logger

	now func() time.Time
}

func NewLotteryService(tickets TicketStore, users UserStore, gen Generator, verifier oracle.Verifier, settings Settings, log *logger.Logger) *LotteryService {
	return &LotteryService{
		Tickets:   tickets,
		Users:     users,
		Generator: gen,
		Oracle:    verifier,
		Cooldown:  noCooldown{},
		Events:    noEvents{},
		Settings:  settings,
		Logger:    log,
		now:       time.Now,
	}
}

// WithCooldown enables the confirm cooldown (Redis backed in production).
func (s *LotteryService) WithCooldown(c Cooldown) *LotteryService {
	if c != nil {
		s.Cooldown = c
	}
	return s
}

func (s *LotteryService) WithEvents(p EventPublisher) *LotteryService {
	if p != nil {
		s.Events = p
	}
	return s
}

func (s *LotteryService) WithClock(now func() time.Time) *LotteryService {
	s.now = now
	return s
}

// Purchase draws a ticket for ownerID and stores it in the created state.
func (s *LotteryService) Purchase(ctx context.Context, ownerID, ownerName string) (*models.Ticket, error) {
	for attempt := 1; attempt <= MaxGenerationAttempts; attempt++ {
		numbers, bonus := s.Generator.DrawNumbers()
		ticket := models.Ticket{
			TicketID:  s.Generator.NewTicketID(),
			OwnerID:   ownerID,
			OwnerName: ownerName,
			Numbers:   numbers,
			Bonus:     bonus,
			Status:    models.StatusCreated,
			CreatedAt: s.now().UTC(),
		}
		if err := ticket.Validate(); err != nil {
			return nil, fmt.Errorf("generated ticket is invalid: %w", err)
		}

		err := s.Tickets.CreateTicket(ctx, ticket)
		if errors.Is(err, db.ErrDuplicateID) {
			s.Logger.Warn("TICKET", fmt.Sprintf("id collision on %s (attempt %d/%d)", ticket.TicketID, attempt, MaxGenerationAttempts))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create ticket for %s: %w", ownerID, err)
		}

		metrics.RecordPurchase()
		s.Logger.LogTicket("CREATE", ticket.TicketID, fmt.Sprintf("owner %s numbers %s bonus %d", ownerID, ticket.Numbers, ticket.Bonus))
		s.publish(ctx, "created", ticket, s.Events.PublishTicketCreated)
		return &ticket, nil
	}

	metrics.RecordGenerationExhausted()
	s.Logger.Error("TICKET", fmt.Sprintf("ticket id generation exhausted for owner %s after %d attempts", ownerID, MaxGenerationAttempts))
	return nil, ErrGenerationExhausted
}

// RequestPayment returns where and how much to pay for the ticket. A paid
// ticket still gets its instructions, with Ticket showing the paid state.
func (s *LotteryService) RequestPayment(ctx context.Context, ticketID, ownerID string) (*models.PaymentInstructions, error) {
	ticket, err := s.Tickets.MarkAwaitingPayment(ctx, ticketID, ownerID)
	switch {
	case err == nil, errors.Is(err, db.ErrAlreadyPaid):
	case errors.Is(err, db.ErrTicketNotFound):
		return nil, ErrTicketNotFound
	case errors.Is(err, db.ErrOwnerMismatch):
		s.Logger.LogSecurity("FORBIDDEN", fmt.Sprintf("owner %s requested payment for %s", ownerID, ticketID))
		return nil, ErrForbidden
	case errors.Is(err, db.ErrTicketFailed):
		return nil, ErrTicketFailed
	default:
		return nil, fmt.Errorf("request payment for %s: %w", ticketID, err)
	}

	s.Logger.LogPayment("INSTRUCTIONS", ticketID, fmt.Sprintf("status %s", ticket.Status))
	return s.instructionsFor(ticket), nil
}

// PaymentDetails returns the same instructions as RequestPayment without
// moving the ticket to awaiting_payment.
func (s *LotteryService) PaymentDetails(ctx context.Context, ticketID, ownerID string) (*models.PaymentInstructions, error) {
	ticket, err := s.Tickets.GetTicketByID(ctx, ticketID)
	if errors.Is(err, db.ErrTicketNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment details for %s: %w", ticketID, err)
	}
	if ticket.OwnerID != ownerID {
		s.Logger.LogSecurity("FORBIDDEN", fmt.Sprintf("owner %s requested payment details for %s", ownerID, ticketID))
		return nil, ErrForbidden
	}
	if ticket.Status == models.StatusFailed {
		return nil, ErrTicketFailed
	}
	return s.instructionsFor(ticket), nil
}

func (s *LotteryService) instructionsFor(ticket *models.Ticket) *models.PaymentInstructions {
	return &models.PaymentInstructions{
		TicketID:    ticket.TicketID,
		OwnerID:     ticket.OwnerID,
		Address:     s.Settings.ReceivingAddress,
		AmountTON:   ton.FormatTON(s.Settings.PriceNano),
		AmountNano:  s.Settings.PriceNano,
		Memo:        ticket.TicketID,
		Network:     s.Settings.Network,
		TransferURL: ton.TransferURL(s.Settings.ReceivingAddress, s.Settings.PriceNano, ticket.TicketID),
		Ticket:      ticket,
	}
}

// ConfirmPayment asks the oracle whether the ticket's payment settled and
// records it. It is idempotent and safe to call concurrently for the same
// ticket from any number of processes.
func (s *LotteryService) ConfirmPayment(ctx context.Context, ticketID, ownerID string) (*ConfirmResult, error) {
	result, err := s.confirm(ctx, ticketID, ownerID)
	if err == nil {
		metrics.RecordConfirm(result.MetricLabel())
	}
	return result, err
}

func (s *LotteryService) confirm(ctx context.Context, ticketID, ownerID string) (*ConfirmResult, error) {
	ticket, err := s.Tickets.GetTicketByID(ctx, ticketID)
	if errors.Is(err, db.ErrTicketNotFound) {
		return Rejected(RejectNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("confirm payment for %s: %w", ticketID, err)
	}
	if ticket.OwnerID != ownerID {
		s.Logger.LogSecurity("FORBIDDEN", fmt.Sprintf("owner %s tried to confirm %s", ownerID, ticketID))
		return Rejected(RejectForbidden), nil
	}
	switch ticket.Status {
	case models.StatusPaid:
		return Paid(ticket, true), nil
	case models.StatusFailed:
		return Rejected(RejectTicketFailed), nil
	}

	remaining, err := s.Cooldown.Remaining(ctx, ticketID)
	if err != nil {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("cooldown lookup failed for %s: %v", ticketID, err))
	} else if remaining > 0 {
		s.Logger.Debug("PAYMENT", fmt.Sprintf("check for %s throttled for %s", ticketID, remaining))
		return StillPending(HintCheckThrottled, remaining), nil
	}

	started := time.Now()
	outcome := s.Oracle.Verify(ctx, s.paymentRequest(ticket))
	metrics.RecordOracle(outcome.Kind.String(), started)

	switch outcome.Kind {
	case oracle.Confirmed:
		return s.settle(ctx, ticketID, ownerID, *outcome.Evidence)
	case oracle.NotYetObserved:
		s.Logger.LogOracle("NOT_YET_OBSERVED", ticketID, "no matching transfer yet")
		s.startCooldown(ctx, ticketID, outcome.Kind, s.Settings.ConfirmCooldown)
		return StillPending(HintAwaitingSettlement, s.Settings.ConfirmCooldown), nil
	case oracle.Unavailable:
		s.Logger.Warn("ORACLE", fmt.Sprintf("oracle unavailable while confirming %s: %v", ticketID, outcome.Err))
		s.startCooldown(ctx, ticketID, outcome.Kind, s.Settings.OracleBackoff)
		return StillPending(HintOracleDegraded, s.Settings.OracleBackoff), nil
	default:
		return nil, fmt.Errorf("unknown oracle outcome %d", outcome.Kind)
	}
}

func (s *LotteryService) paymentRequest(t *models.Ticket) oracle.Request {
	return oracle.Request{
		TicketID:        t.TicketID,
		OwnerID:         t.OwnerID,
		ExpectedNano:    s.Settings.PriceNano,
		ExpectedAddress: s.Settings.ReceivingAddress,
		Memo:            t.TicketID,
		Since:           t.CreatedAt,
	}
}

func (s *LotteryService) settle(ctx context.Context, ticketID, ownerID string, evidence models.PaymentEvidence) (*ConfirmResult, error) {
	ticket, err := s.Tickets.MarkPaid(ctx, ticketID, ownerID, evidence, s.now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, db.ErrAlreadyPaid):
		// a concurrent check won the transition
		s.Logger.LogPayment("ALREADY_PAID", ticketID, "settled by a concurrent confirmation")
		return Paid(ticket, true), nil
	case errors.Is(err, db.ErrTicketNotFound):
		return Rejected(RejectNotFound), nil
	case errors.Is(err, db.ErrOwnerMismatch):
		return Rejected(RejectForbidden), nil
	case errors.Is(err, db.ErrTicketFailed):
		return Rejected(RejectTicketFailed), nil
	default:
		return nil, fmt.Errorf("record payment for %s: %w", ticketID, err)
	}

	s.Logger.LogPayment("PAID", ticketID, fmt.Sprintf("tx %s amount %s TON", evidence.TxHash, ton.FormatTON(evidence.AmountNano)))
	if err := s.Cooldown.Clear(ctx, ticketID); err != nil {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("cooldown clear failed for %s: %v", ticketID, err))
	}
	s.publish(ctx, "paid", *ticket, s.Events.PublishTicketPaid)
	return Paid(ticket, false), nil
}

func (s *LotteryService) startCooldown(ctx context.Context, ticketID string, kind oracle.Kind, ttl time.Duration) {
	if err := s.Cooldown.Start(ctx, ticketID, kind.String(), ttl); err != nil {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("cooldown write failed for %s: %v", ticketID, err))
	}
}

// ListTickets returns the owner's tickets newest first; never nil.
func (s *LotteryService) ListTickets(ctx context.Context, ownerID string) ([]models.Ticket, error) {
	tickets, err := s.Tickets.GetTicketsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tickets of %s: %w", ownerID, err)
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}

// publish sends a ticket event after the row committed. Failures are logged
// only; the ticket is already durable.
func (s *LotteryService) publish(ctx context.Context, name string, t models.Ticket, fn func(context.Context, models.Ticket) error) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(pubCtx, t); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("publish %s event for %s failed: %v", name, t.TicketID, err))
	}
}

type noCooldown struct{}

func (noCooldown) Start(context.Context, string, string, time.Duration) error { return nil }
func (noCooldown) Remaining(context.Context, string) (time.Duration, error)   { return 0, nil }
func (noCooldown) Clear(context.Context, string) error                        { return nil }

type noEvents struct{}

func (noEvents) PublishTicketCreated(context.Context, models.Ticket) error { return nil }
func (noEvents) PublishTicketPaid(context.Context, models.Ticket) error    { return nil }
func (noEvents) PublishTicketFailed(context.Context, models.Ticket) error  { return nil }
