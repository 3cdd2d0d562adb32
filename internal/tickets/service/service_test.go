package tickets_test

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-lottery/internal/logger"
	"ms-lottery/internal/models"
	"ms-lottery/internal/oracle"
	"ms-lottery/internal/tickets/db"
	"ms-lottery/internal/tickets/generator"
	lotteryredis "ms-lottery/internal/tickets/redis"
	tickets "ms-lottery/internal/tickets/service"
)

const (
	wallet = "0:e7fbb7e677fa0a18c7c9c266e28a041a4a04cd8776f25c4454ea90c84fdb6f36"
	price  = uint64(1_000_000_000)
)

// MockOracle is a scriptable oracle.Verifier.
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Verify(ctx context.Context, req oracle.Request) oracle.Outcome {
	args := m.Called(ctx, req)
	return args.Get(0).(oracle.Outcome)
}

// fixedGenerator hands out ids from a script and always draws the same numbers.
type fixedGenerator struct {
	mu  sync.Mutex
	ids []string
}

func (g *fixedGenerator) NewTicketID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ids[0]
	if len(g.ids) > 1 {
		g.ids = g.ids[1:]
	}
	return id
}

func (g *fixedGenerator) DrawNumbers() (models.Numbers, int) {
	return models.Numbers{4, 8, 15, 16, 23, 42}, 42
}

type recordingEvents struct {
	mu      sync.Mutex
	created []string
	paid    []string
	failed  []string
}

func (r *recordingEvents) PublishTicketCreated(_ context.Context, t models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, t.TicketID)
	return nil
}

func (r *recordingEvents) PublishTicketPaid(_ context.Context, t models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paid = append(r.paid, t.TicketID)
	return nil
}

func (r *recordingEvents) PublishTicketFailed(_ context.Context, t models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, t.TicketID)
	return nil
}

func setupStore(t *testing.T) *db.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	_, err = bunDB.NewCreateTable().Model((*models.Ticket)(nil)).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewCreateTable().Model((*models.User)(nil)).Exec(ctx)
	require.NoError(t, err)
	return db.New(bunDB)
}

func settings() tickets.Settings {
	return tickets.Settings{
		ReceivingAddress: wallet,
		PriceNano:        price,
		Network:          "testnet",
		ConfirmCooldown:  10 * time.Second,
		OracleBackoff:    30 * time.Second,
	}
}

func newService(t *testing.T, store *db.DB, gen tickets.Generator, o oracle.Verifier) (*tickets.LotteryService, *recordingEvents) {
	t.Helper()
	if gen == nil {
		g, err := generator.New(rand.Reader)
		require.NoError(t, err)
		gen = g
	}
	events := &recordingEvents{}
	svc := tickets.NewLotteryService(store, store, gen, o, settings(), logger.NewLoggerWithWriter(io.Discard)).
		WithEvents(events)
	return svc, events
}

func evidence(memo string) models.PaymentEvidence {
	return models.PaymentEvidence{
		TxHash:      "tx-" + memo,
		LogicalTime: "47000000000001",
		AmountNano:  price,
		Source:      "0:1111111111111111111111111111111111111111111111111111111111111111",
		Destination: wallet,
		Memo:        memo,
		Utime:       1700000000,
	}
}

func TestPurchaseCreatesTicket(t *testing.T) {
	store := setupStore(t)
	svc, events := newService(t, store, nil, new(MockOracle))
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, ticket.Status)
	assert.NoError(t, ticket.Validate())

	stored, err := store.GetTicketByID(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.Numbers, stored.Numbers)
	assert.Equal(t, []string{ticket.TicketID}, events.created)
}

func TestPurchaseRetriesOnDuplicateID(t *testing.T) {
	store := setupStore(t)
	gen := &fixedGenerator{ids: []string{"TONLOTO_A", "TONLOTO_A", "TONLOTO_A", "TONLOTO_B"}}
	svc, _ := newService(t, store, gen, new(MockOracle))
	ctx := context.Background()

	first, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)
	assert.Equal(t, "TONLOTO_A", first.TicketID)

	second, err := svc.Purchase(ctx, "U2", "")
	require.NoError(t, err)
	assert.Equal(t, "TONLOTO_B", second.TicketID)

	stored, err := store.GetTicketByID(ctx, "TONLOTO_A")
	require.NoError(t, err)
	assert.Equal(t, "U1", stored.OwnerID)
}

func TestPurchaseGenerationExhausted(t *testing.T) {
	store := setupStore(t)
	gen := &fixedGenerator{ids: []string{"TONLOTO_A"}}
	svc, _ := newService(t, store, gen, new(MockOracle))
	ctx := context.Background()

	_, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)

	ticket, err := svc.Purchase(ctx, "U2", "")
	assert.ErrorIs(t, err, tickets.ErrGenerationExhausted)
	assert.Nil(t, ticket)

	list, err := svc.ListTickets(ctx, "U2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

type failingStore struct {
	*db.DB
	createErr error
	paidErr   error
}

func (f *failingStore) CreateTicket(ctx context.Context, t models.Ticket) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.DB.CreateTicket(ctx, t)
}

func (f *failingStore) MarkPaid(ctx context.Context, id, owner string, ev models.PaymentEvidence, at time.Time) (*models.Ticket, error) {
	if f.paidErr != nil {
		return nil, f.paidErr
	}
	return f.DB.MarkPaid(ctx, id, owner, ev, at)
}

func TestPurchaseStoreFailureSurfaced(t *testing.T) {
	store := &failingStore{DB: setupStore(t), createErr: errors.New("connection refused")}
	gen, err := generator.NewDefault()
	require.NoError(t, err)
	events := &recordingEvents{}
	svc := tickets.NewLotteryService(store, store, gen, new(MockOracle), settings(), logger.NewLoggerWithWriter(io.Discard)).
		WithEvents(events)

	ticket, err := svc.Purchase(context.Background(), "U1", "")
	assert.Error(t, err)
	assert.Nil(t, ticket)
	assert.Empty(t, events.created)
}

func TestManyPurchasesHaveDistinctIDs(t *testing.T) {
	store := setupStore(t)
	svc, _ := newService(t, store, nil, new(MockOracle))
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		ticket, err := svc.Purchase(ctx, fmt.Sprintf("U%d", i%7), "")
		require.NoError(t, err)
		require.False(t, seen[ticket.TicketID], "duplicate id %s", ticket.TicketID)
		seen[ticket.TicketID] = true
	}
}

func TestPurchaseToPaidScenario(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, events := newService(t, store, nil, o)
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, ticket.Status)

	instr, err := svc.RequestPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, ticket.TicketID, instr.TicketID)
	assert.Equal(t, ticket.TicketID, instr.Memo)
	assert.Equal(t, wallet, instr.Address)
	assert.Equal(t, "1", instr.AmountTON)
	assert.Contains(t, instr.TransferURL, "ton://transfer/")
	assert.Equal(t, models.StatusAwaitingPayment, instr.Ticket.Status)

	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.NotObserved()).Once()
	res, err := svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.ConfirmStillPending, res.Kind)
	assert.Equal(t, tickets.HintAwaitingSettlement, res.Hint)

	stored, err := store.GetTicketByID(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.False(t, stored.IsPaid())

	ev := evidence(ticket.TicketID)
	o.On("Verify", mock.Anything, mock.MatchedBy(func(req oracle.Request) bool {
		return req.Memo == ticket.TicketID && req.ExpectedNano == price && req.ExpectedAddress == wallet
	})).Return(oracle.ConfirmedWith(ev)).Once()
	res, err = svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	require.Equal(t, tickets.ConfirmPaid, res.Kind)
	assert.False(t, res.AlreadySettled)
	assert.Equal(t, ticket.Numbers, res.Ticket.Numbers)
	assert.Equal(t, ev, *res.Ticket.PaymentEvidence)

	list, err := svc.ListTickets(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ticket.TicketID, list[0].TicketID)
	assert.Equal(t, models.StatusPaid, list[0].Status)
	assert.Equal(t, []string{ticket.TicketID}, events.paid)
	o.AssertExpectations(t)
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, events := newService(t, store, nil, o)
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)
	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.ConfirmedWith(evidence(ticket.TicketID)))

	first, err := svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	second, err := svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)

	require.Equal(t, tickets.ConfirmPaid, first.Kind)
	require.Equal(t, tickets.ConfirmPaid, second.Kind)
	assert.True(t, second.AlreadySettled)
	assert.Equal(t, first.Ticket.PaymentEvidence, second.Ticket.PaymentEvidence)
	assert.True(t, first.Ticket.PaidAt.Equal(second.Ticket.PaidAt))
	o.AssertNumberOfCalls(t, "Verify", 1)
	assert.Len(t, events.paid, 1)
}

func TestConcurrentConfirmationsSettleOnce(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, events := newService(t, store, nil, o)
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)
	_, err = svc.RequestPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.ConfirmedWith(evidence(ticket.TicketID)))

	const callers = 2
	results := make([]*tickets.ConfirmResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, tickets.ConfirmPaid, results[i].Kind)
		assert.Equal(t, models.StatusPaid, results[i].Ticket.Status)
		if !results[i].AlreadySettled {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, events.paid, 1)
}

func TestConfirmPaymentForeignOwner(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, _ := newService(t, store, nil, o)
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "A", "")
	require.NoError(t, err)

	res, err := svc.ConfirmPayment(ctx, ticket.TicketID, "B")
	require.NoError(t, err)
	assert.Equal(t, tickets.ConfirmRejected, res.Kind)
	assert.Equal(t, tickets.RejectForbidden, res.Reason)

	stored, err := store.GetTicketByID(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, stored.Status)
	assert.Nil(t, stored.PaymentEvidence)
	o.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestConfirmPaymentUnknownAndFailedTickets(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, _ := newService(t, store, nil, o)
	ctx := context.Background()

	res, err := svc.ConfirmPayment(ctx, "TONLOTO_missing", "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.RejectNotFound, res.Reason)

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, ticket.TicketID, "test"))

	res, err = svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.ConfirmRejected, res.Kind)
	assert.Equal(t, tickets.RejectTicketFailed, res.Reason)
	o.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestConfirmPaymentDistinguishesOracleOutage(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, _ := newService(t, store, nil, o)
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)

	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.UnavailableBecause(errors.New("429"))).Once()
	degraded, err := svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)

	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.NotObserved()).Once()
	waiting, err := svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)

	assert.Equal(t, tickets.ConfirmStillPending, degraded.Kind)
	assert.Equal(t, tickets.ConfirmStillPending, waiting.Kind)
	assert.Equal(t, tickets.HintOracleDegraded, degraded.Hint)
	assert.Equal(t, tickets.HintAwaitingSettlement, waiting.Hint)
	assert.NotEqual(t, degraded.Hint, waiting.Hint)
	assert.Equal(t, 30*time.Second, degraded.RetryAfter)

	stored, err := store.GetTicketByID(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, stored.Status)
}

func TestConfirmPaymentStoreFailureSurfaced(t *testing.T) {
	store := &failingStore{DB: setupStore(t)}
	o := new(MockOracle)
	gen, err := generator.NewDefault()
	require.NoError(t, err)
	svc := tickets.NewLotteryService(store, store, gen, o, settings(), logger.NewLoggerWithWriter(io.Discard))
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)
	store.paidErr = errors.New("database is locked")
	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.ConfirmedWith(evidence(ticket.TicketID)))

	res, err := svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	assert.Error(t, err)
	assert.Nil(t, res)

	stored, err := store.GetTicketByID(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, stored.Status)
}

func TestConfirmPaymentCooldown(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, _ := newService(t, store, nil, o)
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	svc.WithCooldown(lotteryredis.NewCooldown(client))
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)

	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.NotObserved()).Once()
	res, err := svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.HintAwaitingSettlement, res.Hint)

	res, err = svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.ConfirmStillPending, res.Kind)
	assert.Equal(t, tickets.HintCheckThrottled, res.Hint)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	o.AssertNumberOfCalls(t, "Verify", 1)

	// a payment recorded elsewhere is visible even while throttled
	_, err = store.MarkPaid(ctx, ticket.TicketID, "U1", evidence(ticket.TicketID), time.Now().UTC())
	require.NoError(t, err)
	res, err = svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.ConfirmPaid, res.Kind)
	o.AssertNumberOfCalls(t, "Verify", 1)
}

func TestConfirmPaymentCooldownExpires(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, _ := newService(t, store, nil, o)
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	svc.WithCooldown(lotteryredis.NewCooldown(client))
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)

	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.UnavailableBecause(errors.New("timeout"))).Once()
	_, err = svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)
	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.ConfirmedWith(evidence(ticket.TicketID))).Once()
	res, err := svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.ConfirmPaid, res.Kind)
	assert.False(t, mr.Exists("lottery:confirm_cooldown:"+ticket.TicketID))
}

type brokenCooldown struct{}

func (brokenCooldown) Start(context.Context, string, string, time.Duration) error {
	return errors.New("redis down")
}

func (brokenCooldown) Remaining(context.Context, string) (time.Duration, error) {
	return 0, errors.New("redis down")
}

func (brokenCooldown) Clear(context.Context, string) error { return errors.New("redis down") }

func TestConfirmPaymentIgnoresCooldownFailures(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, _ := newService(t, store, nil, o)
	svc.WithCooldown(brokenCooldown{})
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)

	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.NotObserved()).Once()
	res, err := svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.HintAwaitingSettlement, res.Hint)

	o.On("Verify", mock.Anything, mock.Anything).Return(oracle.ConfirmedWith(evidence(ticket.TicketID))).Once()
	res, err = svc.ConfirmPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.ConfirmPaid, res.Kind)
}

func TestRequestPaymentRejections(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, _ := newService(t, store, nil, o)
	ctx := context.Background()

	_, err := svc.RequestPayment(ctx, "TONLOTO_missing", "U1")
	assert.ErrorIs(t, err, tickets.ErrTicketNotFound)

	ticket, err := svc.Purchase(ctx, "A", "")
	require.NoError(t, err)

	_, err = svc.RequestPayment(ctx, ticket.TicketID, "B")
	assert.ErrorIs(t, err, tickets.ErrForbidden)

	stored, err := store.GetTicketByID(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, stored.Status)
}

func TestRequestPaymentOnPaidTicket(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	svc, _ := newService(t, store, nil, o)
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)
	_, err = store.MarkPaid(ctx, ticket.TicketID, "U1", evidence(ticket.TicketID), time.Now().UTC())
	require.NoError(t, err)

	instr, err := svc.RequestPayment(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.True(t, instr.Ticket.IsPaid())
}

func TestPaymentDetailsIsReadOnly(t *testing.T) {
	store := setupStore(t)
	svc, _ := newService(t, store, nil, new(MockOracle))
	ctx := context.Background()

	ticket, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)

	instr, err := svc.PaymentDetails(ctx, ticket.TicketID, "U1")
	require.NoError(t, err)
	assert.Equal(t, ticket.TicketID, instr.Memo)
	assert.Equal(t, price, instr.AmountNano)

	stored, err := store.GetTicketByID(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, stored.Status)

	_, err = svc.PaymentDetails(ctx, ticket.TicketID, "U2")
	assert.ErrorIs(t, err, tickets.ErrForbidden)
	_, err = svc.PaymentDetails(ctx, "missing", "U1")
	assert.ErrorIs(t, err, tickets.ErrTicketNotFound)
}

func TestListTicketsEmpty(t *testing.T) {
	store := setupStore(t)
	svc, _ := newService(t, store, nil, new(MockOracle))

	list, err := svc.ListTickets(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Len(t, list, 0)
}

func TestExpireStale(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	gen := &fixedGenerator{ids: []string{"OLD", "OLD_PAID", "FRESH"}}
	s := settings()
	s.PaymentExpiry = time.Hour
	events := &recordingEvents{}
	now := time.Now().UTC()
	svc := tickets.NewLotteryService(store, store, gen, o, s, logger.NewLoggerWithWriter(io.Discard)).
		WithEvents(events).
		WithClock(func() time.Time { return now.Add(-2 * time.Hour) })
	ctx := context.Background()

	_, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)
	_, err = svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)
	_, err = store.MarkPaid(ctx, "OLD_PAID", "U1", evidence("OLD_PAID"), now)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })
	_, err = svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)

	o.On("Verify", mock.Anything, mock.MatchedBy(func(req oracle.Request) bool {
		return req.Memo == "OLD" && !req.Since.IsZero()
	})).Return(oracle.NotObserved()).Once()

	expired, err := svc.ExpireStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, []string{"OLD"}, events.failed)
	o.AssertExpectations(t)

	old, err := store.GetTicketByID(ctx, "OLD")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, old.Status)
	assert.Equal(t, tickets.ExpiredReason, old.FailureReason)

	fresh, err := store.GetTicketByID(ctx, "FRESH")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, fresh.Status)
}

func TestExpireStaleSettlesPaymentMadeInTime(t *testing.T) {
	store := setupStore(t)
	o := new(MockOracle)
	gen := &fixedGenerator{ids: []string{"LATE", "DOWN"}}
	s := settings()
	s.PaymentExpiry = time.Hour
	events := &recordingEvents{}
	now := time.Now().UTC()
	svc := tickets.NewLotteryService(store, store, gen, o, s, logger.NewLoggerWithWriter(io.Discard)).
		WithEvents(events).
		WithClock(func() time.Time { return now.Add(-2 * time.Hour) })
	ctx := context.Background()

	_, err := svc.Purchase(ctx, "U1", "")
	require.NoError(t, err)
	_, err = svc.Purchase(ctx, "U2", "")
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	o.On("Verify", mock.Anything, mock.MatchedBy(func(req oracle.Request) bool { return req.Memo == "LATE" })).
		Return(oracle.ConfirmedWith(evidence("LATE")))
	o.On("Verify", mock.Anything, mock.MatchedBy(func(req oracle.Request) bool { return req.Memo == "DOWN" })).
		Return(oracle.UnavailableBecause(errors.New("timeout")))

	expired, err := svc.ExpireStale(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Empty(t, events.failed)
	assert.Equal(t, []string{"LATE"}, events.paid)

	late, err := store.GetTicketByID(ctx, "LATE")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, late.Status)

	down, err := store.GetTicketByID(ctx, "DOWN")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, down.Status)

	res, err := svc.ConfirmPayment(ctx, "LATE", "U1")
	require.NoError(t, err)
	assert.Equal(t, tickets.ConfirmPaid, res.Kind)
	assert.True(t, res.AlreadySettled)
}

func TestExpireStaleDisabledByDefault(t *testing.T) {
	store := setupStore(t)
	svc, _ := newService(t, store, nil, new(MockOracle))

	n, err := svc.ExpireStale(context.Background(), time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWalletFlow(t *testing.T) {
	store := setupStore(t)
	svc, _ := newService(t, store, nil, new(MockOracle))
	ctx := context.Background()

	user, err := svc.StartUser(ctx, "U1", "alice")
	require.NoError(t, err)
	assert.False(t, user.WalletConnected)

	_, err = svc.LinkWallet(ctx, "U1", "metamask")
	assert.ErrorIs(t, err, tickets.ErrUnknownProvider)

	provider, err := svc.LinkWallet(ctx, "U1", "Tonkeeper")
	require.NoError(t, err)
	assert.Equal(t, tickets.ProviderTonkeeper, provider)

	require.NoError(t, svc.WalletConnected(ctx, "U1", provider))
	user, err = store.GetUser(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, user.WalletConnected)
	assert.Equal(t, "tonkeeper", user.WalletProvider)
}
