package ticket_api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-lottery/internal/auth"
	"ms-lottery/internal/logger"
	"ms-lottery/internal/metrics"
	"ms-lottery/internal/models"
	"ms-lottery/internal/sse"
	tickets "ms-lottery/internal/tickets/service"
	"ms-lottery/internal/tickets/ticket_api"
)

var secret = []byte("api-secret")

type MockLotteryService struct {
	mock.Mock
}

func (m *MockLotteryService) Purchase(ctx context.Context, ownerID, ownerName string) (*models.Ticket, error) {
	args := m.Called(ownerID, ownerName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockLotteryService) RequestPayment(ctx context.Context, ticketID, ownerID string) (*models.PaymentInstructions, error) {
	args := m.Called(ticketID, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentInstructions), args.Error(1)
}

func (m *MockLotteryService) PaymentDetails(ctx context.Context, ticketID, ownerID string) (*models.PaymentInstructions, error) {
	args := m.Called(ticketID, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentInstructions), args.Error(1)
}

func (m *MockLotteryService) ConfirmPayment(ctx context.Context, ticketID, ownerID string) (*tickets.ConfirmResult, error) {
	args := m.Called(ticketID, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tickets.ConfirmResult), args.Error(1)
}

func (m *MockLotteryService) ListTickets(ctx context.Context, ownerID string) ([]models.Ticket, error) {
	args := m.Called(ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func newRouter(svc *MockLotteryService) http.Handler {
	log := logger.NewLoggerWithWriter(io.Discard)
	h := ticket_api.NewHandler(svc, log)
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(secret, log))
		h.RegisterRoutes(r)
	})
	return r
}

func do(t *testing.T, router http.Handler, method, path, user string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != "" {
		token, err := auth.IssueToken(user, secret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func sampleTicket(status models.TicketStatus) *models.Ticket {
	return &models.Ticket{
		TicketID:  "TONLOTO_000000000001_1",
		OwnerID:   "U1",
		Numbers:   models.Numbers{1, 7, 13, 22, 35, 41},
		Bonus:     7,
		Status:    status,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRequiresAuth(t *testing.T) {
	svc := new(MockLotteryService)
	rec := do(t, newRouter(svc), http.MethodGet, "/api/tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "ListTickets", mock.Anything)
}

func TestPurchase(t *testing.T) {
	svc := new(MockLotteryService)
	svc.On("Purchase", "U1", "alice").Return(sampleTicket(models.StatusCreated), nil)

	rec := do(t, newRouter(svc), http.MethodPost, "/api/tickets", "U1", []byte(`{"owner_name":"alice"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var view models.TicketView
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &view))
	assert.Equal(t, "TONLOTO_000000000001_1", view.TicketID)
	assert.Equal(t, []int{1, 7, 13, 22, 35, 41}, view.Numbers)
	assert.Equal(t, models.StatusCreated, view.Status)
}

func TestPurchaseFailures(t *testing.T) {
	svc := new(MockLotteryService)
	svc.On("Purchase", "U1", "").Return(nil, tickets.ErrGenerationExhausted).Once()
	svc.On("Purchase", "U1", "").Return(nil, errors.New("db down")).Once()
	router := newRouter(svc)

	rec := do(t, router, http.MethodPost, "/api/tickets", "U1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/tickets", "U1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, decode(t, rec).Success)
}

func TestListTicketsEmpty(t *testing.T) {
	svc := new(MockLotteryService)
	svc.On("ListTickets", "U9").Return([]models.Ticket{}, nil)

	rec := do(t, newRouter(svc), http.MethodGet, "/api/tickets", "U9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(decode(t, rec).Data))
}

func TestRequestPayment(t *testing.T) {
	svc := new(MockLotteryService)
	instr := &models.PaymentInstructions{
		TicketID:    "TONLOTO_000000000001_1",
		Address:     "0:e7fbb7e677fa0a18c7c9c266e28a041a4a04cd8776f25c4454ea90c84fdb6f36",
		AmountTON:   "1",
		AmountNano:  1_000_000_000,
		Memo:        "TONLOTO_000000000001_1",
		TransferURL: "ton://transfer/0:e7fbb7e677fa0a18c7c9c266e28a041a4a04cd8776f25c4454ea90c84fdb6f36?amount=1000000000&text=TONLOTO_000000000001_1",
		Ticket:      sampleTicket(models.StatusAwaitingPayment),
	}
	svc.On("RequestPayment", "TONLOTO_000000000001_1", "U1").Return(instr, nil)
	svc.On("RequestPayment", "TONLOTO_000000000001_1", "U2").Return(nil, tickets.ErrForbidden)
	svc.On("RequestPayment", "missing", "U1").Return(nil, tickets.ErrTicketNotFound)
	router := newRouter(svc)

	rec := do(t, router, http.MethodPost, "/api/tickets/TONLOTO_000000000001_1/payment", "U1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.PaymentInstructions
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &got))
	assert.Equal(t, instr.Memo, got.Memo)

	rec = do(t, router, http.MethodPost, "/api/tickets/TONLOTO_000000000001_1/payment", "U2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/tickets/missing/payment", "U1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

}

func TestPaymentQRDoesNotStartPayment(t *testing.T) {
	svc := new(MockLotteryService)
	instr := &models.PaymentInstructions{
		TicketID:    "TONLOTO_000000000001_1",
		Memo:        "TONLOTO_000000000001_1",
		TransferURL: "ton://transfer/0:e7fbb7e677fa0a18c7c9c266e28a041a4a04cd8776f25c4454ea90c84fdb6f36?amount=1000000000&text=TONLOTO_000000000001_1",
		Ticket:      sampleTicket(models.StatusCreated),
	}
	svc.On("PaymentDetails", "TONLOTO_000000000001_1", "U1").Return(instr, nil)
	svc.On("PaymentDetails", "TONLOTO_000000000001_1", "U2").Return(nil, tickets.ErrForbidden)
	router := newRouter(svc)

	rec := do(t, router, http.MethodGet, "/api/tickets/TONLOTO_000000000001_1/payment/qr", "U1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = do(t, router, http.MethodGet, "/api/tickets/TONLOTO_000000000001_1/payment/qr", "U2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	svc.AssertNotCalled(t, "RequestPayment", mock.Anything, mock.Anything)
}

func TestConfirmPayment(t *testing.T) {
	paid := sampleTicket(models.StatusPaid)
	paid.PaymentEvidence = &models.PaymentEvidence{TxHash: "abc", AmountNano: 1_000_000_000}

	svc := new(MockLotteryService)
	svc.On("ConfirmPayment", "T_PAID", "U1").Return(tickets.Paid(paid, false), nil)
	svc.On("ConfirmPayment", "T_WAIT", "U1").Return(tickets.StillPending(tickets.HintAwaitingSettlement, 10*time.Second), nil)
	svc.On("ConfirmPayment", "T_DOWN", "U1").Return(tickets.StillPending(tickets.HintOracleDegraded, 30*time.Second), nil)
	svc.On("ConfirmPayment", "T_OTHER", "U1").Return(tickets.Rejected(tickets.RejectForbidden), nil)
	svc.On("ConfirmPayment", "T_GONE", "U1").Return(tickets.Rejected(tickets.RejectNotFound), nil)
	svc.On("ConfirmPayment", "T_ERR", "U1").Return(nil, errors.New("db down"))
	router := newRouter(svc)

	rec := do(t, router, http.MethodPost, "/api/tickets/T_PAID/confirm", "U1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decode(t, rec).Data), `"status":"paid"`)

	wait := do(t, router, http.MethodPost, "/api/tickets/T_WAIT/confirm", "U1", nil)
	down := do(t, router, http.MethodPost, "/api/tickets/T_DOWN/confirm", "U1", nil)
	assert.Equal(t, http.StatusAccepted, wait.Code)
	assert.Equal(t, http.StatusAccepted, down.Code)
	assert.Equal(t, "10", wait.Header().Get("Retry-After"))
	assert.NotEqual(t, decode(t, wait).Message, decode(t, down).Message)
	assert.Contains(t, string(decode(t, down).Data), `"hint":"oracle_degraded"`)

	rec = do(t, router, http.MethodPost, "/api/tickets/T_OTHER/confirm", "U1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/tickets/T_GONE/confirm", "U1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/tickets/T_ERR/confirm", "U1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStreamEvents(t *testing.T) {
	emitter := sse.NewTicketEventEmitter()
	log := logger.NewLoggerWithWriter(io.Discard)
	h := ticket_api.NewHandler(new(MockLotteryService), log)
	h.Events = emitter
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(secret, log))
		h.RegisterRoutes(r)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/tickets/events", nil)
	require.NoError(t, err)
	token, err := auth.IssueToken("U1", secret, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	require.Eventually(t, func() bool { return emitter.ClientCount("U1") == 1 }, time.Second, 5*time.Millisecond)
	emitter.Emit(models.NewTicketEventDto(models.TicketEventPaid, *sampleTicket(models.StatusPaid)))

	var got []string
	for len(got) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ticket_paid") || strings.HasPrefix(line, "data: {\"event_id\"") {
			got = append(got, line)
		}
	}
	assert.Contains(t, got[1], "TONLOTO_000000000001_1")
}

func TestStreamEventsOutlivesWriteTimeout(t *testing.T) {
	emitter := sse.NewTicketEventEmitter()
	log := logger.NewLoggerWithWriter(io.Discard)
	h := ticket_api.NewHandler(new(MockLotteryService), log)
	h.Events = emitter
	h.Heartbeat = 100 * time.Millisecond
	r := chi.NewRouter()
	r.Use(metrics.HTTPMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(secret, log))
		h.RegisterRoutes(r)
	})
	srv := httptest.NewUnstartedServer(r)
	srv.Config.WriteTimeout = 300 * time.Millisecond
	srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/tickets/events", nil)
	require.NoError(t, err)
	token, err := auth.IssueToken("U1", secret, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return emitter.ClientCount("U1") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	emitter.Emit(models.NewTicketEventDto(models.TicketEventPaid, *sampleTicket(models.StatusPaid)))

	reader := bufio.NewReader(resp.Body)
	pinged, delivered := false, false
	for !delivered {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == ": ping\n" {
			pinged = true
		}
		if strings.HasPrefix(line, "event: "+string(models.TicketEventPaid)) {
			delivered = true
		}
	}
	assert.True(t, pinged)
}

func TestStreamEventsNotMountedWithoutEmitter(t *testing.T) {
	rec := do(t, newRouter(new(MockLotteryService)), http.MethodGet, "/api/tickets/events", "U1", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
