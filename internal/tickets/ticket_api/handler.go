package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-lottery/internal/auth"
	"ms-lottery/internal/logger"
	"ms-lottery/internal/models"
	"ms-lottery/internal/sse"
	"ms-lottery/internal/tickets/qr"
	tickets "ms-lottery/internal/tickets/service"
	"ms-lottery/internal/utils"
)

// LotteryService is the part of the lifecycle service exposed over HTTP.
type LotteryService interface {
	Purchase(ctx context.Context, ownerID, ownerName string) (*models.Ticket, error)
	RequestPayment(ctx context.Context, ticketID, ownerID string) (*models.PaymentInstructions, error)
	PaymentDetails(ctx context.Context, ticketID, ownerID string) (*models.PaymentInstructions, error)
	ConfirmPayment(ctx context.Context, ticketID, ownerID string) (*tickets.ConfirmResult, error)
	ListTickets(ctx context.Context, ownerID string) ([]models.Ticket, error)
}

// DefaultHeartbeat is how often an idle event stream gets a comment frame.
const DefaultHeartbeat = 15 * time.Second

type Handler struct {
	Service LotteryService
	Logger  *logger.Logger
	// Events is optional; without it the event stream route is not mounted.
	Events    *sse.TicketEventEmitter
	Heartbeat time.Duration
}

func NewHandler(svc LotteryService, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log, Heartbeat: DefaultHeartbeat}
}

// RegisterRoutes mounts the ticket routes; r must already carry the auth
// middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Post("/", h.Purchase)
		r.Get("/", h.ListTickets)
		if h.Events != nil {
			r.Get("/events", h.StreamEvents)
		}
		r.Post("/{ticketId}/payment", h.RequestPayment)
		r.Get("/{ticketId}/payment/qr", h.PaymentQR)
		r.Post("/{ticketId}/confirm", h.ConfirmPayment)
	})
}

type purchaseRequest struct {
	OwnerName string `json:"owner_name"`
}

type confirmResponse struct {
	Status            string             `json:"status"`
	Ticket            *models.TicketView `json:"ticket,omitempty"`
	AlreadySettled    bool               `json:"already_settled,omitempty"`
	Hint              string             `json:"hint,omitempty"`
	RetryAfterSeconds int                `json:"retry_after_seconds,omitempty"`
	Reason            string             `json:"reason,omitempty"`
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.UserID(r.Context())

	var req purchaseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	ticket, err := h.Service.Purchase(r.Context(), ownerID, req.OwnerName)
	if err != nil {
		if errors.Is(err, tickets.ErrGenerationExhausted) {
			h.writeError(w, http.StatusServiceUnavailable, "Could not create ticket, please try again", err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Could not create ticket", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Ticket created", ticket.ToView()))
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListTickets(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Could not load tickets", err)
		return
	}

	views := make([]models.TicketView, 0, len(list))
	for _, t := range list {
		views = append(views, t.ToView())
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d tickets", len(views)), views))
}

func (h *Handler) RequestPayment(w http.ResponseWriter, r *http.Request) {
	instr, ok := h.instructions(w, r, h.Service.RequestPayment)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment instructions", instr))
}

// PaymentQR only reads the ticket; it does not start the payment.
func (h *Handler) PaymentQR(w http.ResponseWriter, r *http.Request) {
	instr, ok := h.instructions(w, r, h.Service.PaymentDetails)
	if !ok {
		return
	}

	png, err := qr.PaymentPNG(*instr)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Could not render QR code", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

type instructionsFunc func(ctx context.Context, ticketID, ownerID string) (*models.PaymentInstructions, error)

func (h *Handler) instructions(w http.ResponseWriter, r *http.Request, load instructionsFunc) (*models.PaymentInstructions, bool) {
	ticketID := chi.URLParam(r, "ticketId")
	instr, err := load(r.Context(), ticketID, auth.UserID(r.Context()))
	switch {
	case err == nil:
		return instr, true
	case errors.Is(err, tickets.ErrTicketNotFound):
		h.writeError(w, http.StatusNotFound, "Ticket not found", err)
	case errors.Is(err, tickets.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "Ticket belongs to another user", err)
	case errors.Is(err, tickets.ErrTicketFailed):
		h.writeError(w, http.StatusConflict, "Ticket can no longer be paid", err)
	default:
		h.writeError(w, http.StatusInternalServerError, "Could not prepare payment", err)
	}
	return nil, false
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	res, err := h.Service.ConfirmPayment(r.Context(), ticketID, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Could not record payment", err)
		return
	}

	switch res.Kind {
	case tickets.ConfirmPaid:
		view := res.Ticket.ToView()
		h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment confirmed", confirmResponse{
			Status:         "paid",
			Ticket:         &view,
			AlreadySettled: res.AlreadySettled,
		}))
	case tickets.ConfirmStillPending:
		if res.RetryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Round(time.Second)/time.Second)))
		}
		h.writeJSON(w, http.StatusAccepted, utils.SuccessResponse(pendingMessage(res.Hint), confirmResponse{
			Status:            "pending",
			Hint:              string(res.Hint),
			RetryAfterSeconds: int(res.RetryAfter / time.Second),
		}))
	case tickets.ConfirmRejected:
		status := http.StatusForbidden
		switch res.Reason {
		case tickets.RejectNotFound:
			status = http.StatusNotFound
		case tickets.RejectTicketFailed:
			status = http.StatusConflict
		}
		h.writeJSON(w, status, utils.RejectedResponse("Payment rejected", string(res.Reason),
			confirmResponse{Status: "rejected", Reason: string(res.Reason)}))
	}
}

// StreamEvents pushes the caller's ticket events (created, paid, expired) as
// Server-Sent Events until the client disconnects. The stream outlives the
// server's write timeout and sends a ": ping" comment while idle.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Streaming unsupported", errors.New("response writer cannot flush"))
		return
	}
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.Logger.Warn("SSE", fmt.Sprintf("Could not lift the write deadline: %v", err))
	}

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ownerID := auth.UserID(r.Context())
	ctx := r.Context()
	eventChan := h.Events.Subscribe(ctx, ownerID)

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	h.Logger.Debug("SSE", fmt.Sprintf("Client connected to ticket events of %s", ownerID))

	for {
		select {
		case evt, ok := <-eventChan:
			if !ok {
				return
			}
			jsonData, err := json.Marshal(evt)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize ticket event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, jsonData)
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from ticket events of %s", ownerID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func pendingMessage(hint tickets.PendingHint) string {
	switch hint {
	case tickets.HintOracleDegraded:
		return "Payment verification is temporarily unavailable, please try again shortly"
	case tickets.HintCheckThrottled:
		return "Payment was checked moments ago, please wait before checking again"
	default:
		return "Payment not found yet, blockchain confirmation can take a few minutes"
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", message, err))
	}
	h.writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}
