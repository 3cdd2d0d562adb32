package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ms-lottery/internal/logger"
	"ms-lottery/internal/models"
	"ms-lottery/internal/tickets/qr"
	tickets "ms-lottery/internal/tickets/service"
)

// handleTimeout bounds one update, oracle call included.
const handleTimeout = 30 * time.Second

// Sender is the part of *tgbotapi.BotAPI used for outgoing messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotAPI is the part of *tgbotapi.BotAPI the gateway needs.
type BotAPI interface {
	Sender
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type LotteryService interface {
	StartUser(ctx context.Context, ownerID, name string) (*models.User, error)
	Purchase(ctx context.Context, ownerID, ownerName string) (*models.Ticket, error)
	RequestPayment(ctx context.Context, ticketID, ownerID string) (*models.PaymentInstructions, error)
	ConfirmPayment(ctx context.Context, ticketID, ownerID string) (*tickets.ConfirmResult, error)
	ListTickets(ctx context.Context, ownerID string) ([]models.Ticket, error)
	LinkWallet(ctx context.Context, ownerID, provider string) (string, error)
	WalletConnected(ctx context.Context, ownerID, provider string) error
}

// Connect authorizes the bot token against the Telegram API.
func Connect(token string, log *logger.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorization failed: %w", err)
	}
	log.Info("TELEGRAM", fmt.Sprintf("Authorized on account %s", api.Self.UserName))
	return api, nil
}

// Gateway turns Telegram updates into lottery intents and renders the
// results back. It keeps no ticket state between updates.
type Gateway struct {
	api      BotAPI
	service  LotteryService
	priceTON string
	log      *logger.Logger

	wg sync.WaitGroup
}

func NewGateway(api BotAPI, service LotteryService, priceTON string, log *logger.Logger) *Gateway {
	return &Gateway{api: api, service: service, priceTON: priceTON, log: log}
}

// Run long-polls for updates until ctx is cancelled. Every update is handled
// in its own goroutine; Run waits for them before returning.
func (g *Gateway) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := g.api.GetUpdatesChan(u)

	g.log.Info("TELEGRAM", "Bot started polling for updates")
	defer g.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			g.api.StopReceivingUpdates()
			g.log.Info("TELEGRAM", "Bot stopped polling")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			g.wg.Add(1)
			go func(update tgbotapi.Update) {
				defer g.wg.Done()
				g.HandleUpdate(ctx, update)
			}(update)
		}
	}
}

// sender identifies who triggered an update and where to answer.
type sender struct {
	ownerID   string
	name      string
	chatID    int64
	messageID int // set for callbacks, the message to edit
}

// HandleUpdate decodes a single update and answers it.
func (g *Gateway) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("TELEGRAM", fmt.Sprintf("panic while handling update %d: %v", update.UpdateID, r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	var (
		from   sender
		intent Intent
	)
	switch {
	case update.Message != nil && update.Message.IsCommand():
		msg := update.Message
		if msg.From == nil {
			return
		}
		from = newSender(msg.From, msg.Chat.ID, 0)
		intent = intentFromCommand(msg.Command(), msg.CommandArguments())

	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		if q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return
		}
		if _, err := g.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			g.log.Warn("TELEGRAM", fmt.Sprintf("answer callback %s failed: %v", q.ID, err))
		}
		from = newSender(q.From, q.Message.Chat.ID, q.Message.MessageID)
		in, err := Decode(q.Data)
		if err != nil {
			g.log.Warn("TELEGRAM", fmt.Sprintf("user %s sent undecodable callback: %v", from.ownerID, err))
			g.respond(from, renderError("Unknown action. Please start again."))
			return
		}
		intent = in

	default:
		return
	}

	g.log.Debug("TELEGRAM", fmt.Sprintf("user %s intent %s", from.ownerID, Encode(intent)))
	g.respond(from, g.dispatch(ctx, from, intent))
}

func newSender(u *tgbotapi.User, chatID int64, messageID int) sender {
	name := u.UserName
	if name == "" {
		name = u.FirstName
	}
	return sender{
		ownerID:   strconv.FormatInt(u.ID, 10),
		name:      name,
		chatID:    chatID,
		messageID: messageID,
	}
}

func (g *Gateway) dispatch(ctx context.Context, from sender, intent Intent) reply {
	switch in := intent.(type) {
	case Start, Menu:
		user, err := g.service.StartUser(ctx, from.ownerID, from.name)
		if err != nil {
			g.log.Error("TELEGRAM", fmt.Sprintf("start for %s failed: %v", from.ownerID, err))
			return renderError("Something went wrong. Please try again later.")
		}
		return renderMenu(from.name, user, g.priceTON)

	case Purchase:
		t, err := g.service.Purchase(ctx, from.ownerID, from.name)
		if err != nil {
			g.log.Error("TELEGRAM", fmt.Sprintf("purchase for %s failed: %v", from.ownerID, err))
			if errors.Is(err, tickets.ErrGenerationExhausted) {
				return renderError("We could not issue a ticket right now. Please try again in a moment.")
			}
			return renderError("Error creating ticket. Please try again later.")
		}
		return renderTicketCreated(t, g.priceTON)

	case RequestPayment:
		instr, err := g.service.RequestPayment(ctx, in.TicketID, from.ownerID)
		if err != nil {
			return g.paymentError(from, in.TicketID, err)
		}
		png, err := qr.PaymentPNG(*instr)
		if err != nil {
			g.log.Warn("TELEGRAM", fmt.Sprintf("qr for %s failed: %v", in.TicketID, err))
			png = nil
		}
		return renderInstructions(instr, png)

	case ConfirmPayment:
		res, err := g.service.ConfirmPayment(ctx, in.TicketID, from.ownerID)
		if err != nil {
			g.log.Error("TELEGRAM", fmt.Sprintf("confirm %s for %s failed: %v", in.TicketID, from.ownerID, err))
			return renderError("Error checking the payment. Please try again later.")
		}
		return renderConfirm(in.TicketID, res)

	case ListTickets:
		list, err := g.service.ListTickets(ctx, from.ownerID)
		if err != nil {
			g.log.Error("TELEGRAM", fmt.Sprintf("list tickets for %s failed: %v", from.ownerID, err))
			return renderError("Error retrieving your tickets. Please try again.")
		}
		return renderTickets(list)

	case ConnectWallet:
		return renderConnectWallet()

	case LinkProvider:
		provider, err := g.service.LinkWallet(ctx, from.ownerID, in.Provider)
		if err != nil {
			return g.walletError(from, err)
		}
		return renderLinkProvider(provider)

	case WalletConnected:
		if err := g.service.WalletConnected(ctx, from.ownerID, in.Provider); err != nil {
			return g.walletError(from, err)
		}
		return renderWalletConnected(in.Provider)

	default:
		g.log.Error("TELEGRAM", fmt.Sprintf("no handler for intent %T", intent))
		return renderError("Unknown action. Please start again.")
	}
}

func (g *Gateway) paymentError(from sender, ticketID string, err error) reply {
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound):
		return renderRejected(tickets.RejectNotFound)
	case errors.Is(err, tickets.ErrForbidden):
		return renderRejected(tickets.RejectForbidden)
	case errors.Is(err, tickets.ErrTicketFailed):
		return renderRejected(tickets.RejectTicketFailed)
	default:
		g.log.Error("TELEGRAM", fmt.Sprintf("payment instructions %s for %s failed: %v", ticketID, from.ownerID, err))
		return renderError("Error preparing the payment. Please try again later.")
	}
}

func (g *Gateway) walletError(from sender, err error) reply {
	if errors.Is(err, tickets.ErrUnknownProvider) {
		return renderError("Unknown wallet provider.")
	}
	g.log.Error("TELEGRAM", fmt.Sprintf("wallet flow for %s failed: %v", from.ownerID, err))
	return renderError("Something went wrong. Please try again later.")
}

// respond edits the tapped message for callbacks and sends a new one for
// commands. A QR code, when present, follows as a photo.
func (g *Gateway) respond(to sender, r reply) {
	var c tgbotapi.Chattable
	if to.messageID != 0 {
		edit := tgbotapi.NewEditMessageText(to.chatID, to.messageID, r.Text)
		edit.ParseMode = tgbotapi.ModeHTML
		edit.ReplyMarkup = r.Markup
		c = edit
	} else {
		msg := tgbotapi.NewMessage(to.chatID, r.Text)
		msg.ParseMode = tgbotapi.ModeHTML
		if r.Markup != nil {
			msg.ReplyMarkup = *r.Markup
		}
		c = msg
	}
	if _, err := g.api.Send(c); err != nil {
		g.log.Error("TELEGRAM", fmt.Sprintf("send to chat %d failed: %v", to.chatID, err))
		return
	}

	if len(r.Photo) > 0 {
		photo := tgbotapi.NewPhoto(to.chatID, tgbotapi.FileBytes{Name: "payment.png", Bytes: r.Photo})
		photo.Caption = "📷 Scan with your TON wallet to pay"
		if _, err := g.api.Send(photo); err != nil {
			g.log.Warn("TELEGRAM", fmt.Sprintf("send qr to chat %d failed: %v", to.chatID, err))
		}
	}
}
