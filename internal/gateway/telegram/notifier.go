package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ms-lottery/internal/logger"
	"ms-lottery/internal/models"
	"ms-lottery/internal/ton"
)

// Notifier relays ticket events from Kafka to Telegram: paid tickets go to
// the admin chat, expired tickets to their owner.
type Notifier struct {
	api         Sender
	adminChatID int64
	log         *logger.Logger
}

func NewNotifier(api Sender, adminChatID int64, log *logger.Logger) *Notifier {
	return &Notifier{api: api, adminChatID: adminChatID, log: log}
}

// HandleTicketEvent is the Kafka consumer callback.
func (n *Notifier) HandleTicketEvent(ctx context.Context, evt models.TicketEventDto) error {
	switch evt.Type {
	case models.TicketEventPaid:
		if n.adminChatID == 0 {
			return nil
		}
		return n.send(n.adminChatID, paidNotice(evt))

	case models.TicketEventFailed:
		chatID, err := strconv.ParseInt(evt.OwnerID, 10, 64)
		if err != nil {
			n.log.Warn("TELEGRAM", fmt.Sprintf("owner %q of %s is not a chat id", evt.OwnerID, evt.TicketID))
			return nil
		}
		return n.send(chatID, fmt.Sprintf(
			"⌛ Your ticket %s was not paid in time and has expired. Buy a new one with /buy.", evt.TicketID))

	default:
		return nil
	}
}

func (n *Notifier) send(chatID int64, text string) error {
	if _, err := n.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("notify chat %d: %w", chatID, err)
	}
	return nil
}

func paidNotice(evt models.TicketEventDto) string {
	text := fmt.Sprintf("💰 Ticket %s paid by user %s\nNumbers: %s + %d",
		evt.TicketID, evt.OwnerID, models.Numbers(evt.Numbers), evt.Bonus)
	if e := evt.Evidence; e != nil {
		text += fmt.Sprintf("\nAmount: %s TON\nTx: %s", ton.FormatTON(e.AmountNano), e.TxHash)
	}
	return text
}
