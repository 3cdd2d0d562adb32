package telegram

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ms-lottery/internal/models"
	tickets "ms-lottery/internal/tickets/service"
)

// maxListed keeps /tickets below Telegram's 4096 character limit.
const maxListed = 15

// reply is one rendered answer. Photo, when set, is sent as a separate
// message after the text.
type reply struct {
	Text   string
	Markup *tgbotapi.InlineKeyboardMarkup
	Photo  []byte
}

func button(text string, in Intent) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, Encode(in))
}

func keyboard(rows ...[]tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func backToMenu() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(button("⬅️ Back", Menu{}))
}

func renderMenu(name string, user *models.User, priceTON string) reply {
	walletLabel := "🔗 Connect Wallet"
	walletStatus := "🔗 Connect your wallet to purchase tickets easily"
	if user != nil && user.WalletConnected {
		walletLabel = "🔗 Wallet Settings"
		walletStatus = "✅ Your wallet is connected!"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi <b>%s</b>! Welcome to TON Lottery! 🎰\n\n", html.EscapeString(name))
	fmt.Fprintf(&b, "🎫 Buy lottery tickets for %s TON each\n", html.EscapeString(priceTON))
	fmt.Fprintf(&b, "🔢 Every ticket carries %d numbers from %d to %d plus a bonus number\n\n",
		models.NumbersPerTicket, models.MinNumber, models.MaxNumber)
	b.WriteString(walletStatus)

	return reply{
		Text: b.String(),
		Markup: keyboard(
			tgbotapi.NewInlineKeyboardRow(button("💰 Buy Ticket", Purchase{})),
			tgbotapi.NewInlineKeyboardRow(button("🎫 My Tickets", ListTickets{})),
			tgbotapi.NewInlineKeyboardRow(button(walletLabel, ConnectWallet{})),
		),
	}
}

func renderTicketCreated(t *models.Ticket, priceTON string) reply {
	text := fmt.Sprintf(
		"🎫 <b>Your Lottery Ticket</b>\n\n"+
			"🔢 <b>Numbers:</b> %s\n"+
			"⭐ <b>Bonus:</b> %d\n\n"+
			"📋 <b>Ticket ID:</b> <code>%s</code>\n"+
			"💰 <b>Price:</b> %s TON\n\n"+
			"✅ <b>Confirm purchase?</b>",
		formatNumbers(t.Numbers), t.Bonus, html.EscapeString(t.TicketID), html.EscapeString(priceTON))

	return reply{
		Text: text,
		Markup: keyboard(
			tgbotapi.NewInlineKeyboardRow(button("✅ Confirm Purchase", RequestPayment{TicketID: t.TicketID})),
			tgbotapi.NewInlineKeyboardRow(button("❌ Cancel", Menu{})),
		),
	}
}

func renderInstructions(instr *models.PaymentInstructions, qrPNG []byte) reply {
	if instr.Ticket != nil && instr.Ticket.IsPaid() {
		return renderPaid(instr.Ticket, true)
	}

	text := fmt.Sprintf(
		"💳 <b>Payment Instructions</b>\n\n"+
			"Please send exactly <b>%s TON</b> to:\n"+
			"<code>%s</code>\n\n"+
			"📋 <b>Important Details:</b>\n"+
			"• Amount: <b>%s TON</b> (at least)\n"+
			"• Network: <b>TON %s</b>\n"+
			"• Memo: <code>%s</code> (include this!)\n\n"+
			"⏱️ <b>After sending</b>, tap \"I've Paid\" below.\n"+
			"🔄 Confirmation on the blockchain usually takes a few minutes.",
		html.EscapeString(instr.AmountTON),
		html.EscapeString(instr.Address),
		html.EscapeString(instr.AmountTON),
		html.EscapeString(instr.Network),
		html.EscapeString(instr.Memo))

	return reply{
		Text: text,
		Markup: keyboard(
			tgbotapi.NewInlineKeyboardRow(button("💳 I've Paid", ConfirmPayment{TicketID: instr.TicketID})),
			backToMenu(),
		),
		Photo: qrPNG,
	}
}

func renderConfirm(ticketID string, res *tickets.ConfirmResult) reply {
	switch res.Kind {
	case tickets.ConfirmPaid:
		return renderPaid(res.Ticket, res.AlreadySettled)
	case tickets.ConfirmStillPending:
		return renderPending(ticketID, res)
	default:
		return renderRejected(res.Reason)
	}
}

func renderPaid(t *models.Ticket, alreadySettled bool) reply {
	title := "✅ <b>Payment Confirmed!</b>"
	if alreadySettled {
		title = "✅ <b>This ticket is already paid.</b>"
	}
	text := fmt.Sprintf(
		"%s\n\n"+
			"🎫 <b>Your Lottery Ticket:</b>\n"+
			"Numbers: %s\n"+
			"Bonus: %d\n\n"+
			"📋 <b>Ticket ID:</b> <code>%s</code>\n\n"+
			"🎉 <b>Good luck!</b>",
		title, formatNumbers(t.Numbers), t.Bonus, html.EscapeString(t.TicketID))

	return reply{
		Text:   text,
		Markup: keyboard(tgbotapi.NewInlineKeyboardRow(button("🎫 My Tickets", ListTickets{})), backToMenu()),
	}
}

func renderPending(ticketID string, res *tickets.ConfirmResult) reply {
	var text string
	switch res.Hint {
	case tickets.HintOracleDegraded:
		text = fmt.Sprintf(
			"⚠️ <b>Blockchain Check Unavailable</b>\n\n"+
				"We could not reach the TON network to verify ticket <code>%s</code>.\n"+
				"Your payment is not lost: if you sent it, it will be confirmed once the check works again.\n\n"+
				"Please try again in %s.",
			html.EscapeString(ticketID), formatWait(res.RetryAfter))
	case tickets.HintCheckThrottled:
		text = fmt.Sprintf(
			"⏳ <b>Checked Recently</b>\n\n"+
				"We just looked for the payment of ticket <code>%s</code>.\n"+
				"Please try again in %s.",
			html.EscapeString(ticketID), formatWait(res.RetryAfter))
	default:
		text = fmt.Sprintf(
			"❌ <b>Payment Not Received Yet</b>\n\n"+
				"Please verify:\n"+
				"1. ✅ Sent the full ticket price\n"+
				"2. ✅ Used the address from the instructions\n"+
				"3. ✅ Included memo: <code>%s</code>\n"+
				"4. ⏱️ Wait a few minutes for blockchain confirmation\n\n"+
				"Tap \"Check Again\" in %s.",
			html.EscapeString(ticketID), formatWait(res.RetryAfter))
	}

	return reply{
		Text: text,
		Markup: keyboard(
			tgbotapi.NewInlineKeyboardRow(button("🔍 Check Again", ConfirmPayment{TicketID: ticketID})),
			tgbotapi.NewInlineKeyboardRow(button("💳 Payment Details", RequestPayment{TicketID: ticketID})),
			backToMenu(),
		),
	}
}

func renderRejected(reason tickets.RejectReason) reply {
	var text string
	switch reason {
	case tickets.RejectForbidden:
		text = "🚫 This ticket does not belong to you."
	case tickets.RejectTicketFailed:
		text = "⌛ This ticket can no longer be paid. Please buy a new one."
	default:
		text = "❓ Ticket not found."
	}
	return reply{Text: text, Markup: keyboard(backToMenu())}
}

func renderTickets(list []models.Ticket) reply {
	if len(list) == 0 {
		return reply{
			Text: "You don't have any tickets yet. Buy your first ticket!",
			Markup: keyboard(
				tgbotapi.NewInlineKeyboardRow(button("💰 Buy Ticket", Purchase{})),
				backToMenu(),
			),
		}
	}

	var b strings.Builder
	b.WriteString("🎫 <b>Your Tickets</b>\n\n")
	for i, t := range list {
		if i == maxListed {
			fmt.Fprintf(&b, "… and %d more\n", len(list)-maxListed)
			break
		}
		fmt.Fprintf(&b,
			"📋 <b>ID:</b> <code>%s</code>\n"+
				"🔢 <b>Numbers:</b> %s + %d\n"+
				"📅 <b>Purchased:</b> %s\n"+
				"📊 <b>Status:</b> %s\n\n",
			html.EscapeString(t.TicketID), formatNumbers(t.Numbers), t.Bonus,
			t.CreatedAt.UTC().Format("2006-01-02 15:04"), statusLabel(t.Status))
	}
	return reply{Text: b.String(), Markup: keyboard(backToMenu())}
}

func renderConnectWallet() reply {
	return reply{
		Text: "🔗 <b>Connect your TON wallet:</b>\n\n" +
			"Select your wallet provider to connect.\n\n" +
			"💡 You can still buy tickets without connecting a wallet by sending TON manually.",
		Markup: keyboard(
			tgbotapi.NewInlineKeyboardRow(button("📱 Connect Tonkeeper", LinkProvider{Provider: tickets.ProviderTonkeeper})),
			tgbotapi.NewInlineKeyboardRow(button("📲 Connect Tonhub", LinkProvider{Provider: tickets.ProviderTonhub})),
			backToMenu(),
		),
	}
}

func renderLinkProvider(provider string) reply {
	var steps string
	switch provider {
	case tickets.ProviderTonhub:
		steps = "1. <b>Open Tonhub</b> on your phone\n" +
			"2. <b>Go to Settings</b> → <b>Connected Apps</b>\n" +
			"3. <b>Tap 'Connect New App'</b>\n" +
			"4. <b>Confirm the connection</b> in your wallet\n\n"
	default:
		steps = "1. <b>Open Tonkeeper</b> on your phone\n" +
			"2. <b>Tap the Scan button</b> in the app\n" +
			"3. <b>Confirm the connection</b> in your wallet\n\n"
	}

	return reply{
		Text: fmt.Sprintf("📱 <b>Connecting %s:</b>\n\n", providerTitle(provider)) + steps +
			"🔒 Your wallet remains secure. Payments are always checked on the blockchain.\n\n" +
			"Tap \"I'm Connected\" below when you are done.",
		Markup: keyboard(
			tgbotapi.NewInlineKeyboardRow(button("✅ I'm Connected", WalletConnected{Provider: provider})),
			tgbotapi.NewInlineKeyboardRow(button("⬅️ Back", ConnectWallet{})),
		),
	}
}

func renderWalletConnected(provider string) reply {
	return reply{
		Text: fmt.Sprintf("✅ <b>%s marked as connected!</b>\n\n", providerTitle(provider)) +
			"🎉 <b>What you can do now:</b>\n" +
			"• Purchase lottery tickets\n" +
			"• Review your tickets\n\n" +
			"💰 <b>Next step:</b> Buy your first lottery ticket!",
		Markup: keyboard(
			tgbotapi.NewInlineKeyboardRow(button("💰 Buy Ticket", Purchase{})),
			tgbotapi.NewInlineKeyboardRow(button("🎫 My Tickets", ListTickets{})),
			tgbotapi.NewInlineKeyboardRow(button("🔗 Wallet Settings", ConnectWallet{})),
		),
	}
}

func renderError(text string) reply {
	return reply{Text: "❌ " + text, Markup: keyboard(backToMenu())}
}

func formatNumbers(n models.Numbers) string {
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

func formatWait(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs <= 1 {
		return "a moment"
	}
	return fmt.Sprintf("%d seconds", secs)
}

func statusLabel(s models.TicketStatus) string {
	switch s {
	case models.StatusPaid:
		return "✅ Paid"
	case models.StatusFailed:
		return "⌛ Expired"
	case models.StatusAwaitingPayment:
		return "⏳ Awaiting payment"
	default:
		return "⏳ Pending"
	}
}

func providerTitle(provider string) string {
	switch provider {
	case tickets.ProviderTonhub:
		return "Tonhub"
	case tickets.ProviderTonkeeper:
		return "Tonkeeper"
	default:
		return provider
	}
}
