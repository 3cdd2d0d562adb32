package telegram

import (
	"errors"
	"fmt"
	"strings"
)

// Telegram caps callback data at 64 bytes.
const maxCallbackData = 64

var ErrUnknownIntent = errors.New("unknown intent")

// Intent is a decoded user action. The set is closed: only the types below
// implement it.
type Intent interface {
	verb() string
	arg() string
}

type (
	Start          struct{}
	Menu           struct{}
	Purchase       struct{}
	ListTickets    struct{}
	ConnectWallet  struct{}
	RequestPayment struct{ TicketID string }
	ConfirmPayment struct{ TicketID string }
	LinkProvider   struct{ Provider string }
	// WalletConnected is the user's claim, not a proof.
	WalletConnected struct{ Provider string }
)

const (
	verbStart           = "start"
	verbMenu            = "menu"
	verbPurchase        = "buy"
	verbListTickets     = "tickets"
	verbConnectWallet   = "wallet"
	verbRequestPayment  = "pay"
	verbConfirmPayment  = "check"
	verbLinkProvider    = "link"
	verbWalletConnected = "connected"
)

func (Start) verb() string           { return verbStart }
func (Menu) verb() string            { return verbMenu }
func (Purchase) verb() string        { return verbPurchase }
func (ListTickets) verb() string     { return verbListTickets }
func (ConnectWallet) verb() string   { return verbConnectWallet }
func (RequestPayment) verb() string  { return verbRequestPayment }
func (ConfirmPayment) verb() string  { return verbConfirmPayment }
func (LinkProvider) verb() string    { return verbLinkProvider }
func (WalletConnected) verb() string { return verbWalletConnected }

func (Start) arg() string             { return "" }
func (Menu) arg() string              { return "" }
func (Purchase) arg() string          { return "" }
func (ListTickets) arg() string       { return "" }
func (ConnectWallet) arg() string     { return "" }
func (i RequestPayment) arg() string  { return i.TicketID }
func (i ConfirmPayment) arg() string  { return i.TicketID }
func (i LinkProvider) arg() string    { return i.Provider }
func (i WalletConnected) arg() string { return i.Provider }

// Encode renders the intent as callback data, "<verb>[:<arg>]".
func Encode(i Intent) string {
	if a := i.arg(); a != "" {
		return i.verb() + ":" + a
	}
	return i.verb()
}

// Decode parses callback data produced by Encode.
func Decode(data string) (Intent, error) {
	if data == "" || len(data) > maxCallbackData {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, data)
	}
	verb, arg, hasArg := strings.Cut(data, ":")
	if hasArg && arg == "" {
		return nil, fmt.Errorf("%w: %q has an empty argument", ErrUnknownIntent, data)
	}

	if takesArg(verb) != hasArg {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, data)
	}

	var in Intent
	switch verb {
	case verbStart:
		in = Start{}
	case verbMenu:
		in = Menu{}
	case verbPurchase:
		in = Purchase{}
	case verbListTickets:
		in = ListTickets{}
	case verbConnectWallet:
		in = ConnectWallet{}
	case verbRequestPayment:
		in = RequestPayment{TicketID: arg}
	case verbConfirmPayment:
		in = ConfirmPayment{TicketID: arg}
	case verbLinkProvider:
		in = LinkProvider{Provider: arg}
	case verbWalletConnected:
		in = WalletConnected{Provider: arg}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, data)
	}
	return in, nil
}

func takesArg(verb string) bool {
	switch verb {
	case verbRequestPayment, verbConfirmPayment, verbLinkProvider, verbWalletConnected:
		return true
	}
	return false
}

// intentFromCommand maps slash commands onto intents.
func intentFromCommand(cmd, args string) Intent {
	switch cmd {
	case "start":
		return Start{}
	case "buy":
		return Purchase{}
	case "tickets":
		return ListTickets{}
	case "wallet":
		return ConnectWallet{}
	case "check":
		if id := strings.TrimSpace(args); id != "" {
			return ConfirmPayment{TicketID: id}
		}
	}
	return Menu{}
}
