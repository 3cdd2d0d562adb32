package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-lottery/internal/models"
	"ms-lottery/internal/tickets/db"
)

// Wallet providers offered by the bot.
const (
	ProviderTonkeeper = "tonkeeper"
	ProviderTonhub    = "tonhub"
)

func ValidProvider(p string) bool {
	switch p {
	case ProviderTonkeeper, ProviderTonhub:
		return true
	}
	return false
}

// StartUser registers the owner on first contact.
func (s *LotteryService) StartUser(ctx context.Context, ownerID, name string) (*models.User, error) {
	user, err := s.Users.EnsureUser(ctx, ownerID, name)
	if err != nil {
		return nil, fmt.Errorf("start user %s: %w", ownerID, err)
	}
	return user, nil
}

// LinkWallet begins the cosmetic wallet connect flow for provider. Payments
// never depend on it.
func (s *LotteryService) LinkWallet(ctx context.Context, ownerID, provider string) (string, error) {
	provider = strings.ToLower(provider)
	if !ValidProvider(provider) {
		return "", ErrUnknownProvider
	}
	_, err := s.Users.GetUser(ctx, ownerID)
	if errors.Is(err, db.ErrUserNotFound) {
		_, err = s.Users.EnsureUser(ctx, ownerID, "")
	}
	if err != nil {
		return "", fmt.Errorf("link wallet for %s: %w", ownerID, err)
	}
	return provider, nil
}

// WalletConnected records the owner's claim that the wallet is connected.
func (s *LotteryService) WalletConnected(ctx context.Context, ownerID, provider string) error {
	provider = strings.ToLower(provider)
	if !ValidProvider(provider) {
		return ErrUnknownProvider
	}
	if err := s.Users.SetWalletConnected(ctx, ownerID, provider); err != nil {
		return fmt.Errorf("wallet connected for %s: %w", ownerID, err)
	}
	s.Logger.Info("USER", fmt.Sprintf("user %s wallet connection recorded (%s)", ownerID, provider))
	return nil
}
