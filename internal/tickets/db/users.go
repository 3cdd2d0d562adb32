package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-lottery/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// EnsureUser registers the user on first contact and refreshes the username
// afterwards. Wallet state is left untouched.
func (d *DB) EnsureUser(ctx context.Context, userID, username string) (*models.User, error) {
	user := models.User{
		UserID:    userID,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	_, err := d.Bun.NewInsert().
		Model(&user).
		On("CONFLICT (user_id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", userID, err)
	}
	return d.GetUser(ctx, userID)
}

func (d *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &user, nil
}

// SetWalletConnected stores the advisory wallet flag chosen in the bot.
func (d *DB) SetWalletConnected(ctx context.Context, userID, provider string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.User)(nil)).
		Set("wallet_connected = ?", true).
		Set("wallet_provider = ?", provider).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set wallet of %s: %w", userID, err)
	}
	if rowsAffected(res) == 0 {
		return ErrUserNotFound
	}
	return nil
}
