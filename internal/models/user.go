package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User holds advisory UI state only; it never gates a payment.
type User struct {
	bun.BaseModel `bun:"table:users"`

	UserID          string    `bun:"user_id,pk" json:"user_id"`
	Username        string    `bun:"username" json:"username"`
	WalletConnected bool      `bun:"wallet_connected,notnull,default:false" json:"wallet_connected"`
	WalletProvider  string    `bun:"wallet_provider,nullzero" json:"wallet_provider,omitempty"`
	CreatedAt       time.Time `bun:"created_at,notnull" json:"created_at"`
}
