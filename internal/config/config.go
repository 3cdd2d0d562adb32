package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ms-lottery/internal/ton"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Telegram TelegramConfig
	Ton      TonConfig
	Oracle   OracleConfig
	Lottery  LotteryConfig
	Auth     AuthConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN           string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	AutoMigrate   bool
	MigrationsDir string
}

type RedisConfig struct {
	Addr    string
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	TicketCreated string
	TicketPaid    string
	TicketFailed  string
}

// All lists every ticket lifecycle topic, in lifecycle order.
func (t TopicConfig) All() []string {
	return []string{t.TicketCreated, t.TicketPaid, t.TicketFailed}
}

type TelegramConfig struct {
	Token       string
	AdminChatID int64
}

type TonConfig struct {
	WalletAddress  string
	TicketPriceTON string
	Network        string
}

type OracleConfig struct {
	Mode     string // "toncenter" or "static"
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	TxLimit  int
	MaxPages int
}

type LotteryConfig struct {
	ConfirmCooldown     time.Duration
	OracleBackoff       time.Duration
	PaymentExpiry       time.Duration
	ExpirySweepInterval time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Dir   string
	Level string
}

const placeholderWallet = "YOUR_TON_WALLET_ADDRESS_HERE"

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:           getEnv("POSTGRES_DSN", ""),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:   getEnvBool("AUTO_MIGRATE", true),
			MigrationsDir: getEnv("MIGRATIONS_DIR", "./migrations"),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "lottery-notifier"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				TicketCreated: getEnv("KAFKA_TOPIC_TICKET_CREATED", "lottery.ticket.created"),
				TicketPaid:    getEnv("KAFKA_TOPIC_TICKET_PAID", "lottery.ticket.paid"),
				TicketFailed:  getEnv("KAFKA_TOPIC_TICKET_FAILED", "lottery.ticket.failed"),
			},
		},
		Telegram: TelegramConfig{
			Token:       getEnv("TELEGRAM_BOT_TOKEN", ""),
			AdminChatID: int64(getEnvInt("ADMIN_CHAT_ID", 0)),
		},
		Ton: TonConfig{
			WalletAddress:  getEnv("TON_WALLET_ADDRESS", placeholderWallet),
			TicketPriceTON: getEnv("TICKET_PRICE_TON", "1"),
			Network:        getEnv("TON_NETWORK", "mainnet"),
		},
		Oracle: OracleConfig{
			Mode:    getEnv("ORACLE_MODE", "toncenter"),
			BaseURL: getEnv("TONCENTER_URL", "https://toncenter.com/api/v2"),
			APIKey:  getEnv("TONCENTER_API_KEY", ""),
			Timeout: getEnvDuration("ORACLE_TIMEOUT", 10*time.Second),
			TxLimit: getEnvInt("ORACLE_TX_LIMIT", 50),
			// pages of ORACLE_TX_LIMIT transactions walked back per check
			MaxPages: getEnvInt("ORACLE_MAX_PAGES", 5),
		},
		Lottery: LotteryConfig{
			ConfirmCooldown:     getEnvDuration("CONFIRM_COOLDOWN", 10*time.Second),
			OracleBackoff:       getEnvDuration("ORACLE_BACKOFF", 30*time.Second),
			PaymentExpiry:       getEnvDuration("PAYMENT_EXPIRY", 0),
			ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Dir:   getEnv("LOG_DIR", "logs"),
			Level: getEnv("LOG_LEVEL", "INFO"),
		},
	}
}

// Validate rejects configurations the lottery cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Ton.WalletAddress == "" || c.Ton.WalletAddress == placeholderWallet {
		errs = append(errs, errors.New("TON_WALLET_ADDRESS must be set"))
	} else if err := ton.ValidateAddress(c.Ton.WalletAddress); err != nil {
		errs = append(errs, err)
	}
	if _, err := ton.ToNano(c.Ton.TicketPriceTON); err != nil {
		errs = append(errs, fmt.Errorf("TICKET_PRICE_TON: %w", err))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN must be set"))
	}
	switch c.Oracle.Mode {
	case "toncenter", "static":
	default:
		errs = append(errs, fmt.Errorf("ORACLE_MODE %q is not supported", c.Oracle.Mode))
	}
	if c.Oracle.Timeout <= 0 {
		errs = append(errs, errors.New("ORACLE_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// TicketPriceNano is the configured price in nanotons. Validate must have
// passed.
func (c *Config) TicketPriceNano() uint64 {
	n, _ := ton.ToNano(c.Ton.TicketPriceTON)
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
