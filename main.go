package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-lottery/internal/analytics"
	analytics_api "ms-lottery/internal/analytics/api"
	"ms-lottery/internal/auth"
	"ms-lottery/internal/config"
	"ms-lottery/internal/database/migrations"
	"ms-lottery/internal/gateway/telegram"
	"ms-lottery/internal/kafka"
	"ms-lottery/internal/logger"
	"ms-lottery/internal/metrics"
	"ms-lottery/internal/models"
	"ms-lottery/internal/oracle"
	"ms-lottery/internal/sse"
	ticket_db "ms-lottery/internal/tickets/db"
	"ms-lottery/internal/tickets/generator"
	rediswrap "ms-lottery/internal/tickets/redis"
	tickets "ms-lottery/internal/tickets/service"
	"ms-lottery/internal/tickets/ticket_api"
	"ms-lottery/internal/utils"
)

func connectDatabase(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		sqldb.Close()
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func newVerifier(cfg *config.Config, log *logger.Logger) oracle.Verifier {
	if cfg.Oracle.Mode == "static" {
		log.Warn("ORACLE", "Using the static payment oracle: no payment will ever confirm unless registered")
		return oracle.NewStatic()
	}
	return oracle.NewToncenter(oracle.ToncenterOptions{
		BaseURL:  cfg.Oracle.BaseURL,
		APIKey:   cfg.Oracle.APIKey,
		TxLimit:  cfg.Oracle.TxLimit,
		MaxPages: cfg.Oracle.MaxPages,
		Timeout:  cfg.Oracle.Timeout,
	}, log)
}

func healthHandler(store *ticket_db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.HealthCheck(ctx); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Database unavailable", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("OK", nil))
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️  .env file not found, using environment variables")
	}

	cfg := config.Load()

	log := logger.NewLogger(cfg.Log.Dir)
	defer log.Close()
	log.SetLevel(logger.ParseLevel(cfg.Log.Level))

	log.Info("APP", "Starting TON Lottery service initialization")

	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB := connectDatabase(cfg.Database, log)
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
			MigrationsDir: cfg.Database.MigrationsDir,
			AutoMigrate:   true,
		}, log)
		if err := runner.Initialize(); err != nil {
			log.Fatal("MIGRATION", fmt.Sprintf("Failed to initialize migrations: %v", err))
		}
		// the runner shares bunDB, so it is not closed here
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("MIGRATION", fmt.Sprintf("Failed to run migrations: %v", err))
		}
	}

	store := ticket_db.New(bunDB)

	gen, err := generator.NewDefault()
	if err != nil {
		log.Fatal("APP", fmt.Sprintf("Failed to initialize ticket generator: %v", err))
	}

	service := tickets.NewLotteryService(store, store, gen, newVerifier(cfg, log), tickets.Settings{
		ReceivingAddress: cfg.Ton.WalletAddress,
		PriceNano:        cfg.TicketPriceNano(),
		Network:          cfg.Ton.Network,
		ConfirmCooldown:  cfg.Lottery.ConfirmCooldown,
		OracleBackoff:    cfg.Lottery.OracleBackoff,
		PaymentExpiry:    cfg.Lottery.PaymentExpiry,
	}, log)

	if cfg.Redis.Enabled {
		redisClient, err := rediswrap.Connect(cfg.Redis.Addr, log)
		if err != nil {
			log.Warn("REDIS", "Continuing without the confirm cooldown")
		} else {
			defer redisClient.Close()
			service.WithCooldown(rediswrap.NewCooldown(redisClient))
		}
	}

	var gateway *telegram.Gateway
	var notifier *telegram.Notifier
	if cfg.Telegram.Token != "" {
		botAPI, err := telegram.Connect(cfg.Telegram.Token, log)
		if err != nil {
			log.Fatal("TELEGRAM", err.Error())
		}
		gateway = telegram.NewGateway(botAPI, service, cfg.Ton.TicketPriceTON, log)
		notifier = telegram.NewNotifier(botAPI, cfg.Telegram.AdminChatID, log)
	} else {
		log.Warn("TELEGRAM", "TELEGRAM_BOT_TOKEN not set, the bot is disabled")
	}

	var emitter *sse.TicketEventEmitter
	if cfg.Kafka.Enabled {
		topics := cfg.Kafka.Topics
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, topics, log)
		defer producer.Close()
		service.WithEvents(producer)

		emitter = sse.NewTicketEventEmitter()
		handle := func(ctx context.Context, evt models.TicketEventDto) error {
			emitter.Emit(evt)
			if notifier == nil {
				return nil
			}
			return notifier.HandleTicketEvent(ctx, evt)
		}
		// the event stream relays every lifecycle event; the notifier skips created
		for _, topic := range topics.All() {
			consumer := kafka.NewConsumer(cfg.Kafka.Brokers, topic, cfg.Kafka.GroupID, log)
			defer consumer.Close()
			go func() {
				if err := consumer.Start(ctx, handle); err != nil {
					log.Error("KAFKA", fmt.Sprintf("Consumer stopped: %v", err))
				}
			}()
		}
	}

	if gateway != nil {
		go func() {
			if err := gateway.Run(ctx); err != nil {
				log.Error("TELEGRAM", fmt.Sprintf("Bot stopped: %v", err))
			}
		}()
	}

	go service.RunExpirySweeper(ctx, cfg.Lottery.ExpirySweepInterval)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	// --- Public Routes ---
	r.Get("/healthz", healthHandler(store))
	r.Handle("/metrics", promhttp.Handler())
	analytics_api.NewHandler(analytics.NewService(analytics.NewDB(bunDB)), log).RegisterRoutes(r)

	// --- Protected Routes ---
	if cfg.Auth.JWTSecret != "" {
		ticketHandler := ticket_api.NewHandler(service, log)
		ticketHandler.Events = emitter
		r.Route("/api", func(r chi.Router) {
			r.Use(auth.Middleware([]byte(cfg.Auth.JWTSecret), log))
			ticketHandler.RegisterRoutes(r)
		})
		log.Info("ROUTER", "Ticket routes registered under /api/tickets")
	} else {
		log.Warn("AUTH", "JWT_SECRET not set, the HTTP ticket API is disabled")
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 TON Lottery running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ TON Lottery shutdown complete")
	}
}
