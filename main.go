// Command masa-meter is the main entrypoint for the Masa Meter chat bot and API.
// It:
//   - Loads layered configuration and initializes structured logging.
//   - Connects to Postgres and runs versioned migrations (embedded SQL fallback).
//   - Joins the configured Twitch channels and records "sushi masa" mentions.
//   - Keeps the bot's Twitch token validated, stored (optionally encrypted) and refreshed.
//   - Polls the meter for the status gauge.
//   - Serves the read-only API plus /healthz, /readyz, /metrics and /admin/status.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/yellowcrystalz/masa-meter/chat"
	"github.com/yellowcrystalz/masa-meter/config"
	"github.com/yellowcrystalz/masa-meter/db"
	"github.com/yellowcrystalz/masa-meter/ledger"
	"github.com/yellowcrystalz/masa-meter/oauth"
	"github.com/yellowcrystalz/masa-meter/presence"
	"github.com/yellowcrystalz/masa-meter/server"
	"github.com/yellowcrystalz/masa-meter/telemetry"
	"github.com/yellowcrystalz/masa-meter/twitchapi"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	slog.SetDefault(telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat))
	slog.Info("logger initialized", slog.String("level", cfg.LogLevel), slog.String("format", cfg.LogFormat))

	if err := run(cfg); err != nil {
		slog.Error("masa-meter exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	telemetry.Init()

	// Tracing is optional; it stays a no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdownTracing, err := telemetry.InitTracing(cfg.ServiceName, version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Ping(ctx, database); err != nil {
		return err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.MigrateWithFallback(ctx, database); err != nil {
		return err
	}

	l := ledger.New(database)
	refresher := presence.New(l, cfg.PresenceInterval, presence.WithPublisher(logMeterChanges(slog.Default())))

	var (
		bot    *chat.Bot
		tokens *botTokens
	)
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Warn("chat bot disabled", slog.Any("err", err), slog.String("component", "chat"))
	} else {
		store, err := newTokenStore(cfg, database)
		if err != nil {
			return err
		}
		client := &twitchapi.Client{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		tokens = newBotTokens(cfg, store, client, func(t oauth.Token) {
			if bot != nil {
				bot.SetToken(t.AccessToken)
			}
		})
		access, err := tokens.Prepare(ctx)
		if err != nil {
			return err
		}
		bot = chat.NewBot(chat.BotConfig{
			Username:        cfg.TwitchBotUsername,
			OAuthToken:      access,
			Channels:        cfg.Channels(),
			Prefix:          cfg.ChatCommandPrefix,
			LeaderboardSize: cfg.LeaderboardSize,
			MaxInFlight:     cfg.ChatMaxInFlight,
		}, l)
	}

	status := func() map[string]any {
		snap := refresher.Snapshot()
		s := map[string]any{
			"meter":            snap.Meter,
			"meter_updated_at": snap.UpdatedAt,
			"chat_enabled":     bot != nil,
			"channels":         cfg.Channels(),
			"db_open_conns":    database.Stats().OpenConnections,
		}
		if snap.LastError != "" {
			s["meter_error"] = snap.LastError
		}
		if bot != nil {
			s["chat_in_flight"] = bot.InFlight()
			s["token_refresh"] = tokens.refresher != nil
		}
		return s
	}

	handler := server.NewMux(ctx, server.Dependencies{Ledger: l, DB: database, Status: status}, server.Options{
		AdminUsername:      cfg.AdminUsername,
		AdminPassword:      cfg.AdminPassword,
		AdminToken:         cfg.AdminToken,
		RateLimitEnabled:   cfg.RateLimitEnabled,
		RequestsPerIP:      cfg.RateLimitRequestsPerIP,
		RateLimitWindow:    time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
		CORSPermissive:     cfg.Permissive(),
		CORSAllowedOrigins: cfg.AllowedOrigins(),
		MaxLeaderboard:     cfg.APIMaxLeaderboard,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, cfg.HTTPAddr, handler) })
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(func() error { return reportPoolStats(gctx, database) })
	if bot != nil {
		g.Go(func() error { return tokens.Run(gctx) })
		g.Go(func() error { return bot.Run(gctx) })
	}

	err = g.Wait()
	slog.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logMeterChanges returns a presence publisher that logs the meter whenever it moves.
func logMeterChanges(logger *slog.Logger) func(presence.Snapshot) {
	last := int64(-1)
	return func(s presence.Snapshot) {
		if s.Meter == last {
			return
		}
		last = s.Meter
		logger.Info("masa meter", slog.Int64("meter", s.Meter), slog.String("component", "presence"))
	}
}

// reportPoolStats publishes connection pool gauges until ctx ends.
func reportPoolStats(ctx context.Context, database *sql.DB) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		stats := database.Stats()
		telemetry.UpdateDatabasePoolMetrics(stats.OpenConnections, stats.InUse)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
