// Command lurkbot is the main entrypoint for the channel companion bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the IRC chat listener that turns "!" messages into economy
//     transactions and overlay signals, plus the Twitch OAuth token refresher.
//   - Exposes the HTTP server with /healthz, /chatters, /stats/*, /metrics,
//     the EventSub webhook, and the OAuth flow.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/lurkbot/chat"
	"github.com/onnwee/lurkbot/commands"
	"github.com/onnwee/lurkbot/config"
	"github.com/onnwee/lurkbot/db"
	"github.com/onnwee/lurkbot/economy"
	"github.com/onnwee/lurkbot/oauth"
	"github.com/onnwee/lurkbot/roster"
	"github.com/onnwee/lurkbot/server"
	"github.com/onnwee/lurkbot/telemetry"
	"github.com/onnwee/lurkbot/twitchapi"
	"github.com/onnwee/lurkbot/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("lurkbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: embedded SQL (db.Migrate) for backward compatibility
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed", slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	store := economy.NewStore(database, clock)
	if err := store.SeedDefaultShopItems(ctx); err != nil {
		slog.Warn("shop seed failed", slog.Any("err", err))
	}

	// Helix client for roster fetches. The chatters endpoint needs a user
	// token carrying moderator:read:chatters, so the token provider prefers
	// the stored user token and falls back to an app token for id lookups.
	appToken := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	helix := &twitchapi.HelixClient{
		ClientID: cfg.TwitchClientID,
		TokenSource: twitchapi.TokenFunc(func(tctx context.Context) (string, error) {
			if access, _, _, _, err := db.GetOAuthToken(tctx, database, "twitch"); err == nil && access != "" {
				return access, nil
			}
			if cfg.TwitchOAuthToken != "" {
				return strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:"), nil
			}
			return appToken.Get(tctx)
		}),
	}

	reconciler := roster.New(store, helix, helix, cfg, database, clock)

	var videos commands.VideoResolver = youtubeapi.New(cfg.YTAPIKey)
	listener := chat.NewListener(cfg, database)
	processor := commands.New(store, listener, videos, commands.PolicyFromConfig(cfg))
	listener.SetHandler(processor)

	// IRC chat listener (skipped when chat creds are absent; the EventSub
	// webhook can still feed the processor in that mode).
	if err := cfg.ValidateChatReady(); err == nil {
		go func() {
			for ctx.Err() == nil {
				if err := listener.Run(ctx); err != nil {
					slog.Error("chat listener exited", slog.Any("err", err))
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
		}()
	} else {
		slog.Info("chat listener disabled", slog.Any("reason", err))
	}

	// Centralized OAuth token refresher for the bot's user token.
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/stats/metrics/webhook/oauth)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handlers := server.NewHandlers(cfg, store, reconciler, processor)
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
