// Command backend runs the chat copilot: a Twitch chat bot that answers
// addressed messages directly and periodically chimes in on ambient chatter.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Joins the channel over IRC and routes messages to the dialogue queue,
//     the digest buffer, or the admin command handler.
//   - Polls Helix for live status and rotates stored announcements.
//   - Exposes a minimal HTTP server with /healthz, /status, /metrics, and
//     admin controls.
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
	"slices"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chat-copilot/backend/announce"
	"github.com/onnwee/chat-copilot/backend/chat"
	"github.com/onnwee/chat-copilot/backend/config"
	"github.com/onnwee/chat-copilot/backend/db"
	"github.com/onnwee/chat-copilot/backend/gpt"
	"github.com/onnwee/chat-copilot/backend/oauth"
	"github.com/onnwee/chat-copilot/backend/server"
	"github.com/onnwee/chat-copilot/backend/snapshot"
	"github.com/onnwee/chat-copilot/backend/telemetry"
	"github.com/onnwee/chat-copilot/backend/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-copilot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

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

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared suspend flag: flips from chat commands and the admin API, read
	// by every loop that emits to chat.
	suspended := new(atomic.Bool)

	// Provider keys: environment first, DB-stored keys appended.
	keys := cfg.GeminiAPIKeys
	if stored, err := db.GetProviderKeys(ctx, database); err != nil {
		slog.Warn("loading stored provider keys failed", slog.Any("err", err))
	} else {
		for _, k := range stored {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	if len(keys) == 0 {
		slog.Error("no provider API keys configured (GEMINI_API_KEYS or provider_keys table)")
		os.Exit(1)
	}

	roles := gpt.NewRoles(&db.RoleStore{DB: database})
	role, err := roles.Get(ctx, cfg.RoleName)
	if err != nil {
		slog.Error("role load failed", slog.String("role", cfg.RoleName), slog.Any("err", err))
		os.Exit(1)
	}
	if role == nil {
		// No stored record: run with a bare role so the bot still answers.
		slog.Warn("role not found, using defaults", slog.String("role", cfg.RoleName))
		role = &gpt.Role{Name: cfg.RoleName, Scopes: []string{"chat"}}
	}

	dialogueClient, err := gpt.NewClient(keys, role, gpt.HistoryFor(gpt.KindDialogue), gpt.WithModelName(cfg.GeminiModel))
	if err != nil {
		slog.Error("dialogue client init failed", slog.Any("err", err))
		os.Exit(1)
	}
	digestClient, err := gpt.NewClient(keys, role, gpt.HistoryFor(gpt.KindDigest), gpt.WithModelName(cfg.GeminiModel))
	if err != nil {
		slog.Error("digest client init failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Chat credentials: explicit TWITCH_OAUTH_TOKEN wins; otherwise fall back
	// to the stored (refreshed) bot token.
	creds := &db.BotCredentialStore{DB: database, ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	chatToken := cfg.TwitchOAuthToken
	if chatToken == "" {
		if tok, err := creds.ChatToken(ctx); err != nil {
			slog.Warn("no chat token available", slog.Any("err", err))
		} else {
			chatToken = tok
		}
	}
	if err := cfg.ValidateChatReady(); err != nil && chatToken == "" {
		slog.Error("chat not configured", slog.Any("err", err))
		os.Exit(1)
	}

	bot := chat.NewBot(cfg.TwitchBotUsername, chatToken, cfg.TwitchChannel)

	dialogue := gpt.NewDialogueProcessor(dialogueClient, bot, cfg.TwitchChannel, suspended)
	digest := gpt.NewDigestProcessor(digestClient, bot, cfg.TwitchChannel, cfg.DigestPeriod, suspended)

	// Helix access: prefer the bot's user token, fall back to an app token
	// when client credentials are present but no user token is stored.
	var helix *twitchapi.HelixClient
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		var store twitchapi.CredentialStore = creds
		if _, err := creds.Credentials(ctx); err != nil {
			store = &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		}
		helix = &twitchapi.HelixClient{Auth: &twitchapi.Caller{Store: store}}
	} else {
		slog.Info("twitch client credentials missing, helix lookups disabled")
	}

	var checker gpt.StreamChecker
	if helix != nil && cfg.WatchPeriod > 0 {
		checker = helix
	}
	var grabber gpt.SnapshotGrabber
	if g := snapshot.NewExecGrabber(); g != nil {
		grabber = g
	}
	watcher := gpt.NewWatcher(dialogue, digest, checker, grabber, suspended, gpt.WatcherConfig{
		Channel:      cfg.TwitchChannel,
		PollInterval: cfg.WatchPeriod,
	})

	var resolver chat.Resolver
	if helix != nil {
		resolver = helix
	}
	router := chat.NewRouter(chat.RouterConfig{
		BotName:        cfg.TwitchBotUsername,
		Channel:        cfg.TwitchChannel,
		DialogueWindow: cfg.DialogueWindow,
		IsAdmin:        cfg.IsAdmin,
	}, chat.Deps{
		Dialogue:  dialogue,
		Digest:    digest,
		Watcher:   watcher,
		Roles:     roles,
		Sender:    bot,
		Resolver:  resolver,
		Ignores:   &db.UserStore{DB: database},
		Suspended: suspended,
	})
	if err := router.ReloadIgnores(ctx); err != nil {
		slog.Warn("initial ignore list load failed", slog.Any("err", err))
	}
	bot.OnMessage(func(m chat.Message) { router.Handle(ctx, m) })

	announcer := announce.New(&announce.DBStore{DB: database}, bot, cfg.TwitchChannel, suspended, watcher.Online)

	// Keep the stored bot token fresh so reconnects and Helix calls keep working.
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		oauth.StartRefresher(ctx, database, db.TwitchProvider, 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
		})
	}

	go watcher.Run(ctx)
	go announcer.Run(ctx)
	go func() {
		if err := bot.Run(ctx); err != nil {
			slog.Error("chat connection failed", slog.Any("err", err))
			stop()
		}
	}()

	startPprofIfEnabled()

	// HTTP server (health/status/metrics/admin)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		deps := server.Deps{
			DB:        database,
			Dialogue:  dialogue,
			Digest:    digest,
			Router:    router,
			Announcer: announcer,
			Roles:     roles,
			Suspended: suspended,
			Channel:   cfg.TwitchChannel,
		}
		if err := server.Start(ctx, deps, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
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
}

// startPprofIfEnabled exposes /debug/pprof on a side port when ENABLE_PPROF=1.
func startPprofIfEnabled() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
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

