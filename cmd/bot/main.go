package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	log "github.com/sirupsen/logrus"

	"github.com/commentwatch/moderator/internal/api"
	"github.com/commentwatch/moderator/internal/bootstrap"
	"github.com/commentwatch/moderator/internal/bot"
	"github.com/commentwatch/moderator/internal/config"
	"github.com/commentwatch/moderator/internal/logging"
	"github.com/commentwatch/moderator/internal/notify"
	"github.com/commentwatch/moderator/internal/poller"
	"github.com/commentwatch/moderator/internal/ratelimit"
	"github.com/commentwatch/moderator/internal/stepik"
	"github.com/commentwatch/moderator/internal/storage"
)

func main() {
	var (
		configPath string
		httpAddr   string
	)
	flag.StringVar(&configPath, "config", "", "path to TOML config")
	flag.StringVar(&httpAddr, "http", "", "HTTP listen address for metrics and health (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[bot] failed to load config: %v", err)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Telegram.Token == "" {
		log.Fatal("[bot] BOT_TOKEN is not set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb, err := bootstrap.Redis(cfg.Redis)
	if err != nil {
		log.Fatalf("[bot] failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	store := storage.NewStore(rdb)

	for _, id := range cfg.Telegram.OwnerIDs {
		if err := store.AddOwner(ctx, id, ""); err != nil {
			log.Fatalf("[bot] failed to seed owner %d: %v", id, err)
		}
	}

	logger := log.StandardLogger()
	screener := bootstrap.Screener(cfg, logger)
	platform := stepik.New(cfg.Stepik.BaseURL, cfg.Stepik.ClientID, cfg.Stepik.ClientSecret,
		store, cfg.Stepik.Timeout.Duration, logger)

	natsClient, err := bootstrap.NATS(cfg.NATS, "commentwatch-bot")
	if err != nil {
		log.Fatalf("[bot] failed to connect to NATS: %v", err)
	}
	// A nil *NATSClient must not reach the poller as a non-nil interface.
	var publisher poller.Publisher
	checks := map[string]api.HealthCheck{"redis": store.Ping}
	if natsClient != nil {
		defer natsClient.Close()
		publisher = natsClient
		checks["nats"] = natsClient.Ping
	}

	b, err := tgbot.New(cfg.Telegram.Token,
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {}),
	)
	if err != nil {
		log.Fatalf("[bot] failed to create bot: %v", err)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		log.Fatalf("[bot] getMe: %v", err)
	}

	notifier := notify.New(b, store, cfg.Poller.SendGap.Duration, logger)
	svc := poller.NewService(platform, store, screener, notifier, publisher, poller.Config{
		Interval: cfg.Poller.Interval.Duration,
		PageSize: cfg.Poller.PageSize,
	}, logger)

	handler := bot.New(store, screener, svc, platform, logger)
	handler.SetLimiter(ratelimit.NewLimiter(rdb))
	handler.Register(b)

	httpAPI := api.New(cfg.HTTP.ServiceName, screener, nil, checks)
	httpAPI.SetAdminToken(cfg.HTTP.AdminToken)
	if err := httpAPI.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatalf("[bot] %v", err)
	}
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpAPI.Router(),
	}
	go func() {
		log.Infof("[bot] metrics and health on %v", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[bot] HTTP server: %v", err)
		}
	}()

	svc.Start()
	log.Infof("[bot] @%s started", me.Username)
	b.Start(ctx)

	log.Info("[bot] shutting down")
	svc.Stop()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[bot] HTTP shutdown error: %v", err)
	}
}
