package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/commentwatch/moderator/internal/api"
	"github.com/commentwatch/moderator/internal/bootstrap"
	"github.com/commentwatch/moderator/internal/config"
	"github.com/commentwatch/moderator/internal/logging"
	"github.com/commentwatch/moderator/internal/messaging"
	"github.com/commentwatch/moderator/internal/moderation"
	"github.com/commentwatch/moderator/internal/ratelimit"
)

func main() {
	var (
		configPath string
		httpAddr   string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "path to TOML config")
	flag.StringVar(&httpAddr, "http", "", "HTTP listen address (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[moderator] failed to load config: %v", err)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	logger := log.StandardLogger()
	screener := bootstrap.Screener(cfg, logger)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	checks := map[string]api.HealthCheck{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	natsClient, err := bootstrap.NATS(cfg.NATS, "commentwatch-moderator")
	if err != nil {
		log.Fatalf("[moderator] failed to connect to NATS: %v", err)
	}
	if natsClient != nil {
		if err := subscribeChecks(natsClient, screener); err != nil {
			log.Fatalf("[moderator] failed to subscribe to moderation checks: %v", err)
		}
		checks["nats"] = natsClient.Ping
	}

	var kw api.MessageWriter
	kafkaWriter := bootstrap.KafkaWriter(cfg.Kafka)
	if kafkaWriter != nil {
		kw = kafkaWriter
	}

	httpAPI := api.New(cfg.HTTP.ServiceName, screener, kw, checks)
	httpAPI.SetLimiter(ratelimit.NewLimiter(rdb))
	httpAPI.SetAdminToken(cfg.HTTP.AdminToken)
	if err := httpAPI.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatalf("[moderator] %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpAPI.Router(),
	}

	go func() {
		log.Infof("[moderator] starting on %v", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[moderator] failed to start: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("[moderator] received signal %v, shutting down", sig)

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[moderator] HTTP shutdown error: %v", err)
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			log.Errorf("[moderator] kafka writer close: %v", err)
		}
	}
	rdb.Close()
	log.Info("[moderator] shutdown complete")
}

// subscribeChecks answers moderation.check requests on moderation.result.<id>.
func subscribeChecks(nc *messaging.NATSClient, screener *moderation.Screener) error {
	return nc.SubscribeModerationCheck(func(data []byte) {
		var req moderation.ModerationRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warnf("[moderator] failed to unmarshal request: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		verdict := screener.Screen(ctx, req.Text)

		if verdict.Blocked {
			log.Infof("[moderator] FLAGGED request=%s source=%s reason=%s term=%q",
				req.RequestID, req.Source, verdict.Reason, verdict.Term)
		} else {
			log.Debugf("[moderator] CLEAN request=%s source=%s", req.RequestID, req.Source)
		}

		resp := moderation.ModerationResult{
			RequestID: req.RequestID,
			Source:    req.Source,
			Verdict:   verdict,
			LowEffort: moderation.IsLowEffort(req.Text),
		}
		respData, err := json.Marshal(resp)
		if err != nil {
			log.Errorf("[moderator] failed to marshal result: %v", err)
			return
		}
		if err := nc.PublishModerationResult(req.RequestID, respData); err != nil {
			log.Errorf("[moderator] failed to publish result: %v", err)
		}
	})
}
