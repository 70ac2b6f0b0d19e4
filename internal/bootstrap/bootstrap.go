// Package bootstrap builds the shared dependencies of the commands from
// configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/commentwatch/moderator/internal/config"
	"github.com/commentwatch/moderator/internal/messaging"
	"github.com/commentwatch/moderator/internal/moderation"
	"github.com/commentwatch/moderator/internal/toxicity"
)

// Redis connects and pings Redis.
func Redis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NATS connects to NATS when enabled. It returns nil, nil when disabled.
func NATS(cfg config.NATSConfig, name string) (*messaging.NATSClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.URL
	natsConfig.Name = name
	return messaging.NewNATSClient(natsConfig)
}

// KafkaWriter returns a request-log writer, or nil when Kafka is not
// configured.
func KafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	if cfg.Addr == "" || cfg.Topic == "" {
		log.Warn("[bootstrap] kafka was not configured, request logs will not be shipped")
		return nil
	}
	w := &kafka.Writer{
		Addr:      kafka.TCP(cfg.Addr),
		Topic:     cfg.Topic,
		BatchSize: cfg.Batch,
	}
	if err := createTopic(w.Addr.String(), w.Topic); err != nil {
		log.Warnf("[bootstrap] failed to create Kafka topic: %v", err)
	}
	return w
}

func createTopic(broker, topic string) error {
	conn, err := kafka.DialContext(context.Background(), "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}

// Lemmatizer picks the normal-form reducer for the technical-term exemption.
func Lemmatizer(name string) moderation.Lemmatizer {
	switch name {
	case "snowball":
		return moderation.SnowballLemmatizer{}
	case "", "none":
		return nil
	default:
		log.Warnf("[bootstrap] unknown lemmatizer %q, technical exemption disabled", name)
		return nil
	}
}

// Screener loads the vocabulary and builds the filter holder, wiring the
// toxicity classifier when a URL is configured.
func Screener(cfg config.Config, logger log.FieldLogger) *moderation.Screener {
	opts := []moderation.Option{
		moderation.WithMinWordLength(cfg.Filter.MinWordLength),
		moderation.WithEscalation(cfg.Toxicity.MinLength, cfg.Toxicity.Threshold, cfg.Toxicity.Timeout.Duration),
	}
	if lem := Lemmatizer(cfg.Filter.Lemmatizer); lem != nil {
		opts = append(opts, moderation.WithLemmatizer(lem))
	}
	if cfg.Toxicity.URL != "" {
		opts = append(opts, moderation.WithClassifier(toxicity.New(cfg.Toxicity.URL, toxicity.WithLogger(logger))))
	} else {
		logger.Info("[bootstrap] toxicity classifier not configured")
	}

	return moderation.NewScreener(cfg.Filter.BadWordsPath, cfg.Filter.TechnicalWordsPath, logger, opts...)
}
