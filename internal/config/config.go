// Package config loads service configuration from a TOML file, a .env file
// and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the full configuration shared by cmd/bot and cmd/moderator.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Telegram TelegramConfig `toml:"telegram"`
	Stepik   StepikConfig   `toml:"stepik"`
	Redis    RedisConfig    `toml:"redis"`
	NATS     NATSConfig     `toml:"nats"`
	HTTP     HTTPConfig     `toml:"http"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Filter   FilterConfig   `toml:"filter"`
	Toxicity ToxicityConfig `toml:"toxicity"`
	Poller   PollerConfig   `toml:"poller"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

type TelegramConfig struct {
	Token    string  `toml:"token"`
	OwnerIDs []int64 `toml:"owner_ids"`
}

type StepikConfig struct {
	BaseURL      string   `toml:"base_url"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Timeout      Duration `toml:"timeout"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type NATSConfig struct {
	URL     string `toml:"url"`
	Enabled bool   `toml:"enabled"`
}

type HTTPConfig struct {
	Addr        string `toml:"addr"`
	ServiceName string `toml:"service_name"`
	// TrustedProxies are addresses or CIDR ranges allowed to set
	// X-Forwarded-For.
	TrustedProxies []string `toml:"trusted_proxies"`
	// AdminToken opens POST /reload; empty keeps it closed.
	AdminToken string `toml:"admin_token"`
}

type KafkaConfig struct {
	Addr  string `toml:"addr"`
	Topic string `toml:"topic"`
	Batch int    `toml:"batch"`
}

type FilterConfig struct {
	BadWordsPath       string `toml:"bad_words_path"`
	TechnicalWordsPath string `toml:"technical_words_path"`
	MinWordLength      int    `toml:"min_word_length"`
	// Lemmatizer selects the technical-term normal-form reducer: "snowball"
	// or "none".
	Lemmatizer string `toml:"lemmatizer"`
}

type ToxicityConfig struct {
	URL       string   `toml:"url"`
	Threshold float64  `toml:"threshold"`
	Timeout   Duration `toml:"timeout"`
	MinLength int      `toml:"min_length"`
}

type PollerConfig struct {
	Interval Duration `toml:"interval"`
	PageSize int      `toml:"page_size"`
	SendGap  Duration `toml:"send_gap"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Stepik: StepikConfig{
			BaseURL: "https://stepik.org",
			Timeout: Duration{10 * time.Second},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		NATS:  NATSConfig{URL: "nats://localhost:4222"},
		HTTP:  HTTPConfig{Addr: ":8055", ServiceName: "moderator"},
		Filter: FilterConfig{
			BadWordsPath:       "data/badwords.json",
			TechnicalWordsPath: "data/technical_words.json",
			MinWordLength:      4,
			Lemmatizer:         "snowball",
		},
		Toxicity: ToxicityConfig{
			Threshold: 0.82,
			Timeout:   Duration{3 * time.Second},
			MinLength: 12,
		},
		Poller: PollerConfig{
			Interval: Duration{30 * time.Second},
			PageSize: 20,
			SendGap:  Duration{500 * time.Millisecond},
		},
	}
}

// Load reads path (if non-empty), then .env (if present), then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Telegram.Token, "BOT_TOKEN")
	setString(&c.Stepik.BaseURL, "STEPIK_BASE_URL")
	setString(&c.Stepik.ClientID, "STEPIK_CLIENT_ID")
	setString(&c.Stepik.ClientSecret, "STEPIK_CLIENT_SECRET")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.HTTP.AdminToken, "HTTP_ADMIN_TOKEN")
	setString(&c.Kafka.Addr, "KAFKA_ADDR")
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setString(&c.Filter.BadWordsPath, "BAD_WORDS_PATH")
	setString(&c.Filter.TechnicalWordsPath, "TECHNICAL_WORDS_PATH")
	setString(&c.Filter.Lemmatizer, "LEMMATIZER")
	setString(&c.Toxicity.URL, "TOXICITY_URL")

	// TG_IDS_OWNERS is a space separated list, as in the deployment .env files.
	if v := os.Getenv("TG_IDS_OWNERS"); v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return err
		}
		c.Telegram.OwnerIDs = ids
	}
	if v := os.Getenv("HTTP_TRUSTED_PROXIES"); v != "" {
		c.HTTP.TrustedProxies = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}
	if v := os.Getenv("NATS_ENABLED"); v != "" {
		c.NATS.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TOXICITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: TOXICITY_THRESHOLD: %w", err)
		}
		c.Toxicity.Threshold = f
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: POLL_INTERVAL: %w", err)
		}
		c.Poller.Interval = Duration{d}
	}
	return nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, f := range strings.Fields(strings.ReplaceAll(s, ",", " ")) {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: owner id %q: %w", f, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
