// Package config loads process configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/picklesync/go/internal/livesync"
	"github.com/mcdev12/picklesync/go/internal/models"
	"github.com/mcdev12/picklesync/go/internal/store"
	"github.com/mcdev12/picklesync/go/internal/timer"
)

// Transport kinds.
const (
	TransportNone      = "none"
	TransportPipe      = "pipe"
	TransportWebsocket = "websocket"
	TransportNATS      = "nats"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StorePgx    = "pgx"
	StoreGorm   = "gorm"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Device    DeviceConfig    `yaml:"device"`
	Sync      SyncConfig      `yaml:"sync"`
	Transport TransportConfig `yaml:"transport"`
	Store     StoreConfig     `yaml:"store"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	HTTP      HTTPConfig      `yaml:"http"`
	// Variations are rule sets seeded into the store at startup.
	Variations []VariationConfig `yaml:"variations"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type DeviceConfig struct {
	ID   string        `yaml:"id"`
	Role livesync.Role `yaml:"role"`
}

type SyncConfig struct {
	Enabled          bool                    `yaml:"enabled"`
	ThrottleInterval time.Duration           `yaml:"throttle_interval"`
	DriftThreshold   time.Duration           `yaml:"drift_threshold"`
	HistoryBatchSize int                     `yaml:"history_batch_size"`
	ConflictPolicy   livesync.ConflictPolicy `yaml:"conflict_policy"`
	SendTimeout      time.Duration           `yaml:"send_timeout"`
	StoreTimeout     time.Duration           `yaml:"store_timeout"`
	WatchdogInterval time.Duration           `yaml:"watchdog_interval"`
	TickInterval     time.Duration           `yaml:"tick_interval"`
	PauseTimerAfter  time.Duration           `yaml:"pause_timer_after"`
	PauseGameAfter   time.Duration           `yaml:"pause_game_after"`
}

type TransportConfig struct {
	Kind string `yaml:"kind"`
	// PeerPath is where the primary accepts the companion's websocket.
	PeerPath string `yaml:"peer_path"`
	// PeerURL is the primary's websocket URL, dialed by the companion.
	PeerURL  string     `yaml:"peer_url"`
	QueueMax int        `yaml:"queue_max"`
	NATS     NATSConfig `yaml:"nats"`
}

type NATSConfig struct {
	URL               string        `yaml:"url"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	PeerID            string        `yaml:"peer_id"`
	StreamName        string        `yaml:"stream_name"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type AnalyticsConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// Enabled reports whether events should be published to Kafka.
func (c AnalyticsConfig) Enabled() bool {
	return c.Brokers != "" && c.Topic != ""
}

type VariationConfig struct {
	ID    string         `yaml:"id"`
	Name  string         `yaml:"name"`
	Rules models.RuleSet `yaml:"rules"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func Default() Config {
	sync := livesync.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info", Console: true},
		Device: DeviceConfig{
			Role: livesync.RolePrimary,
		},
		Sync: SyncConfig{
			Enabled:          true,
			ThrottleInterval: sync.ThrottleInterval,
			DriftThreshold:   sync.DriftThreshold,
			HistoryBatchSize: sync.HistoryBatchSize,
			ConflictPolicy:   sync.ConflictPolicy,
			SendTimeout:      sync.SendTimeout,
			StoreTimeout:     sync.StoreTimeout,
			WatchdogInterval: sync.WatchdogInterval,
			TickInterval:     timer.DefaultTickInterval,
			PauseTimerAfter:  timer.DefaultPauseAfter,
			PauseGameAfter:   timer.DefaultEndAfter,
		},
		Transport: TransportConfig{
			Kind:     TransportNone,
			PeerPath: "/ws/peer",
			QueueMax: 64,
			NATS: NATSConfig{
				URL:           "nats://localhost:4222",
				SubjectPrefix: "picklesync",
				StreamName:    "PICKLESYNC_QUEUE",
			},
		},
		Store: StoreConfig{
			Driver: StoreMemory,
			Database: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Password: "postgres",
				Database: "picklesync",
				SSLMode:  "disable",
			},
		},
		Analytics: AnalyticsConfig{Topic: "picklesync.events"},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Device.ID = getEnv("PICKLESYNC_DEVICE_ID", c.Device.ID)
	c.Device.Role = livesync.Role(getEnv("PICKLESYNC_ROLE", string(c.Device.Role)))

	enabled, err := getEnvAsBool("PICKLESYNC_SYNC_ENABLED", c.Sync.Enabled)
	if err != nil {
		return err
	}
	c.Sync.Enabled = enabled
	c.Sync.ConflictPolicy = livesync.ConflictPolicy(getEnv("PICKLESYNC_CONFLICT_POLICY", string(c.Sync.ConflictPolicy)))

	c.Transport.Kind = getEnv("PICKLESYNC_TRANSPORT", c.Transport.Kind)
	c.Transport.PeerURL = getEnv("PICKLESYNC_PEER_URL", c.Transport.PeerURL)
	c.Transport.NATS.URL = getEnv("NATS_URL", c.Transport.NATS.URL)
	c.Transport.NATS.PeerID = getEnv("PICKLESYNC_PEER_ID", c.Transport.NATS.PeerID)

	c.Store.Driver = getEnv("PICKLESYNC_STORE", c.Store.Driver)
	db := &c.Store.Database
	db.Host = getEnv("DB_HOST", db.Host)
	db.User = getEnv("DB_USER", db.User)
	db.Password = getEnv("DB_PASSWORD", db.Password)
	db.Database = getEnv("DB_NAME", db.Database)
	db.SSLMode = getEnv("DB_SSLMODE", db.SSLMode)
	port, err := getEnvAsInt("DB_PORT", db.Port)
	if err != nil {
		return err
	}
	db.Port = port

	c.Analytics.Brokers = getEnv("KAFKA_BROKERS", c.Analytics.Brokers)
	c.Analytics.Topic = getEnv("KAFKA_TOPIC", c.Analytics.Topic)

	if p := os.Getenv("PORT"); p != "" {
		c.HTTP.Addr = ":" + p
	}
	c.HTTP.Addr = getEnv("PICKLESYNC_HTTP_ADDR", c.HTTP.Addr)
	if origins := os.Getenv("PICKLESYNC_ALLOWED_ORIGINS"); origins != "" {
		c.HTTP.AllowedOrigins = strings.Split(origins, ",")
	}
	return nil
}

// Validate fills derived defaults and rejects unusable combinations.
func (c *Config) Validate() error {
	var errs []error

	if c.Device.Role == "" {
		c.Device.Role = livesync.RolePrimary
	}
	if c.Device.Role != livesync.RolePrimary && c.Device.Role != livesync.RoleCompanion {
		errs = append(errs, fmt.Errorf("device.role must be primary or companion, got %q", c.Device.Role))
	}
	if c.Device.ID == "" {
		c.Device.ID = string(c.Device.Role)
	}

	switch c.Transport.Kind {
	case "", TransportNone:
		c.Transport.Kind = TransportNone
	case TransportPipe:
	case TransportWebsocket:
		if c.Device.Role == livesync.RoleCompanion && c.Transport.PeerURL == "" {
			errs = append(errs, errors.New("transport.peer_url is required for a websocket companion"))
		}
		if c.Transport.PeerPath == "" {
			c.Transport.PeerPath = "/ws/peer"
		}
	case TransportNATS:
		if c.Transport.NATS.PeerID == "" {
			errs = append(errs, errors.New("transport.nats.peer_id is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport kind %q", c.Transport.Kind))
	}

	switch c.Store.Driver {
	case "":
		c.Store.Driver = StoreMemory
	case StoreMemory, StorePgx, StoreGorm:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	for i, v := range c.Variations {
		if _, err := uuid.Parse(v.ID); err != nil {
			errs = append(errs, fmt.Errorf("variations[%d].id: %w", i, err))
		}
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	if _, err := c.LiveSync().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StoreVariations converts the configured variations. Call it after Validate.
func (c *Config) StoreVariations() []store.Variation {
	out := make([]store.Variation, 0, len(c.Variations))
	for _, v := range c.Variations {
		id, err := uuid.Parse(v.ID)
		if err != nil {
			continue
		}
		out = append(out, store.Variation{ID: id, Name: v.Name, Rules: v.Rules.Normalize()})
	}
	return out
}

// LiveSync returns the coordinator settings.
func (c *Config) LiveSync() livesync.Config {
	return livesync.Config{
		DeviceID:         c.Device.ID,
		Role:             c.Device.Role,
		SyncDisabled:     !c.Sync.Enabled || c.Transport.Kind == TransportNone,
		ThrottleInterval: c.Sync.ThrottleInterval,
		DriftThreshold:   c.Sync.DriftThreshold,
		HistoryBatchSize: c.Sync.HistoryBatchSize,
		ConflictPolicy:   c.Sync.ConflictPolicy,
		SendTimeout:      c.Sync.SendTimeout,
		StoreTimeout:     c.Sync.StoreTimeout,
		WatchdogInterval: c.Sync.WatchdogInterval,
		Timer: timer.Config{
			TickInterval: c.Sync.TickInterval,
			PauseAfter:   c.Sync.PauseTimerAfter,
			EndAfter:     c.Sync.PauseGameAfter,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
