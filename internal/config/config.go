// Package config loads the daemon configuration from a YAML file, a .env
// file and BOILER_* environment variables, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/logging"
	"github.com/sweeney/boiler-automation/internal/mqtt"
	"github.com/sweeney/boiler-automation/internal/store"
)

// Config is the daemon configuration.
type Config struct {
	Log           LogConfig          `yaml:"log"`
	GPIO          GPIOConfig         `yaml:"gpio"`
	MQTT          MQTTConfig         `yaml:"mqtt"`
	Store         StoreConfig        `yaml:"store"`
	Coordination  CoordinationConfig `yaml:"coordination"`
	Maintenance   MaintenanceConfig  `yaml:"maintenance"`
	Notifications NotifyConfig       `yaml:"notifications"`
	HTTP          HTTPConfig         `yaml:"http"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// GPIOConfig describes the device status lines.
type GPIOConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BurnerPin int           `yaml:"burner_pin"`
	FaultPin  int           `yaml:"fault_pin"`
	Poll      time.Duration `yaml:"poll"`
	Debounce  time.Duration `yaml:"debounce"`
	Heartbeat time.Duration `yaml:"heartbeat"` // 0 disables
}

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`
	Prefix        string `yaml:"prefix"`
	ClimatePrefix string `yaml:"climate_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
	WSBroker      string `yaml:"ws_broker,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, badger or sqlite
	DataDir string `yaml:"data_dir"`
	Prefix  string `yaml:"prefix,omitempty"`
}

// CoordinationConfig configures the coordination state machine.
type CoordinationConfig struct {
	Owner          string        `yaml:"owner"` // user whose preferences gate coordination
	Schedule       []string      `yaml:"schedule"`
	Timezone       string        `yaml:"timezone"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// MaintenanceConfig configures runtime accrual.
type MaintenanceConfig struct {
	AccrualInterval time.Duration `yaml:"accrual_interval"`
	TargetHours     float64       `yaml:"target_hours"`
	// MaxGap caps the runtime one accrual may credit. Zero means twice
	// the accrual interval.
	MaxGap time.Duration `yaml:"max_gap,omitempty"`
}

// AccrualGap returns the effective accrual gap cap.
func (m MaintenanceConfig) AccrualGap() time.Duration {
	if m.MaxGap > 0 {
		return m.MaxGap
	}
	return 2 * m.AccrualInterval
}

// NotifyConfig selects notification transports.
type NotifyConfig struct {
	MQTT       bool   `yaml:"mqtt"`
	NATSURL    string `yaml:"nats_url,omitempty"`
	NATSPrefix string `yaml:"nats_prefix"`
}

// HTTPConfig configures the status server.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: logging.FormatConsole},
		GPIO: GPIOConfig{
			Enabled:   true,
			BurnerPin: 26,
			FaultPin:  16,
			Poll:      100 * time.Millisecond,
			Debounce:  250 * time.Millisecond,
			Heartbeat: 15 * time.Minute,
		},
		MQTT: MQTTConfig{
			Broker:        "tcp://localhost:1883",
			ClientID:      "boiler-automation",
			Prefix:        mqtt.DefaultPrefix,
			ClimatePrefix: "energy/climate",
			BufferSize:    mqtt.DefaultBufferSize,
		},
		Store: StoreConfig{Backend: store.BackendBadger, DataDir: "/var/lib/boiler-automation"},
		Coordination: CoordinationConfig{
			Owner:          "default",
			Schedule:       []string{"06:00", "09:00", "17:00", "22:00"},
			Timezone:       "Local",
			DebounceWindow: coordination.DefaultDebounceWindow,
			PollInterval:   30 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			AccrualInterval: time.Minute,
			TargetHours:     50,
		},
		Notifications: NotifyConfig{MQTT: true, NATSPrefix: "boiler.notifications"},
		HTTP:          HTTPConfig{Addr: ":80"},
	}
}

// Load reads .env (if present), then the YAML file at path (if path is
// non-empty), then BOILER_* environment overrides, and validates the
// result. ${VAR} references in the YAML are expanded.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decode(bytes.NewReader([]byte(os.ExpandEnv(string(data)))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays BOILER_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"BOILER_LOG_LEVEL":     &cfg.Log.Level,
		"BOILER_LOG_FORMAT":    &cfg.Log.Format,
		"BOILER_MQTT_BROKER":   &cfg.MQTT.Broker,
		"BOILER_MQTT_USERNAME": &cfg.MQTT.Username,
		"BOILER_MQTT_PASSWORD": &cfg.MQTT.Password,
		"BOILER_MQTT_PREFIX":   &cfg.MQTT.Prefix,
		"BOILER_STORE_BACKEND": &cfg.Store.Backend,
		"BOILER_DATA_DIR":      &cfg.Store.DataDir,
		"BOILER_OWNER":         &cfg.Coordination.Owner,
		"BOILER_TIMEZONE":      &cfg.Coordination.Timezone,
		"BOILER_NATS_URL":      &cfg.Notifications.NATSURL,
		"BOILER_HTTP_ADDR":     &cfg.HTTP.Addr,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("BOILER_GPIO_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BOILER_GPIO_ENABLED: %w", err)
		}
		cfg.GPIO.Enabled = b
	}
	if v, ok := lookup("BOILER_TARGET_HOURS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BOILER_TARGET_HOURS: %w", err)
		}
		cfg.Maintenance.TargetHours = f
	}
	if v, ok := lookup("BOILER_SCHEDULE"); ok {
		cfg.Coordination.Schedule = strings.Split(v, ",")
		for i := range cfg.Coordination.Schedule {
			cfg.Coordination.Schedule[i] = strings.TrimSpace(cfg.Coordination.Schedule[i])
		}
	}
	return nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Log.Format == logging.FormatConsole || c.Log.Format == logging.FormatJSON,
		"log.format: must be console or json, got %q", c.Log.Format)
	check(c.MQTT.Broker != "", "mqtt.broker: required")
	check(c.MQTT.BufferSize > 0, "mqtt.buffer_size: must be positive")
	if c.GPIO.Enabled {
		check(c.GPIO.Poll > 0, "gpio.poll: must be positive")
		check(c.GPIO.Debounce >= 0, "gpio.debounce: must not be negative")
		check(c.GPIO.BurnerPin != c.GPIO.FaultPin, "gpio: burner and fault pins must differ")
	}
	switch c.Store.Backend {
	case store.BackendMemory:
	case store.BackendBadger, store.BackendSQLite:
		check(c.Store.DataDir != "", "store.data_dir: required for %s", c.Store.Backend)
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	check(c.Coordination.Owner != "", "coordination.owner: required")
	check(c.Coordination.DebounceWindow > 0, "coordination.debounce_window: must be positive")
	check(c.Coordination.PollInterval > 0, "coordination.poll_interval: must be positive")
	if _, err := c.Schedule(); err != nil {
		errs = append(errs, err)
	}
	check(c.Maintenance.AccrualInterval >= time.Second, "maintenance.accrual_interval: must be at least 1s")
	check(c.Maintenance.TargetHours > 0, "maintenance.target_hours: must be positive")
	check(c.Maintenance.MaxGap == 0 || c.Maintenance.MaxGap >= c.Maintenance.AccrualInterval,
		"maintenance.max_gap: must not be shorter than accrual_interval")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the coordination timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Coordination.Timezone == "" || c.Coordination.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Coordination.Timezone)
	if err != nil {
		return nil, fmt.Errorf("coordination.timezone: %w", err)
	}
	return loc, nil
}

// Schedule parses the coordination schedule.
func (c Config) Schedule() (*coordination.DailySchedule, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	s, err := coordination.ParseDailySchedule(c.Coordination.Schedule, loc)
	if err != nil {
		return nil, fmt.Errorf("coordination.schedule: %w", err)
	}
	return s, nil
}

// YAML renders the configuration with secrets redacted.
func (c Config) YAML() ([]byte, error) {
	if c.MQTT.Password != "" {
		c.MQTT.Password = "********"
	}
	return yaml.Marshal(c)
}
