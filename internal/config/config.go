package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rider-safety/internal/contacts"
)

type Config struct {
	Platform    PlatformConfig    `yaml:"platform"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Transport   TransportConfig   `yaml:"transport"`
	Rider       RiderConfig       `yaml:"rider"`
	Contacts    ContactsConfig    `yaml:"contacts"`
	Alert       AlertConfig       `yaml:"alert"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
	Button      ButtonConfig      `yaml:"button"`
}

type PlatformConfig struct {
	OS      string `yaml:"os"`
	Version int    `yaml:"version"`
}

type PermissionsConfig struct {
	// Requester is "transport" (ask the radio stack) or "static".
	Requester string   `yaml:"requester"`
	Granted   []string `yaml:"granted"`
}

type TransportConfig struct {
	// Kind is "bluez", "tty" or "sim".
	Kind    string        `yaml:"kind"`
	TTYGlob string        `yaml:"tty_glob"`
	Baud    int           `yaml:"baud"`
	Timeout time.Duration `yaml:"connect_timeout"`
	Sim     SimConfig     `yaml:"sim"`
}

// SimConfig drives the simulated sensor unit used with transport.kind=sim.
type SimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	RadiusNm     float64       `yaml:"radius_nm"`
	Period       time.Duration `yaml:"period"`
	Interval     time.Duration `yaml:"interval"`
	NoiseEvery   int           `yaml:"noise_every"`
}

type RiderConfig struct {
	Name   string `yaml:"name"`
	UserID string `yaml:"user_id"`
}

type ContactsConfig struct {
	// Source is "static", "redis" or "postgres".
	Source   string             `yaml:"source"`
	Static   []contacts.Contact `yaml:"static"`
	Redis    RedisConfig        `yaml:"redis"`
	Postgres PostgresConfig     `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type AlertConfig struct {
	EmergencyURL string        `yaml:"emergency_url"`
	SupportURL   string        `yaml:"support_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

type TriggerConfig struct {
	AutoArmOnConnect bool `yaml:"auto_arm_on_connect"`
}

type HTTPConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ButtonConfig struct {
	Enable   bool          `yaml:"enable"`
	Chip     string        `yaml:"chip"`
	Line     int           `yaml:"line"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads the YAML file at path, applies RIDERSAFE_* environment
// overrides, then fills defaults and validates. An empty path starts from
// an empty file.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	ApplyEnv(&cfg)
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) finish() error {
	cfg.Platform.OS = strings.ToLower(strings.TrimSpace(cfg.Platform.OS))
	if cfg.Platform.OS == "" {
		cfg.Platform.OS = "linux"
	}
	if cfg.Platform.OS == "android" && cfg.Platform.Version <= 0 {
		return fmt.Errorf("platform.version is required when platform.os is 'android'")
	}

	switch cfg.Permissions.Requester {
	case "":
		cfg.Permissions.Requester = "transport"
	case "transport", "static":
	default:
		return fmt.Errorf("permissions.requester must be 'transport' or 'static'")
	}

	switch cfg.Transport.Kind {
	case "":
		cfg.Transport.Kind = "bluez"
	case "bluez", "tty", "sim":
	default:
		return fmt.Errorf("transport.kind must be 'bluez', 'tty' or 'sim'")
	}
	if cfg.Transport.TTYGlob == "" {
		cfg.Transport.TTYGlob = "/dev/rfcomm*"
	}
	if cfg.Transport.Baud <= 0 {
		cfg.Transport.Baud = 9600
	}
	if cfg.Transport.Timeout <= 0 {
		cfg.Transport.Timeout = 30 * time.Second
	}

	// Simulator defaults (safe even if unused).
	if cfg.Transport.Sim.CenterLatDeg == 0 && cfg.Transport.Sim.CenterLonDeg == 0 {
		cfg.Transport.Sim.CenterLatDeg = 9.727108
		cfg.Transport.Sim.CenterLonDeg = 76.726607
	}
	if cfg.Transport.Sim.RadiusNm <= 0 {
		cfg.Transport.Sim.RadiusNm = 0.2
	}
	if cfg.Transport.Sim.Period <= 0 {
		cfg.Transport.Sim.Period = 120 * time.Second
	}
	if cfg.Transport.Sim.Interval <= 0 {
		cfg.Transport.Sim.Interval = 1 * time.Second
	}

	cfg.Rider.Name = strings.TrimSpace(cfg.Rider.Name)

	switch cfg.Contacts.Source {
	case "", "static":
		cfg.Contacts.Source = "static"
	case "redis":
		if cfg.Contacts.Redis.Addr == "" {
			return fmt.Errorf("contacts.redis.addr is required when contacts.source is 'redis'")
		}
		if cfg.Rider.UserID == "" {
			return fmt.Errorf("rider.user_id is required when contacts.source is 'redis'")
		}
	case "postgres":
		if cfg.Contacts.Postgres.DSN == "" {
			return fmt.Errorf("contacts.postgres.dsn is required when contacts.source is 'postgres'")
		}
		if cfg.Rider.UserID == "" {
			return fmt.Errorf("rider.user_id is required when contacts.source is 'postgres'")
		}
	default:
		return fmt.Errorf("contacts.source must be 'static', 'redis' or 'postgres'")
	}

	if cfg.Alert.EmergencyURL == "" {
		return fmt.Errorf("alert.emergency_url is required")
	}
	if !isHTTPURL(cfg.Alert.EmergencyURL) {
		return fmt.Errorf("alert.emergency_url must be an http(s) URL")
	}
	if cfg.Alert.SupportURL == "" {
		cfg.Alert.SupportURL = cfg.Alert.EmergencyURL
	}
	if !isHTTPURL(cfg.Alert.SupportURL) {
		return fmt.Errorf("alert.support_url must be an http(s) URL")
	}
	if cfg.Alert.Timeout <= 0 {
		cfg.Alert.Timeout = 15 * time.Second
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Button.Chip == "" {
		cfg.Button.Chip = "gpiochip0"
	}
	if cfg.Button.Debounce <= 0 {
		cfg.Button.Debounce = 50 * time.Millisecond
	}
	if cfg.Button.Enable && cfg.Button.Line < 0 {
		return fmt.Errorf("button.line must be >= 0")
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ApplyEnv overrides file values with RIDERSAFE_* variables that are set.
func ApplyEnv(cfg *Config) {
	cfg.Alert.EmergencyURL = getEnv("RIDERSAFE_EMERGENCY_URL", cfg.Alert.EmergencyURL)
	cfg.Alert.SupportURL = getEnv("RIDERSAFE_SUPPORT_URL", cfg.Alert.SupportURL)
	cfg.Rider.Name = getEnv("RIDERSAFE_RIDER_NAME", cfg.Rider.Name)
	cfg.Rider.UserID = getEnv("RIDERSAFE_USER_ID", cfg.Rider.UserID)
	cfg.Transport.Kind = getEnv("RIDERSAFE_TRANSPORT", cfg.Transport.Kind)
	cfg.Contacts.Source = getEnv("RIDERSAFE_CONTACTS_SOURCE", cfg.Contacts.Source)
	cfg.Contacts.Redis.Addr = getEnv("RIDERSAFE_REDIS_ADDR", cfg.Contacts.Redis.Addr)
	cfg.Contacts.Redis.Password = getEnv("RIDERSAFE_REDIS_PASSWORD", cfg.Contacts.Redis.Password)
	cfg.Contacts.Redis.DB = getEnvInt("RIDERSAFE_REDIS_DB", cfg.Contacts.Redis.DB)
	cfg.Contacts.Postgres.DSN = getEnv("RIDERSAFE_DATABASE_URL", cfg.Contacts.Postgres.DSN)
	cfg.HTTP.Listen = getEnv("RIDERSAFE_HTTP_LISTEN", cfg.HTTP.Listen)
	cfg.Logging.Level = getEnv("RIDERSAFE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("RIDERSAFE_LOG_FORMAT", cfg.Logging.Format)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
