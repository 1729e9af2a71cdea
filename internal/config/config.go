package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/mesh-weather-relay/internal/domain"
)

// DefaultLocation is the compiled-in weather location (Dunlap, TN by ZIP code).
const DefaultLocation = "37397"

// Meshtastic firmware limits.
const (
	maxChannel  = 7
	maxHopLimit = 7
)

// Config holds all relay settings. Values are layered: compiled-in defaults,
// then an optional YAML file, then environment variables, then CLI flags
// (applied by the caller).
type Config struct {
	DefaultLocation string        `yaml:"location"`
	WeatherBaseURL  string        `yaml:"weather_base_url"`
	WeatherFormat   string        `yaml:"weather_format"`
	WeatherTimeout  time.Duration `yaml:"weather_timeout"`

	// SerialPort is empty for USB auto-detection.
	SerialPort    string        `yaml:"port"`
	Channel       uint32        `yaml:"channel"`
	HopLimit      uint32        `yaml:"hop_limit"`
	DeviceTimeout time.Duration `yaml:"device_timeout"`

	Mode             domain.Mode   `yaml:"mode"`
	MaxMessageLength int           `yaml:"max_message_length"`
	MessageDelay     time.Duration `yaml:"message_delay"`
	DryRun           bool          `yaml:"dry_run"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics export; both empty disables it.
	PushgatewayURL  string `yaml:"pushgateway_url"`
	MetricsTextfile string `yaml:"metrics_textfile"`

	// Relay event publishing; no brokers disables it.
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// Defaults returns the compiled-in configuration.
func Defaults() *Config {
	return &Config{
		DefaultLocation:  DefaultLocation,
		WeatherBaseURL:   "https://wttr.in",
		WeatherFormat:    "3",
		WeatherTimeout:   10 * time.Second,
		HopLimit:         3,
		DeviceTimeout:    10 * time.Second,
		Mode:             domain.ModeText,
		MaxMessageLength: 200,
		MessageDelay:     7 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
		KafkaTopic:       "mesh-weather-relays",
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), and environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.DefaultLocation = sharedcfg.EnvOrDefault("WEATHER_LOCATION", c.DefaultLocation)
	c.WeatherBaseURL = strings.TrimRight(sharedcfg.EnvOrDefault("WEATHER_BASE_URL", c.WeatherBaseURL), "/")
	c.WeatherFormat = sharedcfg.EnvOrDefault("WEATHER_FORMAT", c.WeatherFormat)
	c.SerialPort = sharedcfg.EnvOrDefault("MESH_PORT", c.SerialPort)
	c.Mode = domain.Mode(sharedcfg.EnvOrDefault("RELAY_MODE", string(c.Mode)))
	c.LogLevel = sharedcfg.EnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = sharedcfg.EnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.PushgatewayURL = sharedcfg.EnvOrDefault("METRICS_PUSHGATEWAY_URL", c.PushgatewayURL)
	c.MetricsTextfile = sharedcfg.EnvOrDefault("METRICS_TEXTFILE", c.MetricsTextfile)
	c.KafkaTopic = sharedcfg.EnvOrDefault("KAFKA_TOPIC", c.KafkaTopic)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}

	var err error
	if c.WeatherTimeout, err = envDuration("WEATHER_TIMEOUT", c.WeatherTimeout); err != nil {
		return err
	}
	if c.DeviceTimeout, err = envDuration("DEVICE_TIMEOUT", c.DeviceTimeout); err != nil {
		return err
	}
	if c.MessageDelay, err = envDuration("MESSAGE_DELAY", c.MessageDelay); err != nil {
		return err
	}
	if c.Channel, err = envUint32("MESH_CHANNEL", c.Channel); err != nil {
		return err
	}
	if c.HopLimit, err = envUint32("MESH_HOP_LIMIT", c.HopLimit); err != nil {
		return err
	}
	if v := os.Getenv("MAX_MESSAGE_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("invalid MAX_MESSAGE_LENGTH")
		}
		c.MaxMessageLength = n
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		c.DryRun = v == "true"
	}
	return nil
}

// Validate checks the merged configuration. Callers that override fields
// after Load (CLI flags) should call it again.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DefaultLocation) == "" {
		return errors.New("WEATHER_LOCATION must not be empty")
	}
	if c.WeatherBaseURL == "" {
		return errors.New("WEATHER_BASE_URL is required")
	}
	if c.WeatherTimeout <= 0 {
		return errors.New("WEATHER_TIMEOUT must be positive")
	}
	if c.DeviceTimeout <= 0 {
		return errors.New("DEVICE_TIMEOUT must be positive")
	}
	if c.MessageDelay < 0 {
		return errors.New("MESSAGE_DELAY must not be negative")
	}
	if c.Channel > maxChannel {
		return fmt.Errorf("MESH_CHANNEL must be between 0 and %d", maxChannel)
	}
	if c.HopLimit < 1 || c.HopLimit > maxHopLimit {
		return fmt.Errorf("MESH_HOP_LIMIT must be between 1 and %d", maxHopLimit)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("RELAY_MODE %q is not one of text, report, concise", c.Mode)
	}
	if c.MaxMessageLength <= 0 || c.MaxMessageLength > domain.MaxPayloadBytes {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be between 1 and %d", domain.MaxPayloadBytes)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func envUint32(key string, def uint32) (uint32, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint32(n), nil
}
