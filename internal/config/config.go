// Package config loads environment-sourced service configuration and the
// optional yaml tuning file for dispatch behavior.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the environment-sourced service configuration.
type Config struct {
	Port            int
	Env             string
	DatabaseURL     string
	RedisURL        string
	AuthHMACSecret  string
	AuthPrevSecret  string
	AllowedOrigins  []string
	DefaultPageSize int
	MaxPageSize     int

	// GCP integration (optional; empty disables the bridge/dispatcher)
	PubSubProject string
	PubSubTopic   string
	TasksProject  string
	TasksLocation string
	TasksQueue    string
	PushEndpoint  string

	// HolidayDates is the statutory holiday list as "2006-01-02" strings,
	// comma separated in HOLIDAY_DATES.
	HolidayDates []string
}

// FromEnv reads the service configuration from the environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:            envInt("PORT", 8080),
		Env:             envStr("APP_ENV", "development"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        envStr("REDIS_URL", "redis://localhost:6379/0"),
		AuthHMACSecret:  os.Getenv("AUTH_HMAC_SECRET"),
		AuthPrevSecret:  os.Getenv("AUTH_HMAC_SECRET_PREVIOUS"),
		DefaultPageSize: envInt("DEFAULT_PAGE_SIZE", 20),
		MaxPageSize:     envInt("MAX_PAGE_SIZE", 100),
		PubSubProject:   os.Getenv("PUBSUB_PROJECT"),
		PubSubTopic:     envStr("PUBSUB_TOPIC", "dispatch-events"),
		TasksProject:    os.Getenv("TASKS_PROJECT"),
		TasksLocation:   envStr("TASKS_LOCATION", "us-central1"),
		TasksQueue:      envStr("TASKS_QUEUE", "push-notifications"),
		PushEndpoint:    os.Getenv("PUSH_ENDPOINT"),
	}

	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, strings.TrimSpace(o))
		}
	}
	if raw := os.Getenv("HOLIDAY_DATES"); raw != "" {
		for _, d := range strings.Split(raw, ",") {
			cfg.HolidayDates = append(cfg.HolidayDates, strings.TrimSpace(d))
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.Env == "production" && cfg.AuthHMACSecret == "" {
		return nil, fmt.Errorf("AUTH_HMAC_SECRET must be set in production")
	}

	return cfg, nil
}

// Tuning holds the dispatch knobs operators adjust without a deploy.
type Tuning struct {
	Pricing struct {
		MultiplierCeiling float64 `yaml:"multiplier_ceiling"`
		WeatherTimeoutMs  int     `yaml:"weather_timeout_ms"`
	} `yaml:"pricing"`
	Dispatch struct {
		MaxOfferResults    int `yaml:"max_offer_results"`
		DefaultOfferTTLMin int `yaml:"default_offer_ttl_min"`
		SweepIntervalSec   int `yaml:"sweep_interval_sec"`
	} `yaml:"dispatch"`
	Sla struct {
		WarnResponseMin   int `yaml:"warn_response_min"`
		WarnArrivalMin    int `yaml:"warn_arrival_min"`
		WarnCompletionMin int `yaml:"warn_completion_min"`
		ScanIntervalSec   int `yaml:"scan_interval_sec"`
	} `yaml:"sla"`
	Realtime struct {
		LocationThrottleSec int     `yaml:"location_throttle_sec"`
		DetailTTLMin        int     `yaml:"detail_ttl_min"`
		TrackMaxEntries     int64   `yaml:"track_max_entries"`
		AvgSpeedKmh         float64 `yaml:"avg_speed_kmh"`
	} `yaml:"realtime"`
}

// DefaultTuning returns the built-in dispatch tuning.
func DefaultTuning() *Tuning {
	t := &Tuning{}
	t.Pricing.MultiplierCeiling = 5.0
	t.Pricing.WeatherTimeoutMs = 2000
	t.Dispatch.MaxOfferResults = 10
	t.Dispatch.DefaultOfferTTLMin = 30
	t.Dispatch.SweepIntervalSec = 60
	t.Sla.WarnResponseMin = 5
	t.Sla.WarnArrivalMin = 5
	t.Sla.WarnCompletionMin = 5
	t.Sla.ScanIntervalSec = 60
	t.Realtime.LocationThrottleSec = 3
	t.Realtime.DetailTTLMin = 10
	t.Realtime.TrackMaxEntries = 500
	t.Realtime.AvgSpeedKmh = 30
	return t
}

// LoadTuning reads the yaml tuning file, falling back to defaults for any
// unset field. A missing file is not an error.
func LoadTuning(path string) (*Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(t); err != nil {
		return nil, fmt.Errorf("decode tuning file: %w", err)
	}
	return t, nil
}

// WeatherTimeout returns the weather-oracle call budget.
func (t *Tuning) WeatherTimeout() time.Duration {
	return time.Duration(t.Pricing.WeatherTimeoutMs) * time.Millisecond
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
