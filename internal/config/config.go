// README: Config loader with env defaults for HTTP, storage, Firebase, Maps, notifications and booking settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// BookingConfig holds the ride lifecycle thresholds, all in minutes.
type BookingConfig struct {
	// ExpiryMarginMinutes is how long after its anchor time a ride stays active.
	ExpiryMarginMinutes int
	// AutoDecline*Minutes: pending requests are declined once departure is this close.
	AutoDeclineToWorkMinutes int
	AutoDeclineToHomeMinutes int
}

type SearchConfig struct {
	WindowMinutes int
	Concurrency   int
}

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
	}
	Maps struct {
		APIKey   string
		Language string
		Region   string
	}
	Notify struct {
		Sink         string
		KafkaBrokers []string
		KafkaTopic   string
	}
	Store         string
	Timezone      string
	LogLevel      string
	SweepInterval time.Duration
	Search        SearchConfig
	Booking       BookingConfig
}

func DefaultBookingConfig() BookingConfig {
	return BookingConfig{
		ExpiryMarginMinutes:      10,
		AutoDeclineToWorkMinutes: 60,
		AutoDeclineToHomeMinutes: 10,
	}
}

func Load() (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("CARPOOL_HTTP_ADDR", ":8080")
	cfg.DB.DSN = os.Getenv("CARPOOL_DB_DSN")
	cfg.Redis.Addr = os.Getenv("CARPOOL_REDIS_ADDR")
	cfg.Firebase.ProjectID = os.Getenv("CARPOOL_FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("CARPOOL_FIREBASE_CREDENTIALS_FILE")
	cfg.Maps.APIKey = os.Getenv("CARPOOL_MAPS_API_KEY")
	cfg.Maps.Language = envOrDefault("CARPOOL_MAPS_LANGUAGE", "zh-TW")
	cfg.Maps.Region = envOrDefault("CARPOOL_MAPS_REGION", "TW")
	cfg.Notify.Sink = envOrDefault("CARPOOL_NOTIFY_SINK", "log")
	cfg.Notify.KafkaBrokers = envList("CARPOOL_KAFKA_BROKERS")
	cfg.Notify.KafkaTopic = envOrDefault("CARPOOL_KAFKA_TOPIC", "carpool-notifications")
	cfg.Store = envOrDefault("CARPOOL_STORE", "firestore")
	cfg.Timezone = envOrDefault("CARPOOL_TIMEZONE", "Asia/Taipei")
	cfg.LogLevel = envOrDefault("CARPOOL_LOG_LEVEL", "info")
	cfg.SweepInterval = envOrDefaultDuration("CARPOOL_SWEEP_INTERVAL", time.Minute)
	cfg.Search.WindowMinutes = envOrDefaultInt("CARPOOL_SEARCH_WINDOW_MINUTES", 60)
	cfg.Search.Concurrency = envOrDefaultInt("CARPOOL_SEARCH_CONCURRENCY", 4)

	cfg.Booking = DefaultBookingConfig()
	cfg.Booking.ExpiryMarginMinutes = envOrDefaultInt("CARPOOL_EXPIRY_MARGIN_MINUTES", cfg.Booking.ExpiryMarginMinutes)
	cfg.Booking.AutoDeclineToWorkMinutes = envOrDefaultInt("CARPOOL_AUTO_DECLINE_TO_WORK_MINUTES", cfg.Booking.AutoDeclineToWorkMinutes)
	cfg.Booking.AutoDeclineToHomeMinutes = envOrDefaultInt("CARPOOL_AUTO_DECLINE_TO_HOME_MINUTES", cfg.Booking.AutoDeclineToHomeMinutes)

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.Maps.APIKey == "" {
		errs = append(errs, errors.New("CARPOOL_MAPS_API_KEY is required"))
	}
	switch c.Store {
	case "memory":
	case "firestore":
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("CARPOOL_FIREBASE_PROJECT_ID is required for the firestore store"))
		}
	default:
		errs = append(errs, errors.New("CARPOOL_STORE must be firestore or memory"))
	}
	switch c.Notify.Sink {
	case "log":
	case "fcm":
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("CARPOOL_FIREBASE_PROJECT_ID is required for fcm notifications"))
		}
	case "kafka":
		if len(c.Notify.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("CARPOOL_KAFKA_BROKERS is required for kafka notifications"))
		}
	default:
		errs = append(errs, errors.New("CARPOOL_NOTIFY_SINK must be fcm, kafka or log"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, err)
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("CARPOOL_SWEEP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
