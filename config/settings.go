package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	NotificationTransportNone   = "none"
	NotificationTransportPubSub = "pubsub"
	NotificationTransportKafka  = "kafka"
)

// Settings holds the tunables of the stock ledger. Every field has an env override.
type Settings struct {
	DefaultReservationTTL time.Duration // RESERVATION_TTL_MINUTES
	SweepInterval         time.Duration // SWEEP_INTERVAL_SECONDS
	AvailabilityCacheTTL  time.Duration // AVAILABILITY_CACHE_TTL_SECONDS
	MaxConflictRetries    int           // MAX_CONFLICT_RETRIES
	ProductLockTTL        time.Duration // PRODUCT_LOCK_TTL_SECONDS

	NotificationTransport string   // NOTIFY_TRANSPORT
	NotificationTopic     string   // NOTIFY_TOPIC
	KafkaBrokers          []string // KAFKA_BROKERS (comma separated)

	HealthPort     string // PORT
	SkipMigrations bool   // SKIP_MIGRATIONS
}

func DefaultSettings() Settings {
	return Settings{
		DefaultReservationTTL: 15 * time.Minute,
		SweepInterval:         time.Minute,
		AvailabilityCacheTTL:  5 * time.Second,
		MaxConflictRetries:    3,
		ProductLockTTL:        10 * time.Second,
		NotificationTransport: NotificationTransportNone,
		NotificationTopic:     "stock-alerts",
		HealthPort:            "8080",
	}
}

// LoadSettings reads Settings from the environment on top of DefaultSettings.
func LoadSettings() (Settings, error) {
	s := DefaultSettings()

	ttl, err := minutesFromEnv("RESERVATION_TTL_MINUTES", s.DefaultReservationTTL)
	if err != nil {
		return s, err
	}
	s.DefaultReservationTTL = ttl

	if s.SweepInterval, err = secondsFromEnv("SWEEP_INTERVAL_SECONDS", s.SweepInterval); err != nil {
		return s, err
	}
	if s.AvailabilityCacheTTL, err = secondsFromEnv("AVAILABILITY_CACHE_TTL_SECONDS", s.AvailabilityCacheTTL); err != nil {
		return s, err
	}
	if s.ProductLockTTL, err = secondsFromEnv("PRODUCT_LOCK_TTL_SECONDS", s.ProductLockTTL); err != nil {
		return s, err
	}
	s.MaxConflictRetries = intFromEnv("MAX_CONFLICT_RETRIES", s.MaxConflictRetries)
	if s.MaxConflictRetries < 1 {
		return s, fmt.Errorf("invalid MAX_CONFLICT_RETRIES: must be >= 1")
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("NOTIFY_TRANSPORT"))); v != "" {
		switch v {
		case NotificationTransportNone, NotificationTransportPubSub, NotificationTransportKafka:
			s.NotificationTransport = v
		default:
			return s, fmt.Errorf("invalid NOTIFY_TRANSPORT: %q, must be one of: none, pubsub, kafka", v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("NOTIFY_TOPIC")); v != "" {
		s.NotificationTopic = v
	}
	for _, part := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if p := strings.TrimSpace(part); p != "" {
			s.KafkaBrokers = append(s.KafkaBrokers, p)
		}
	}
	if s.NotificationTransport == NotificationTransportKafka && len(s.KafkaBrokers) == 0 {
		return s, fmt.Errorf("KAFKA_BROKERS is required when NOTIFY_TRANSPORT=kafka")
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		s.HealthPort = v
	}
	s.SkipMigrations = boolFromEnv("SKIP_MIGRATIONS")
	return s, nil
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func secondsFromEnv(key string, def time.Duration) (time.Duration, error) {
	return unitFromEnv(key, def, time.Second)
}

func minutesFromEnv(key string, def time.Duration) (time.Duration, error) {
	return unitFromEnv(key, def, time.Minute)
}

func unitFromEnv(key string, def time.Duration, unit time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def, fmt.Errorf("invalid %s: %q, must be a positive integer", key, v)
	}
	return time.Duration(n) * unit, nil
}
