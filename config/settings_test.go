package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	for _, key := range []string{
		"RESERVATION_TTL_MINUTES", "SWEEP_INTERVAL_SECONDS", "AVAILABILITY_CACHE_TTL_SECONDS",
		"MAX_CONFLICT_RETRIES", "PRODUCT_LOCK_TTL_SECONDS", "NOTIFY_TRANSPORT", "NOTIFY_TOPIC",
		"KAFKA_BROKERS", "PORT", "SKIP_MIGRATIONS",
	} {
		t.Setenv(key, "")
	}
	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettings_Overrides(t *testing.T) {
	t.Setenv("RESERVATION_TTL_MINUTES", "30")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "15")
	t.Setenv("MAX_CONFLICT_RETRIES", "5")
	t.Setenv("NOTIFY_TRANSPORT", "Kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SKIP_MIGRATIONS", "yes")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, s.DefaultReservationTTL)
	assert.Equal(t, 15*time.Second, s.SweepInterval)
	assert.Equal(t, 5, s.MaxConflictRetries)
	assert.Equal(t, NotificationTransportKafka, s.NotificationTransport)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, s.KafkaBrokers)
	assert.True(t, s.SkipMigrations)
}

func TestLoadSettings_RejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"ttl":       {"RESERVATION_TTL_MINUTES": "0"},
		"retries":   {"MAX_CONFLICT_RETRIES": "0"},
		"transport": {"NOTIFY_TRANSPORT": "smtp"},
		"brokers":   {"NOTIFY_TRANSPORT": "kafka", "KAFKA_BROKERS": ""},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadSettings()
			assert.Error(t, err)
		})
	}
}
