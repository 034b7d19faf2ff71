package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("SECRET_JWT", "s3cret")

	cfg, err := LoadAPI(nil)
	require.NoError(t, err)
	require.Equal(t, ":3333", cfg.HTTPAddress)
	require.Equal(t, DriverSQLite, cfg.StoreDriver)
	require.Equal(t, "s3cret", cfg.JWTSecret)
	require.Equal(t, 168*time.Hour, cfg.SessionTTL)
	require.Equal(t, 5*time.Second, cfg.IdentityTimeout)
	require.Equal(t, time.UTC, cfg.Location())
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadAPIEnvironmentAndFlags(t *testing.T) {
	t.Setenv("SECRET_JWT", "s3cret")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadAPI([]string{"--http-address=:9000", "--log-level=debug"})
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddress)
	require.Equal(t, DriverPostgres, cfg.StoreDriver)
	require.Equal(t, "Europe/Berlin", cfg.Location().String())
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadAPIRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret": {},
		"blank secret":   {"SECRET_JWT": "   "},
		"bad timezone":   {"SECRET_JWT": "s", "TIMEZONE": "Mars/Olympus"},
		"bad driver":     {"SECRET_JWT": "s", "STORE_DRIVER": "mysql"},
		"zero timeout":   {"SECRET_JWT": "s", "IDENTITY_TIMEOUT": "0s"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("SECRET_JWT", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadAPI(nil)
			require.Error(t, err)
		})
	}
}

func TestLoadRelay(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092")
	t.Setenv("OUTBOX_BATCH_SIZE", "10")

	cfg, err := LoadRelay(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 10, cfg.OutboxBatchSize)
	require.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
}

func TestLoadRelayRejectsNonPositiveBatch(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "0")

	_, err := LoadRelay(nil)
	require.Error(t, err)
}
