package config

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serverKeys = []string{
	"PORT", "AUCTION_TOKEN_SECRET", "AUCTION_TOKEN_TTL", "MESSAGING_BACKEND", "NATS_URL",
	"CATALOG_SOURCE", "CATALOG_FILE", "CATALOG_ITEM_TTL", "CATALOG_LIST_TTL", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadServerDefaults(t *testing.T) {
	clearEnv(t, serverKeys...)

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.TokenSecret)
	assert.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, BackendNATS, cfg.MessagingBackend)
	assert.Equal(t, CatalogFile, cfg.CatalogSource)
	assert.Equal(t, 30*time.Second, cfg.CatalogItemTTL)
	assert.Equal(t, time.Minute, cfg.CatalogListTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "localhost", cfg.DB.Host)
}

func TestLoadServer(t *testing.T) {
	clearEnv(t, serverKeys...)
	t.Setenv("PORT", "9090")
	t.Setenv("AUCTION_TOKEN_SECRET", "s3cret")
	t.Setenv("AUCTION_TOKEN_TTL", "24h")
	t.Setenv("MESSAGING_BACKEND", "memory")
	t.Setenv("CATALOG_SOURCE", "postgres")
	t.Setenv("DB_NAME", "lots")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "s3cret", cfg.TokenSecret)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, BackendMemory, cfg.MessagingBackend)
	assert.Equal(t, CatalogPostgres, cfg.CatalogSource)
	assert.Equal(t, "lots", cfg.DB.Database)
}

func TestLoadServerRejectsUnknownValues(t *testing.T) {
	tests := map[string]string{
		"MESSAGING_BACKEND": "kafka",
		"CATALOG_SOURCE":    "s3",
		"AUCTION_TOKEN_TTL": "-1h",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t, serverKeys...)
			t.Setenv(key, value)

			_, err := LoadServer()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadBidder(t *testing.T) {
	clearEnv(t, "AUCTION_SERVER_URL", "NATS_URL", "AUCTION_USER_ID", "AUCTION_USER_NAME")
	t.Setenv("AUCTION_USER_ID", "user-42")

	cfg, err := LoadBidder()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, "user-42", cfg.UserID)
}

func TestLoggingConfigure(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	require.NoError(t, Logging{Level: "debug", Format: "json"}.Configure())
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	assert.ErrorIs(t, Logging{Level: "loud"}.Configure(), ErrInvalidConfig)
}
