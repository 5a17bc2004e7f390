package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 5, cfg.Refresh.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Refresh.BatchDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.Refresh.PriceTTL)
	assert.Equal(t, "sqlite", cfg.MetadataDB.Type)
	assert.Contains(t, cfg.Catalog.UserAgent, "Mozilla/5.0")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REFRESH_BATCH_SIZE", "12")
	t.Setenv("CACHE_TYPE", "redis")
	t.Setenv("API_KEYS", "one,two")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Refresh.BatchSize)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, []string{"one", "two"}, cfg.App.APIKeys)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("METADATA_DB_TYPE", "cassandra")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsNegativeListingColumns(t *testing.T) {
	for _, key := range []string{"MARKET_LISTING_ID_COLUMN", "MARKET_LISTING_LABEL_COLUMN"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "-1")
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestDSNs(t *testing.T) {
	m := MetadataDBConfig{User: "u", Password: "p", Host: "h", Port: 1, Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:1/n?sslmode=disable", m.PostgresDSN())
	assert.Equal(t, "u:p@tcp(h:1)/n?parseTime=true", m.MySQLDSN())
}
