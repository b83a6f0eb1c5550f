package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, "obtura_db", cfg.Postgres.Database)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, "obtura_dev", cfg.Docker.NetworkName)
	assert.Equal(t, 9100, cfg.PortRangeLow)
	assert.Equal(t, 9900, cfg.PortRangeHigh)
	assert.Equal(t, 5.0, cfg.Canary.MaxErrorRatePercent)
}

func TestLoadLegacyEnvOverride(t *testing.T) {
	t.Setenv("POSTGRESQL_HOST", "db.internal")
	t.Setenv("REDIS_URL", "redis://cache.internal:6379/1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "redis://cache.internal:6379/1", cfg.Redis.URL)
}

func TestPostgresConnString(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: "5432", Database: "d", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", p.ConnString())
}
