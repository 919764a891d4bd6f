package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("pharmacy-service")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, EnvDevelopment, cfg.Server.Environment)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	assert.Equal(t, 24*time.Hour, cfg.Alerts.DigestInterval)
	assert.True(t, cfg.Alerts.DigestEnabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FARMATRACK_SERVER_PORT", "9090")
	t.Setenv("FARMATRACK_DATABASE_HOST", "db.internal")
	t.Setenv("FARMATRACK_ALERTS_DIGEST_ENABLED", "false")

	cfg, err := Load("pharmacy-service")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.False(t, cfg.Alerts.DigestEnabled)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "farmatrack",
		Password: "secret",
		Database: "farmatrack",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5432 user=farmatrack password=secret dbname=farmatrack sslmode=require",
		c.DSN(),
	)
}

func TestLoadWithValidation_RejectsLocalhostInProduction(t *testing.T) {
	t.Setenv("FARMATRACK_SERVER_ENVIRONMENT", EnvProduction)

	_, err := LoadWithValidation("pharmacy-service")
	require.Error(t, err)
}

func TestDatabaseConfigValidate(t *testing.T) {
	c := DatabaseConfig{Host: "localhost"}
	assert.Error(t, c.Validate(EnvProduction))
	assert.Error(t, c.Validate(EnvStaging))
	assert.NoError(t, c.Validate(EnvDevelopment))

	c.Host = "db.internal"
	assert.NoError(t, c.Validate(EnvProduction))
}
