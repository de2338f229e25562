package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rongwang/bytebank/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 3000, cfg.Server.HomePort)
	assert.Equal(t, 3001, cfg.Server.DashboardPort)
	assert.Equal(t, DriverBolt, cfg.Store.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Auth.SessionDuration)
	assert.False(t, cfg.Auth.IsProduction())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HOME_PORT", "9000")
	t.Setenv("HOME_URL", "https://bytebank.example/")
	t.Setenv("SESSION_MINUTES", "5")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("SEED_ON_SIGNUP", "false")
	t.Setenv("SEED_VALUE", "99")
	t.Setenv("DB_PORT", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, 9000, cfg.Server.HomePort)
	assert.Equal(t, "https://bytebank.example", cfg.Server.HomeURL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.SessionDuration)
	assert.True(t, cfg.Auth.IsProduction())
	assert.False(t, cfg.Seed.OnSignUp)
	assert.Equal(t, uint64(99), cfg.Seed.Value)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestValidate(t *testing.T) {
	cfg := LoadConfig()
	cfg.Store.Driver = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = LoadConfig()
	cfg.Server.DashboardPort = cfg.Server.HomePort
	assert.Error(t, cfg.Validate())

	cfg = LoadConfig()
	cfg.Auth.SessionDuration = 0
	assert.Error(t, cfg.Validate())

	t.Setenv("APP_ENV", "production")
	cfg = LoadConfig()
	assert.ErrorContains(t, cfg.Validate(), "COOKIE_DOMAIN")
	cfg.Auth.CookieDomain = "bytebank.example"
	assert.NoError(t, cfg.Validate())
}

func TestSetupStoreBolt(t *testing.T) {
	dir := t.TempDir()
	cfg := LoadConfig()
	cfg.Store.Path = filepath.Join(dir, "bank.db")
	cfg.Store.LocalStoragePath = filepath.Join(dir, "local.db")

	db, err := SetupStore(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, store.SchemaVersion, db.Version())

	local, err := SetupLocalStorage(cfg)
	require.NoError(t, err)
	assert.NoError(t, local.Close())
}
