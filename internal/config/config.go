package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Seed     SeedConfig
	Log      LogConfig
}

// ServerConfig holds the ports of the two applications
type ServerConfig struct {
	HomePort      int
	DashboardPort int
	HomeURL       string // where the dashboard sends visitors without a session
}

// StoreConfig selects the record store
type StoreConfig struct {
	Driver           string
	Path             string // bolt file, when Driver is bolt
	LocalStoragePath string // bolt file holding per-origin local storage
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	DBName     string
	SSLMode    string
	TestDBName string // Separate database for testing
}

// AuthConfig holds the session configuration
type AuthConfig struct {
	JWTSecret       string
	SessionDuration time.Duration
	Environment     string // development or production
	CookieDomain    string
}

// SeedConfig controls sample data for new accounts
type SeedConfig struct {
	OnSignUp bool
	Value    uint64
}

// LogConfig holds the logger configuration
type LogConfig struct {
	Level  string
	Format string
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// IsProduction reports whether production cookie attributes apply
func (c *AuthConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HomePort:      getEnvAsInt("HOME_PORT", 3000),
			DashboardPort: getEnvAsInt("DASHBOARD_PORT", 3001),
			HomeURL:       strings.TrimRight(getEnv("HOME_URL", "http://localhost:3000"), "/"),
		},
		Store: StoreConfig{
			Driver:           getEnv("STORE_DRIVER", DriverBolt),
			Path:             getEnv("STORE_PATH", "bytebank.db"),
			LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "localstorage.db"),
		},
		Database: DatabaseConfig{
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			Username:   getEnv("DB_USERNAME", "postgres"),
			Password:   getEnv("DB_PASSWORD", "password"),
			DBName:     getEnv("DB_NAME", "bytebank"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			TestDBName: getEnv("TEST_DB_NAME", "bytebank_test"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-here"),
			SessionDuration: time.Duration(getEnvAsInt("SESSION_MINUTES", 30)) * time.Minute,
			Environment:     getEnv("APP_ENV", "development"),
			CookieDomain:    getEnv("COOKIE_DOMAIN", ""),
		},
		Seed: SeedConfig{
			OnSignUp: getEnvAsBool("SEED_ON_SIGNUP", true),
			Value:    uint64(getEnvAsInt("SEED_VALUE", 1)),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverBolt, DriverPostgres:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.Auth.SessionDuration <= 0 {
		return fmt.Errorf("SESSION_MINUTES must be positive")
	}
	if c.Server.HomePort == c.Server.DashboardPort {
		return fmt.Errorf("HOME_PORT and DASHBOARD_PORT must differ")
	}
	// a host-only cookie would not reach the other application
	if c.Auth.IsProduction() && c.Auth.CookieDomain == "" {
		return fmt.Errorf("COOKIE_DOMAIN is required when APP_ENV is production")
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
