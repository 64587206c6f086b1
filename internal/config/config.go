package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Drivers accepted in CACHE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

type Config struct {
	App struct {
		Name string
		Env  string
	}

	API struct {
		Host string
		Port string
	}

	Cache struct {
		Driver      string
		Collection  string
		Database    string
		ExpiresIn   time.Duration
		CreateIndex bool
		Namespace   string
	}

	SQLite struct {
		Path string
	}

	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	Mongo struct {
		URI string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Sweep struct {
		Interval time.Duration
		Timeout  time.Duration
	}

	JWT struct {
		Secret   string
		Issuer   string
		Audience string
		TTL      time.Duration
	}

	Auth struct {
		Username     string
		Password     string
		PasswordHash string
	}
}

func New() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	// App
	cfg.App.Name = getEnv("APP_NAME", "docstore-cache")
	cfg.App.Env = getEnv("APP_ENV", "development")

	// API
	cfg.API.Host = getEnv("API_HOST", "0.0.0.0")
	cfg.API.Port = getEnv("API_PORT", "8008")

	// Cache store
	cfg.Cache.Driver = strings.ToLower(getEnv("CACHE_DRIVER", DriverSQLite))
	cfg.Cache.Collection = getEnv("CACHE_COLLECTION", "rails_cache")
	cfg.Cache.Database = getEnv("CACHE_DATABASE", "rails_cache")
	cfg.Cache.ExpiresIn = getDuration("CACHE_EXPIRES_IN", 24*time.Hour)
	cfg.Cache.CreateIndex = getBool("CACHE_CREATE_INDEX", true)
	cfg.Cache.Namespace = getEnv("CACHE_NAMESPACE", "")

	// SQLite
	cfg.SQLite.Path = getEnv("SQLITE_PATH", "cache.db")

	// Postgres
	cfg.DB.Host = getEnv("DB_HOST", "db")
	cfg.DB.Port = getInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASSWORD", "")
	cfg.DB.Name = getEnv("DB_NAME", cfg.Cache.Database)
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")

	// Mongo
	cfg.Mongo.URI = getEnv("MONGO_URI", "mongodb://localhost:27017")

	// Redis
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getInt("REDIS_DB", 0)

	// Expired entry sweeper; a zero interval disables it.
	cfg.Sweep.Interval = getDuration("SWEEP_INTERVAL", 0)
	cfg.Sweep.Timeout = getDuration("SWEEP_TIMEOUT", 30*time.Second)

	// JWT
	cfg.JWT.Secret = getEnv("JWT_SECRET", "development-insecure-secret-change-me")
	cfg.JWT.Issuer = getEnv("JWT_ISSUER", "docstore-cache")
	cfg.JWT.Audience = getEnv("JWT_AUDIENCE", "docstore-cache-clients")
	cfg.JWT.TTL = getDuration("JWT_TTL", 24*time.Hour)

	// Login credentials
	cfg.Auth.Username = getEnv("AUTH_USERNAME", "admin")
	cfg.Auth.Password = getEnv("AUTH_PASSWORD", "")
	cfg.Auth.PasswordHash = getEnv("AUTH_PASSWORD_HASH", "")

	return cfg
}

// IsProduction reports whether the app runs with production settings.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Validate reports settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverMongo, DriverRedis:
	default:
		return fmt.Errorf("config: unknown CACHE_DRIVER %q", c.Cache.Driver)
	}
	if c.Cache.ExpiresIn <= 0 {
		return fmt.Errorf("config: CACHE_EXPIRES_IN must be positive, got %s", c.Cache.ExpiresIn)
	}
	if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
		return fmt.Errorf("config: AUTH_PASSWORD or AUTH_PASSWORD_HASH is required")
	}
	return nil
}

func getEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return isTruthy(v)
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getDuration accepts Go durations ("90s") and bare seconds ("86400").
func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}
