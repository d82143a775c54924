// Package storage holds the shared Postgres connection setup used by
// attrstore and auditsink: a single DatabaseConfig/NewDatabaseConnection
// pair instead of every consumer hand-rolling its own gorm.Open call and
// connection-pool tuning.
package storage

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseConfig holds the Postgres connection settings for one of the PDP's
// two optional stores (attrstore's attribute table or auditsink's decision
// log) — cmd/pdpserver builds one per store from its own DB_*-prefixed env
// vars and passes it to NewDatabaseConnection.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DatabaseName string
	SSLMode      string
	TimeZone     string
}

// DefaultDatabaseConfig reads connection settings from the unprefixed DB_*
// env vars, falling back to a local dev Postgres with a "saplgo" database.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:         getEnv("DB_HOST", "localhost"),
		Port:         getEnvAsInt("DB_PORT", 5432),
		User:         getEnv("DB_USER", "postgres"),
		Password:     getEnv("DB_PASSWORD", "postgres"),
		DatabaseName: getEnv("DB_NAME", "saplgo"),
		SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		TimeZone:     getEnv("DB_TIMEZONE", "UTC"),
	}
}

// DSN renders c as a libpq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DatabaseName, c.Port, c.SSLMode, c.TimeZone)
}

// NewDatabaseConnection opens a pooled GORM connection to config (or
// DefaultDatabaseConfig if config is nil), logging every statement unless
// DB_LOG_LEVEL=silent — attrstore and auditsink both migrate their own
// tables against the *gorm.DB this returns.
func NewDatabaseConnection(config *DatabaseConfig) (*gorm.DB, error) {
	if config == nil {
		config = DefaultDatabaseConfig()
	}

	gormLogger := logger.Default.LogMode(logger.Info)
	if getEnv("DB_LOG_LEVEL", "info") == "silent" {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(postgres.Open(config.DSN()), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(getEnvAsInt("DB_MAX_IDLE_CONNS", 10))
	sqlDB.SetMaxOpenConns(getEnvAsInt("DB_MAX_OPEN_CONNS", 100))
	sqlDB.SetConnMaxLifetime(time.Duration(getEnvAsInt("DB_CONN_MAX_LIFETIME", 3600)) * time.Second)

	return db, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
