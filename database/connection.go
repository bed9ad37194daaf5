package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Ananth-NQI/hotelchat-backend/internal/config"
)

const cloudSQLSocketDir = "/cloudsql"

// Connect opens the database selected by DB_DRIVER
func Connect(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg, log)
	if err != nil {
		return nil, err
	}

	level := gormlogger.Warn
	if cfg.LogLevel == "debug" {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.DBDriver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	log.Info().Str("driver", cfg.DBDriver).Msg("Database connected successfully")
	return db, nil
}

func dialectorFor(cfg *config.Config, log zerolog.Logger) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.Open(postgresDSN(cfg, log)), nil
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "hotelchat.db"
		}
		log.Info().Str("file", dsn).Msg("Connecting to local SQLite")
		return sqlite.Open(dsn), nil
	case "mysql":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		}
		log.Info().Str("host", cfg.DBHost).Msg("Connecting to MySQL")
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

func postgresDSN(cfg *config.Config, log zerolog.Logger) string {
	if cfg.DatabaseURL != "" {
		log.Info().Msg("Connecting to PostgreSQL via DATABASE_URL")
		return cfg.DatabaseURL
	}

	user := cfg.DBUser
	if user == "" {
		user = "postgres"
	}

	// For Cloud Run with Cloud SQL
	if cfg.InstanceConnectionName != "" {
		log.Info().Str("instance", cfg.InstanceConnectionName).Msg("Connecting to Cloud SQL via socket")
		return fmt.Sprintf("host=%s/%s user=%s password=%s dbname=%s sslmode=disable",
			cloudSQLSocketDir, cfg.InstanceConnectionName, user, cfg.DBPass, cfg.DBName)
	}

	log.Info().Str("host", cfg.DBHost).Msg("Connecting to PostgreSQL")
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.DBHost, user, cfg.DBPass, cfg.DBName, cfg.DBPort)
}

// Ping checks the connection is alive
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
