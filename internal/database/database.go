package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/batilieri/multichat-system/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Open connects to the configured database and migrates the schema
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch strings.ToLower(cfg.Type) {
	case "mysql":
		db, err = connectMySQL(cfg)
	case "postgres", "postgresql", "pgx":
		db, err = connectPostgreSQL(cfg)
	case "sqlite", "sqlite3":
		db, err = connectSQLite(cfg)
	case "sqlite-pure", "modernc":
		db, err = connectPureSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Type, err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	log.Info().Str("type", cfg.Type).Msg("database connected and migrated")
	return db, nil
}

func gormConfig(cfg config.DatabaseConfig) *gorm.Config {
	return &gorm.Config{
		Logger:         newGormLogger(cfg.LogLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// connectMySQL connects to MySQL database
func connectMySQL(cfg config.DatabaseConfig) (*gorm.DB, error) {
	port := cfg.Port
	if port == "" {
		port = "3306"
	}
	user := cfg.User
	if user == "" {
		user = "root"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=10s&readTimeout=30s&writeTimeout=30s",
		user, cfg.Password, cfg.Host, port, cfg.Name)

	db, err := gorm.Open(mysql.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, err
	}
	return db, configurePool(db, 100)
}

// connectPostgreSQL connects through the pgx stdlib driver
func connectPostgreSQL(cfg config.DatabaseConfig) (*gorm.DB, error) {
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	user := cfg.User
	if user == "" {
		user = "postgres"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		cfg.Host, port, user, cfg.Password, cfg.Name)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig(cfg))
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, configurePool(db, 100)
}

// connectSQLite uses the cgo sqlite3 driver
func connectSQLite(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if err := ensureDir(cfg.Path); err != nil {
		return nil, err
	}
	dsn := cfg.Path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway
	return db, configurePool(db, 1)
}

// connectPureSQLite uses modernc.org/sqlite, for builds without cgo
func connectPureSQLite(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if err := ensureDir(cfg.Path); err != nil {
		return nil, err
	}
	dsn := "file:" + cfg.Path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, gormConfig(cfg))
	if err != nil {
		return nil, err
	}
	return db, configurePool(db, 1)
}

func configurePool(db *gorm.DB, maxOpen int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(min(10, maxOpen))
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

func ensureDir(path string) error {
	if path == "" || strings.HasPrefix(path, ":memory:") || strings.HasPrefix(path, "file::memory:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// Ping checks that the connection is alive
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the underlying pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormWriter routes GORM's printf-style logger into zerolog
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	log.Info().Str("component", "gorm").Msgf(format, args...)
}

func newGormLogger(level string) logger.Interface {
	lvl := logger.Warn
	switch strings.ToLower(level) {
	case "silent":
		lvl = logger.Silent
	case "error":
		lvl = logger.Error
	case "info", "debug":
		lvl = logger.Info
	}
	return logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
	})
}
