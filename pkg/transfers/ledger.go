package transfers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/seekd/seekd/pkg/peer"
)

// DatabaseType defines the supported ledger backends.
type DatabaseType string

const (
	// DatabaseTypeSQLite uses SQLite (single-node, default).
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres uses PostgreSQL.
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	// Default: $XDG_CONFIG_HOME/seekd/transfers.db
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"ssl_mode" yaml:"ssl_mode"` // disable, require, verify-ca, verify-full
	SSLRootCert  string `mapstructure:"ssl_root_cert" yaml:"ssl_root_cert,omitempty"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)

	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	if c.SSLRootCert != "" {
		dsn += fmt.Sprintf(" sslrootcert=%s", c.SSLRootCert)
	}

	return dsn
}

// DatabaseConfig contains transfer ledger database configuration.
type DatabaseConfig struct {
	Type     DatabaseType   `mapstructure:"type" yaml:"type"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres,omitempty"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *DatabaseConfig) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}

	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.SQLite.Path = filepath.Join(configDir, "seekd", "transfers.db")
	}

	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 25
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 5
		}
	}
}

// Validate checks if the configuration is valid.
func (c *DatabaseConfig) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// TerminalFilter narrows List results by terminal status.
type TerminalFilter int

const (
	// TerminalAny matches both terminal and non-terminal transfers.
	TerminalAny TerminalFilter = iota

	// TerminalOnly matches transfers whose state includes Completed.
	TerminalOnly

	// NonTerminalOnly matches transfers whose state does not include Completed.
	NonTerminalOnly
)

// Filter selects transfers in List queries. Zero-value fields match
// everything.
type Filter struct {
	Username       string
	Filename       string
	Direction      peer.Direction
	Terminal       TerminalFilter
	IncludeRemoved bool
	Limit          int
}

// Ledger is the durable record of every transfer attempt. Writes open a
// fresh session per call; there is no long-lived shared session. All
// timestamps are stored and returned as UTC.
type Ledger interface {
	// AddOrSupersede marks any prior non-removed rows for the transfer's
	// (username, filename, direction) as removed, then inserts the fresh row.
	AddOrSupersede(ctx context.Context, transfer *Transfer) error

	// Update writes the full row back. Returns ErrTransferNotFound if no
	// row exists for the transfer's id.
	Update(ctx context.Context, transfer *Transfer) error

	// Find returns the transfer with the given id, removed or not.
	Find(ctx context.Context, id string) (*Transfer, error)

	// List returns transfers matching the filter, ordered by requested-at.
	List(ctx context.Context, filter Filter) ([]*Transfer, error)

	// Remove soft-deletes a terminal transfer. Returns ErrNotTerminal when
	// the transfer has not completed.
	Remove(ctx context.Context, id string) error

	Healthcheck(ctx context.Context) error
	Close() error
}

// GORMLedger implements Ledger using GORM. It supports both SQLite and
// PostgreSQL backends via the same codebase.
type GORMLedger struct {
	db     *gorm.DB
	config *DatabaseConfig
}

// NewLedger opens the transfer ledger described by the configuration and
// migrates its schema.
func NewLedger(config *DatabaseConfig) (*GORMLedger, error) {
	if config == nil {
		config = &DatabaseConfig{}
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// WAL for concurrent readers, busy_timeout to ride out the single
		// writer holding the file lock.
		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)

	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())

	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &GORMLedger{db: db, config: config}, nil
}

// DB returns the underlying GORM database connection.
func (l *GORMLedger) DB() *gorm.DB {
	return l.db
}

func (l *GORMLedger) AddOrSupersede(ctx context.Context, transfer *Transfer) error {
	if transfer.ID == "" {
		transfer.ID = uuid.New().String()
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Transfer{}).
			Where("username = ? AND filename = ? AND direction = ? AND removed = ?",
				transfer.Username, transfer.Filename, transfer.Direction, false).
			Update("removed", true).Error
		if err != nil {
			return err
		}
		return tx.Create(transfer).Error
	})
}

func (l *GORMLedger) Update(ctx context.Context, transfer *Transfer) error {
	result := l.db.WithContext(ctx).
		Model(&Transfer{}).
		Where("id = ?", transfer.ID).
		Select("*").
		Updates(transfer)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func (l *GORMLedger) Find(ctx context.Context, id string) (*Transfer, error) {
	var transfer Transfer
	if err := l.db.WithContext(ctx).Where("id = ?", id).First(&transfer).Error; err != nil {
		return nil, convertNotFoundError(err, ErrTransferNotFound)
	}
	return &transfer, nil
}

func (l *GORMLedger) List(ctx context.Context, filter Filter) ([]*Transfer, error) {
	q := l.db.WithContext(ctx).Model(&Transfer{})

	if !filter.IncludeRemoved {
		q = q.Where("removed = ?", false)
	}
	if filter.Username != "" {
		q = q.Where("username = ?", filter.Username)
	}
	if filter.Filename != "" {
		q = q.Where("filename = ?", filter.Filename)
	}
	if filter.Direction != "" {
		q = q.Where("direction = ?", filter.Direction)
	}
	switch filter.Terminal {
	case TerminalOnly:
		q = q.Where("state & ? <> 0", uint32(peer.StateCompleted))
	case NonTerminalOnly:
		q = q.Where("state & ? = 0", uint32(peer.StateCompleted))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	results := []*Transfer{}
	if err := q.Order("requested_at, id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (l *GORMLedger) Remove(ctx context.Context, id string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var transfer Transfer
		if err := tx.Where("id = ?", id).First(&transfer).Error; err != nil {
			return convertNotFoundError(err, ErrTransferNotFound)
		}
		if !transfer.Terminal() {
			return ErrNotTerminal
		}
		return tx.Model(&transfer).Update("removed", true).Error
	})
}

func (l *GORMLedger) Healthcheck(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (l *GORMLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// convertNotFoundError converts gorm.ErrRecordNotFound to the appropriate
// domain error.
func convertNotFoundError(err error, notFoundErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr
	}
	return err
}

// Compile-time interface check
var _ Ledger = (*GORMLedger)(nil)
