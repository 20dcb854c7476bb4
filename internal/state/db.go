package state

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/voltz-protocol/lp-optimiser/internal/logger"
)

// Driver names as registered with database/sql.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBConfig holds database connection parameters.
type DBConfig struct {
	Driver     string // DriverPostgres or DriverSQLite
	SQLitePath string // file path or ":memory:", sqlite only

	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// Store persists allocation states, cycle snapshots and the cycle counter.
type Store struct {
	db     *sql.DB
	driver string
	logger zerolog.Logger
}

// Open opens and pings the database.
func Open(cfg DBConfig) (*Store, error) {
	var dsn string
	switch cfg.Driver {
	case DriverPostgres:
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path cannot be empty")
		}
		dsn = "file:" + cfg.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// one writer; an in-memory database also lives only as long as its connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, driver: cfg.Driver, logger: logger.GetForComponent("state")}
	s.logger.Info().Str("driver", cfg.Driver).Msg("Successfully connected to the database")
	return s, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.logger.Info().Msg("Closing database connection...")
	if err := s.db.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing database connection")
	}
}

// Ping tests if the database connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// EnsureSchema applies the DDL to create tables if they don't exist.
func (s *Store) EnsureSchema() error {
	for _, stmt := range s.schema() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema DDL: %w", err)
		}
	}
	s.logger.Info().Msg("Database schema ensured")
	return nil
}

// Reset drops every table and recreates the schema.
func (s *Store) Reset() error {
	for _, table := range []string{"cycle_snapshots", "allocation_states", "cycle_counter"} {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	s.logger.Warn().Msg("Database tables dropped")
	return s.EnsureSchema()
}

func (s *Store) schema() []string {
	serial, blob := "INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT"
	if s.driver == DriverPostgres {
		serial, blob = "BIGSERIAL PRIMARY KEY", "JSONB"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS allocation_states (
			strategy_id TEXT PRIMARY KEY,
			cycle BIGINT NOT NULL,
			fractions ` + blob + ` NOT NULL,
			committed_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cycle_snapshots (
			snapshot_id ` + serial + `,
			strategy_id TEXT NOT NULL,
			cycle_number BIGINT NOT NULL,
			cycle_id TEXT NOT NULL,
			snapshot_timestamp BIGINT NOT NULL,
			mode TEXT NOT NULL,
			decision TEXT NOT NULL DEFAULT '',
			targets ` + blob + `,
			previous ` + blob + `,
			scores ` + blob + `,
			plan ` + blob + `,
			receipts ` + blob + `,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_strategy ON cycle_snapshots(strategy_id, cycle_number DESC)`,
		`CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT single_row_check CHECK (id = 1)
		)`,
		`INSERT INTO cycle_counter (id, current_cycle) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
	}
}

// rebind turns ? placeholders into the driver's syntax.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
