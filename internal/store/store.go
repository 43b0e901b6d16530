// Package store persists scan summaries in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/scanner"
)

const (
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// Config holds database connection settings.
type Config struct {
	Host            string        `yaml:"host" json:"host" validate:"required_with=Database"`
	Port            int           `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username" validate:"required_with=Database"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default connection settings. The database name
// and credentials are left empty, which disables persistence.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// Enabled reports whether a database has been configured.
func (c Config) Enabled() bool {
	return c.Database != ""
}

// DSN renders the lib/pq key=value connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
	)
}

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id          UUID PRIMARY KEY,
	host        TEXT NOT NULL,
	start_port  INTEGER NOT NULL,
	end_port    INTEGER NOT NULL,
	tested      INTEGER NOT NULL,
	closed      INTEGER NOT NULL,
	errored     INTEGER NOT NULL,
	canceled    BOOLEAN NOT NULL DEFAULT FALSE,
	started_at  TIMESTAMPTZ NOT NULL,
	elapsed_ms  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS open_ports (
	scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	port    INTEGER NOT NULL,
	banner  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (scan_id, port)
);`

// ScanRecord is one row of the scans table.
type ScanRecord struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Host      string    `db:"host" json:"host"`
	StartPort int       `db:"start_port" json:"start_port"`
	EndPort   int       `db:"end_port" json:"end_port"`
	Tested    int       `db:"tested" json:"tested"`
	Closed    int       `db:"closed" json:"closed"`
	Errored   int       `db:"errored" json:"errored"`
	Canceled  bool      `db:"canceled" json:"canceled"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	ElapsedMS int64     `db:"elapsed_ms" json:"elapsed_ms"`
	OpenPorts int       `db:"open_ports" json:"open_ports"`
}

type openPortRow struct {
	ScanID uuid.UUID `db:"scan_id"`
	Port   int       `db:"port"`
	Banner string    `db:"banner"`
}

// Store wraps a sqlx handle.
type Store struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// New wraps an existing handle. The schema is not touched.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, logger: logging.Default().WithComponent("store")}
}

// Connect opens a PostgreSQL connection, verifies it and ensures the schema.
// Returned errors never contain the DSN.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, errors.WrapStoreError(errors.CodeDatabaseConnection, "connect", sanitize(err))
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Info("Connected to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database)
	return s, nil
}

// sanitize drops driver messages that may echo connection parameters.
func sanitize(err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		return fmt.Errorf("postgres error %s", pqErr.Code)
	}
	return err
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseQuery, "ensure schema", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseConnection, "ping", err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSummary writes a summary and its open ports in one transaction.
func (s *Store) SaveSummary(ctx context.Context, summary scanner.Summary) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseConnection, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.WithError(rbErr).Warn("Rollback failed", "scan_id", summary.ID)
			}
		}
	}()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO scans (id, host, start_port, end_port, tested, closed, errored, canceled, started_at, elapsed_ms)
		VALUES (:id, :host, :start_port, :end_port, :tested, :closed, :errored, :canceled, :started_at, :elapsed_ms)`,
		recordFromSummary(summary))
	if err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseQuery, "insert scan", err)
	}

	if len(summary.Open) > 0 {
		rows := make([]openPortRow, len(summary.Open))
		for i, res := range summary.Open {
			rows[i] = openPortRow{ScanID: summary.ID, Port: res.Port, Banner: res.Banner}
		}
		_, err = tx.NamedExecContext(ctx,
			`INSERT INTO open_ports (scan_id, port, banner) VALUES (:scan_id, :port, :banner)`, rows)
		if err != nil {
			return errors.WrapStoreError(errors.CodeDatabaseQuery, "insert open ports", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseQuery, "commit", err)
	}

	s.logger.Debug("Saved scan summary", "scan_id", summary.ID, "open", len(summary.Open))
	return nil
}

func recordFromSummary(summary scanner.Summary) ScanRecord {
	return ScanRecord{
		ID:        summary.ID,
		Host:      summary.Target.Host,
		StartPort: summary.Target.StartPort,
		EndPort:   summary.Target.EndPort,
		Tested:    summary.Tested,
		Closed:    summary.Closed,
		Errored:   summary.Errored,
		Canceled:  summary.Canceled,
		StartedAt: summary.Started.UTC(),
		ElapsedMS: summary.Elapsed.Milliseconds(),
	}
}

// ListScans returns the most recent scans, newest first.
func (s *Store) ListScans(ctx context.Context, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []ScanRecord
	query := `
		SELECT s.id, s.host, s.start_port, s.end_port, s.tested, s.closed, s.errored,
		       s.canceled, s.started_at, s.elapsed_ms, COUNT(o.port) AS open_ports
		FROM scans s
		LEFT JOIN open_ports o ON o.scan_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, errors.WrapStoreError(errors.CodeDatabaseQuery, "list scans", err)
	}
	return records, nil
}
