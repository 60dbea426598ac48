package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/meigma/release"
	"github.com/meigma/release/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS policy_releases (
	release_id   TEXT PRIMARY KEY,
	previous_ref TEXT NOT NULL,
	current_ref  TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	phase        TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ,
	report       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS policy_releases_phase_finished_idx
	ON policy_releases (phase, finished_at DESC);
`

// Config holds connection settings for the Postgres ledger.
type Config struct {
	URL             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns pool settings suited to a short-lived CLI run.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		PingTimeout:     5 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Validate checks the config fields.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.URL) == "":
		return errors.New("ledger: database url is required")
	case c.PingTimeout <= 0:
		return errors.New("ledger: ping timeout must be positive")
	case c.MaxOpenConns < 1:
		return errors.New("ledger: max open conns must be >= 1")
	case c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns:
		return errors.New("ledger: max idle conns must be between 0 and max open conns")
	case c.ConnMaxLifetime < 0:
		return errors.New("ledger: conn max lifetime must be >= 0")
	}
	return nil
}

// Open connects to Postgres through the pgx database/sql driver and pings
// the server.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	return db, nil
}

// Postgres is a Ledger backed by a policy_releases table.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// PostgresOption configures a Postgres ledger.
type PostgresOption func(*Postgres)

// WithLogger sets the logger for ledger writes.
func WithLogger(logger *slog.Logger) PostgresOption {
	return func(p *Postgres) {
		p.logger = logger
	}
}

// NewPostgres wraps db. Call EnsureSchema before first use.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Postgres) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// EnsureSchema creates the ledger table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: create schema: %w", err)
	}
	return nil
}

// Record implements Ledger.
func (p *Postgres) Record(ctx context.Context, r *report.Report) error {
	e, err := NewEntry(r)
	if err != nil {
		return err
	}
	finished := sql.NullTime{Time: e.Finished, Valid: !e.Finished.IsZero()}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO policy_releases
			(release_id, previous_ref, current_ref, strategy, phase, started_at, finished_at, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ReleaseID, e.Previous, e.Current, string(e.Strategy), string(e.Phase), e.Started, finished, string(e.Report),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, e.ReleaseID)
		}
		return fmt.Errorf("ledger: insert %s: %w", e.ReleaseID, err)
	}
	p.log().Info("release recorded", "release_id", e.ReleaseID, "phase", e.Phase)
	return nil
}

// LastPublished implements Ledger.
func (p *Postgres) LastPublished(ctx context.Context) (string, bool, error) {
	var ref string
	err := p.db.QueryRowContext(ctx, `
		SELECT current_ref FROM policy_releases
		WHERE phase = $1
		ORDER BY finished_at DESC NULLS LAST
		LIMIT 1`, string(release.PhaseSucceeded),
	).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger: query last published: %w", err)
	}
	return ref, true, nil
}

// Get returns the entry for a release id.
func (p *Postgres) Get(ctx context.Context, id string) (Entry, error) {
	var (
		e        Entry
		strategy string
		phase    string
		finished sql.NullTime
		data     []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT release_id, previous_ref, current_ref, strategy, phase, started_at, finished_at, report
		FROM policy_releases WHERE release_id = $1`, id,
	).Scan(&e.ReleaseID, &e.Previous, &e.Current, &strategy, &phase, &e.Started, &finished, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	e.Strategy = release.Strategy(strategy)
	e.Phase = release.Phase(phase)
	e.Finished = finished.Time
	e.Report = data
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ Ledger = (*Postgres)(nil)
