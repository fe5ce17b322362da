package infra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface shared by SQLRunner and the test doubles
// used by the repository and credential packages.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// ErrMissingMarker is returned for statements that do not start with a
// "--sql <uuid>" line.
var ErrMissingMarker = errors.New("sql marker missing or invalid")

var markerRegexp = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

// SQLRunner executes the statements kept in package sqlinline against the
// pool. Every statement opens with a "--sql <uuid>" line. The runner strips
// that line before sending the query and logs the uuid as sql_id, so a log
// line for a job claim or a blueprint transition can be traced back to the
// exact constant that produced it. Statements without a marker are refused
// before they reach Postgres. The sqllint tool checks the same contract over
// the source tree and rejects duplicated ids.
type SQLRunner struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{pool: pool, logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	id, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	started := time.Now()
	tag, err := r.pool.Exec(ctx, body, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("sql_id", id).Msg("store: exec failed")
		return tag, err
	}
	r.logger.Debug().
		Str("sql_id", id).
		Int64("rows", tag.RowsAffected()).
		Dur("elapsed", time.Since(started)).
		Msg("store: exec")
	return tag, nil
}

// QueryRow defers errors to Scan, like pgx does. An empty result is not
// logged as a failure.
func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	id, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return scanLogger{
		row:     r.pool.QueryRow(ctx, body, args...),
		logger:  r.logger,
		id:      id,
		started: time.Now(),
	}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	id, body, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, body, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("sql_id", id).Msg("store: query failed")
		return nil, err
	}
	return closeLogger{Rows: rows, logger: r.logger, id: id, started: time.Now()}, nil
}

type scanLogger struct {
	row     pgx.Row
	logger  zerolog.Logger
	id      string
	started time.Time
}

func (s scanLogger) Scan(dest ...any) error {
	err := s.row.Scan(dest...)
	switch {
	case err == nil || IsNoRows(err):
		s.logger.Debug().
			Str("sql_id", s.id).
			Bool("found", err == nil).
			Dur("elapsed", time.Since(s.started)).
			Msg("store: query row")
	default:
		s.logger.Error().Err(err).Str("sql_id", s.id).Msg("store: scan failed")
	}
	return err
}

type closeLogger struct {
	pgx.Rows
	logger  zerolog.Logger
	id      string
	started time.Time
}

func (c closeLogger) Close() {
	c.Rows.Close()
	if err := c.Rows.Err(); err != nil {
		c.logger.Error().Err(err).Str("sql_id", c.id).Msg("store: rows failed")
		return
	}
	c.logger.Debug().Str("sql_id", c.id).Dur("elapsed", time.Since(c.started)).Msg("store: query")
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

// extractMarker splits a statement into its marker id and the SQL body.
func extractMarker(query string) (string, string, error) {
	first, body, _ := strings.Cut(strings.TrimSpace(query), "\n")
	m := markerRegexp.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", "", fmt.Errorf("%w: %.40q", ErrMissingMarker, first)
	}
	return m[1], body, nil
}

// IsNoRows reports whether err signals an empty result set.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ SQLExecutor = (*SQLRunner)(nil)
