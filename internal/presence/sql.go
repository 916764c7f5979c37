package presence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style for the SQL store.
type Dialect int

const (
	// DialectPostgres uses $1, $2, ... placeholders.
	DialectPostgres Dialect = iota
	// DialectSQLite uses ? placeholders.
	DialectSQLite
)

// PoolConfig controls database/sql pool behavior.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 10
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = 10
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// OpenPostgres opens a Postgres pool through the pgx stdlib driver.
// The dsn contains secrets and must not be logged.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a single-connection SQLite database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	slog.Debug("[Presence] SQLite opened", "path", path)
	return db, nil
}

const schema = `CREATE TABLE IF NOT EXISTS presence_records (
	id            TEXT   NOT NULL,
	username      TEXT   NOT NULL,
	contact_uri   TEXT   NOT NULL,
	user_agent    TEXT   NOT NULL DEFAULT '',
	expires_at    BIGINT NOT NULL,
	registered_at BIGINT NOT NULL,
	PRIMARY KEY (username, id)
)`

// SQLStore keeps registrations in a relational table. Times are stored as
// unix milliseconds so both dialects compare them the same way.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore creates the table if needed and returns the store.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create presence schema: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, now: time.Now}, nil
}

// rebind rewrites ? placeholders for the store's dialect.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Register(ctx context.Context, r Record) (Record, error) {
	if err := r.Validate(s.now()); err != nil {
		return Record{}, err
	}

	query := s.rebind(`INSERT INTO presence_records
		(id, username, contact_uri, user_agent, expires_at, registered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (username, id) DO UPDATE SET
			contact_uri = excluded.contact_uri,
			user_agent = excluded.user_agent,
			expires_at = excluded.expires_at,
			registered_at = excluded.registered_at`)

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.User, r.ContactURI, r.UserAgent,
		r.ExpiresAt.UnixMilli(), r.RegisteredAt.UnixMilli(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("register %s: %w", r.User, err)
	}

	slog.Info("[Presence] Registered",
		"user", r.User,
		"contact", r.ContactURI,
		"expires_at", r.ExpiresAt,
		"backend", "sql",
	)
	return r, nil
}

func (s *SQLStore) Unregister(ctx context.Context, user, contactURI string) error {
	query := s.rebind(`DELETE FROM presence_records WHERE username = ? AND id = ?`)
	if _, err := s.db.ExecContext(ctx, query, user, RecordID(user, contactURI)); err != nil {
		return fmt.Errorf("unregister %s: %w", user, err)
	}
	return nil
}

func (s *SQLStore) RecordsByUser(ctx context.Context, user string) ([]Record, error) {
	query := s.rebind(`SELECT id, username, contact_uri, user_agent, expires_at, registered_at
		FROM presence_records
		WHERE username = ? AND expires_at > ?
		ORDER BY registered_at, id`)

	rows, err := s.db.QueryContext(ctx, query, user, s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("records of %s: %w", user, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                 Record
			expires, register int64
		)
		if err := rows.Scan(&r.ID, &r.User, &r.ContactURI, &r.UserAgent, &expires, &register); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.ExpiresAt = time.UnixMilli(expires)
		r.RegisteredAt = time.UnixMilli(register)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes expired rows and returns how many were removed.
func (s *SQLStore) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM presence_records WHERE expires_at <= ?`), s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune presence: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
