package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	driver    string
	create    string
	upsert    string
	selectOne string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite3",
		create: `CREATE TABLE IF NOT EXISTS messages (
			recipient TEXT PRIMARY KEY,
			sender    TEXT NOT NULL,
			body      TEXT NOT NULL,
			stored_at TIMESTAMP NOT NULL
		)`,
		upsert: `INSERT INTO messages (recipient, sender, body, stored_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(recipient) DO UPDATE SET
			sender = excluded.sender, body = excluded.body, stored_at = excluded.stored_at`,
		selectOne: `SELECT sender, body FROM messages WHERE recipient = ?`,
	},
	"postgres": {
		driver: "postgres",
		create: `CREATE TABLE IF NOT EXISTS messages (
			recipient TEXT PRIMARY KEY,
			sender    TEXT NOT NULL,
			body      TEXT NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL
		)`,
		upsert: `INSERT INTO messages (recipient, sender, body, stored_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (recipient) DO UPDATE SET
			sender = EXCLUDED.sender, body = EXCLUDED.body, stored_at = EXCLUDED.stored_at`,
		selectOne: `SELECT sender, body FROM messages WHERE recipient = $1`,
	},
	"mysql": {
		driver: "mysql",
		create: `CREATE TABLE IF NOT EXISTS messages (
			recipient VARCHAR(255) NOT NULL PRIMARY KEY,
			sender    VARCHAR(255) NOT NULL,
			body      LONGTEXT NOT NULL,
			stored_at DATETIME(6) NOT NULL
		)`,
		upsert: `INSERT INTO messages (recipient, sender, body, stored_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			sender = VALUES(sender), body = VALUES(body), stored_at = VALUES(stored_at)`,
		selectOne: `SELECT sender, body FROM messages WHERE recipient = ?`,
	},
}

// SQL implements Store on a relational database, one row per recipient.
type SQL struct {
	kind    string
	dialect dialect
	db      *sql.DB
}

// NewSQL opens dsn with the driver for kind (sqlite, postgres or mysql) and
// creates the messages table if needed.
func NewSQL(kind, dsn string) (*SQL, error) {
	if kind == "sqlite3" {
		kind = "sqlite"
	}
	d, ok := dialects[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}
	if dsn == "" {
		if kind != "sqlite" {
			return nil, fmt.Errorf("%s store requires a url", kind)
		}
		dsn = "minimta.db"
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", kind, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if kind == "sqlite" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s server: %w", kind, err)
	}
	if _, err := db.ExecContext(ctx, d.create); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	return &SQL{kind: kind, dialect: d, db: db}, nil
}

// Store upserts the recipient row.
func (s *SQL) Store(ctx context.Context, env Envelope) error {
	key, err := prepare(env)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, key, env.Sender, env.Body, time.Now().UTC()); err != nil {
		return fmt.Errorf("%s upsert: %w", s.kind, err)
	}
	return nil
}

// Load selects the recipient row.
func (s *SQL) Load(ctx context.Context, recipient string) (Envelope, error) {
	key, err := RecipientKey(recipient)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{Recipient: recipient}
	err = s.db.QueryRowContext(ctx, s.dialect.selectOne, key).Scan(&env.Sender, &env.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return Envelope{}, ErrNotFound
	} else if err != nil {
		return Envelope{}, fmt.Errorf("%s select: %w", s.kind, err)
	}

	return env, nil
}

// Type returns the type of this store
func (s *SQL) Type() string {
	return s.kind
}

// Close closes the database handle
func (s *SQL) Close() error {
	return s.db.Close()
}
