// Package engine provides database connection management with sqlite and
// postgres dialects behind a single wrapper.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver loaded here
	_ "modernc.org/sqlite" // sqlite driver loaded here
)

// Type is a type of database engine
type Type string

// enum of supported database engines
const (
	Unknown  Type = ""
	Sqlite   Type = "sqlite"
	Postgres Type = "postgres"
)

// SQL is a wrapper for sqlx.DB with the engine type attached, allowing
// storages to pick dialect-specific queries.
type SQL struct {
	sqlx.DB
	dbType Type
}

// NewSqlite creates a new sqlite database
func NewSqlite(file string) (*SQL, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return &SQL{}, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return &SQL{}, fmt.Errorf("failed to set busy_timeout pragma: %w", err)
	}
	return &SQL{DB: *db, dbType: Sqlite}, nil
}

// NewPostgres creates a new postgres connection
func NewPostgres(ctx context.Context, connStr string) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return &SQL{}, err
	}
	return &SQL{DB: *db, dbType: Postgres}, nil
}

// Type returns the database engine type
func (e *SQL) Type() Type {
	return e.dbType
}

// RWLocker is the lock surface stores embed next to their *SQL handle
type RWLocker interface {
	sync.Locker
	RLock()
	RUnlock()
}

// NoopLocker satisfies RWLocker without locking anything, for engines where
// the server already serializes concurrent writers
type NoopLocker struct{}

// Lock is a no-op
func (NoopLocker) Lock() {}

// Unlock is a no-op
func (NoopLocker) Unlock() {}

// RLock is a no-op
func (NoopLocker) RLock() {}

// RUnlock is a no-op
func (NoopLocker) RUnlock() {}

// MakeLock creates a lock for the engine. Sqlite needs app-level locking for
// concurrent writers, other engines handle it server-side.
func (e *SQL) MakeLock() RWLocker {
	if e.dbType == Sqlite {
		return new(sync.RWMutex)
	}
	return &NoopLocker{}
}

// Adopt converts ? placeholders to the engine's native style. Question marks
// inside single-quoted literals are left alone.
func (e *SQL) Adopt(query string) string {
	if e.dbType != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n, inQuote := 0, false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DBCmd identifies a storage command inside a QuerySet. Each store owns a
// distinct command range (comments 100+, notifications 200+) so a misrouted
// command fails loudly instead of silently running another table's SQL.
type DBCmd int

// Query holds the SQL text of one command per supported dialect
type Query struct {
	Sqlite   string
	Postgres string
}

// Same builds a Query whose text is shared by both dialects
func Same(q string) Query {
	return Query{Sqlite: q, Postgres: q}
}

// QuerySet maps a store's commands to their dialect variants
type QuerySet map[DBCmd]Query

// Pick returns the SQL text for the given engine type and command
func (qs QuerySet) Pick(dbType Type, cmd DBCmd) (string, error) {
	q, ok := qs[cmd]
	if !ok {
		return "", fmt.Errorf("unknown command %d", cmd)
	}
	switch dbType {
	case Sqlite:
		return q.Sqlite, nil
	case Postgres:
		return q.Postgres, nil
	}
	return "", fmt.Errorf("unsupported database type %q", dbType)
}

// TableConfig describes how to initialize a storage table
type TableConfig struct {
	Name          string
	CreateTable   DBCmd
	CreateIndexes DBCmd
	Queries       QuerySet
}

// InitTable creates the table and its indexes in a single transaction
func InitTable(ctx context.Context, db *SQL, cfg TableConfig) error {
	if db == nil {
		return fmt.Errorf("db connection is nil")
	}

	createTable, err := cfg.Queries.Pick(db.Type(), cfg.CreateTable)
	if err != nil {
		return fmt.Errorf("failed to get create table query for %s: %w", cfg.Name, err)
	}
	createIndexes, err := cfg.Queries.Pick(db.Type(), cfg.CreateIndexes)
	if err != nil {
		return fmt.Errorf("failed to get create indexes query for %s: %w", cfg.Name, err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create %s table: %w", cfg.Name, err)
	}
	if _, err := tx.ExecContext(ctx, createIndexes); err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", cfg.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
