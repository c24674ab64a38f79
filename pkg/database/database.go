package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/donorlog/donorlog/pkg/config"
	"github.com/donorlog/donorlog/pkg/logger"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL flavour behind a DB. Values double as database/sql driver names.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// DB is the connection pool shared by every repository.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// sqliteParams keeps foreign keys on for every pooled connection and makes
// every transaction take the write lock up front (BEGIN IMMEDIATE).
const sqliteParams = "_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000&_txlock=immediate"

// Open connects to the configured database, verifies the connection and applies
// pending migrations.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	var (
		dialect Dialect
		dsn     string
	)
	switch cfg.Driver {
	case string(DialectSQLite):
		dialect = DialectSQLite
		dsn = sqliteDSN(cfg.Path)
	case string(DialectPostgres):
		dialect = DialectPostgres
		dsn = cfg.URL
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("database: opening %s: %w", dialect, err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: pinging %s: %w", dialect, err)
	}

	db := &DB{DB: conn, Dialect: dialect}
	if err := db.Migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	logger.WithField("driver", dialect).Info("Database connected successfully")
	return db, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file and migrates it.
func OpenSQLite(path string) (*DB, error) {
	return Open(config.DatabaseConfig{Driver: string(DialectSQLite), Path: path})
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqliteParams
	}
	return path + "?" + sqliteParams
}

// Close closes the database connection
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
func (db *DB) Rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InTx runs fn inside a transaction, committing when fn returns nil and rolling
// back otherwise.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database: committing transaction: %w", err)
	}
	return nil
}
