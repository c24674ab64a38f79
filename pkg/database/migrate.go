package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/donorlog/donorlog/pkg/logger"
)

//go:embed migrations
var migrationFiles embed.FS

// Migration is one versioned SQL script.
type Migration struct {
	Version int
	Name    string
	Content string
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER   PRIMARY KEY,
		name        TEXT      NOT NULL,
		migrated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

// Migrate applies every migration not yet recorded in schema_migrations, in
// version order, inside a single transaction.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("database: creating schema_migrations: %w", err)
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	return db.InTx(ctx, func(tx *sql.Tx) error {
		for _, m := range pending {
			if _, err := tx.ExecContext(ctx, m.Content); err != nil {
				return fmt.Errorf("database: applying migration %s: %w", m.Name, err)
			}
			if _, err := tx.ExecContext(ctx,
				db.Rebind(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`),
				m.Version, m.Name,
			); err != nil {
				return fmt.Errorf("database: recording migration %s: %w", m.Name, err)
			}
			logger.WithField("migration", m.Name).Info("Executed SQL migration")
		}
		return nil
	})
}

// PendingMigrations lists the migrations for this dialect that have not been applied.
func (db *DB) PendingMigrations(ctx context.Context) ([]Migration, error) {
	all, err := loadMigrations(db.Dialect)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("database: reading applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []Migration
	for _, m := range all {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func loadMigrations(dialect Dialect) ([]Migration, error) {
	dir := path.Join("migrations", string(dialect))
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("database: no migrations for dialect %s: %w", dialect, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		version, err := strconv.Atoi(strings.SplitN(entry.Name(), "_", 2)[0])
		if err != nil {
			return nil, fmt.Errorf("database: migration %s has no numeric version prefix", entry.Name())
		}
		content, err := migrationFiles.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Version: version, Name: entry.Name(), Content: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}
