//go:build integration

package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/donorlog/donorlog/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a throwaway postgres container and returns its connection URL.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "dl",
				"POSTGRES_PASSWORD": "dl",
				"POSTGRES_DB":       "donorlog_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	}

	container, err := testcontainers.GenericContainer(ctx, req)
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		container.Terminate(cleanupCtx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://dl:dl@%s:%s/donorlog_test?sslmode=disable", host, port.Port())
}

func TestPostgresMigrationsAndRefresh(t *testing.T) {
	url := startPostgres(t)

	db, err := Open(config.DatabaseConfig{Driver: string(DialectPostgres), URL: url})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	pending, err := db.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var userID int64
	err = db.QueryRowContext(ctx, db.Rebind(`INSERT INTO users (username) VALUES (?) RETURNING user_id`), "pg_user").Scan(&userID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, db.Rebind(`
		INSERT INTO github_users (user_id, github_id, github_username, total_cents, month_cents, last_checked)
		VALUES (?, ?, ?, ?, ?, ?)`), userID, "gh_pg", "pg_user", 1000, 100, time.Now().UTC())
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY ranked_users`)
	require.NoError(t, err)

	var total, rank int64
	err = db.QueryRowContext(ctx, db.Rebind(`SELECT total_cents, total_rank FROM ranked_users WHERE username = ?`), "pg_user").Scan(&total, &rank)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total)
	assert.Equal(t, int64(1), rank)
}
