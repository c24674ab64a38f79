package repositories

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/pkg/database"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "repositories_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedUser creates a user linked to the given identities.
func seedUser(t *testing.T, repo *UserRepository, username string, identities ...models.ExternalIdentity) *models.User {
	t.Helper()
	ctx := context.Background()
	var user *models.User
	err := repo.InTx(ctx, func(tx *UserTx) error {
		var err error
		user, err = tx.CreateUser(ctx, username)
		if err != nil {
			return err
		}
		for _, identity := range identities {
			if err := tx.UpsertIdentity(ctx, user.UserID, identity); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return user
}

func githubIdentity(id, username string, total, month int64) models.ExternalIdentity {
	token := "token_" + id
	return models.ExternalIdentity{
		Provider:   models.ProviderGitHub,
		ExternalID: id,
		Username:   username,
		AuthToken:  &token,
		Amount:     &models.TotalAndMonthAmount{Total: total, Month: month, LastChecked: time.Now().UTC()},
	}
}

func opencollectiveIdentity(id, username string, total, month int64) models.ExternalIdentity {
	return models.ExternalIdentity{
		Provider:   models.ProviderOpenCollective,
		ExternalID: id,
		Username:   username,
		Amount:     &models.TotalAndMonthAmount{Total: total, Month: month, LastChecked: time.Now().UTC()},
	}
}
