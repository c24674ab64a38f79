package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/donorlog/donorlog/internal/apperror"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetByUsernameLoadsBothIdentities(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	seeded := seedUser(t, repo, "test_user_1",
		githubIdentity("gh_id_1", "test_user_1", 3344, 1122),
		opencollectiveIdentity("oc_id_1", "test_oc_user_1", 500, 50),
	)

	user, err := repo.GetByUsername(ctx, "test_user_1")
	require.NoError(t, err)
	assert.Equal(t, seeded.UserID, user.UserID)

	require.NotNil(t, user.GithubUser)
	assert.Equal(t, "gh_id_1", user.GithubUser.GithubID)
	require.NotNil(t, user.GithubUser.GithubAuthToken)
	assert.Equal(t, "token_gh_id_1", *user.GithubUser.GithubAuthToken)
	require.NotNil(t, user.GithubUser.Amount)
	assert.Equal(t, int64(3344), user.GithubUser.Amount.Total)
	assert.Equal(t, int64(1122), user.GithubUser.Amount.Month)
	assert.False(t, user.GithubUser.Amount.LastChecked.IsZero())

	require.NotNil(t, user.OpencollectiveUser)
	assert.Equal(t, "test_oc_user_1", user.OpencollectiveUser.OpencollectiveUsername)
	assert.Equal(t, int64(500), user.OpencollectiveUser.Amount.Total)
}

func TestGetByUsernameWithoutIdentities(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	seedUser(t, repo, "lonely")

	user, err := repo.GetByUsername(context.Background(), "lonely")
	require.NoError(t, err)
	assert.Nil(t, user.GithubUser)
	assert.Nil(t, user.OpencollectiveUser)
}

func TestGetByUsernameNotFound(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))

	_, err := repo.GetByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = repo.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestUpdateUsername(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()
	alice := seedUser(t, repo, "alice")
	bob := seedUser(t, repo, "bob")

	ok, err := repo.UpdateUsername(ctx, alice.UserID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := repo.GetByID(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "alice", a.Username)
	b, err := repo.GetByID(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, "bob", b.Username)

	ok, err = repo.UpdateUsername(ctx, alice.UserID, "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.UpdateUsername(ctx, 999, "dave")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestUpdateAmount(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()
	identity := githubIdentity("gh_1", "octo", 100, 10)
	user := seedUser(t, repo, "octo", identity)

	checked := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	identity.Amount = &models.TotalAndMonthAmount{Total: 700, Month: 70, LastChecked: checked}
	require.NoError(t, repo.UpdateAmount(ctx, user.UserID, identity))

	loaded, err := repo.GetByID(ctx, user.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), loaded.GithubUser.Amount.Total)
	assert.Equal(t, int64(70), loaded.GithubUser.Amount.Month)
	assert.True(t, checked.Equal(loaded.GithubUser.Amount.LastChecked))
}

func TestUpsertIdentityKeepsAmountWhenNoneProvided(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()
	user := seedUser(t, repo, "octo", githubIdentity("gh_1", "octo", 100, 10))

	newToken := "fresh"
	err := repo.InTx(ctx, func(tx *UserTx) error {
		return tx.UpsertIdentity(ctx, user.UserID, models.ExternalIdentity{
			Provider:   models.ProviderGitHub,
			ExternalID: "gh_1",
			Username:   "octo_renamed",
			AuthToken:  &newToken,
		})
	})
	require.NoError(t, err)

	loaded, err := repo.GetByID(ctx, user.UserID)
	require.NoError(t, err)
	assert.Equal(t, "octo_renamed", loaded.GithubUser.GithubUsername)
	assert.Equal(t, "fresh", *loaded.GithubUser.GithubAuthToken)
	require.NotNil(t, loaded.GithubUser.Amount)
	assert.Equal(t, int64(100), loaded.GithubUser.Amount.Total)
}

func TestUpsertIdentityReplacesOtherIdentityOfSameProvider(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	user := seedUser(t, repo, "octo", githubIdentity("gh_old", "octo", 100, 10))

	err := repo.InTx(ctx, func(tx *UserTx) error {
		return tx.UpsertIdentity(ctx, user.UserID, githubIdentity("gh_new", "octo", 5, 1))
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM github_users`).Scan(&count))
	assert.Equal(t, 1, count)

	loaded, err := repo.GetByID(ctx, user.UserID)
	require.NoError(t, err)
	assert.Equal(t, "gh_new", loaded.GithubUser.GithubID)
}

func TestTxFindOwnerAndDeleteCascades(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	owner := seedUser(t, repo, "owner",
		githubIdentity("gh_1", "owner", 1, 1),
		opencollectiveIdentity("oc_1", "owner_oc", 1, 1),
	)

	err := repo.InTx(ctx, func(tx *UserTx) error {
		require.NoError(t, tx.LockIdentity(ctx, models.ProviderGitHub, "gh_1"))

		found, err := tx.FindOwner(ctx, models.ProviderGitHub, "gh_1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, owner.UserID, found.UserID)

		missing, err := tx.FindOwner(ctx, models.ProviderOpenCollective, "oc_unknown")
		require.NoError(t, err)
		assert.Nil(t, missing)

		exists, err := tx.UsernameExists(ctx, "owner")
		require.NoError(t, err)
		assert.True(t, exists)

		return tx.DeleteUser(ctx, owner.UserID)
	})
	require.NoError(t, err)

	for _, table := range []string{"users", "github_users", "opencollective_users"} {
		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&count))
		assert.Zero(t, count, table)
	}
}

func TestTxCreateUserConflict(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()
	seedUser(t, repo, "taken")

	err := repo.InTx(ctx, func(tx *UserTx) error {
		_, err := tx.CreateUser(ctx, "taken")
		return err
	})
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestTxUsableAfterCreateUserConflict(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()
	seedUser(t, repo, "taken")

	var created *models.User
	err := repo.InTx(ctx, func(tx *UserTx) error {
		_, err := tx.CreateUser(ctx, "taken")
		require.ErrorIs(t, err, apperror.ErrConflict)

		created, err = tx.CreateUser(ctx, "taken_2")
		return err
	})
	require.NoError(t, err)

	user, err := repo.GetByUsername(ctx, "taken_2")
	require.NoError(t, err)
	assert.Equal(t, created.UserID, user.UserID)
}

func TestUnknownProvider(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	err := repo.UpdateAmount(context.Background(), 1, models.ExternalIdentity{Provider: "gitlab"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
