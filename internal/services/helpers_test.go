package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/pkg/database"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "services_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *database.DB, table string) int {
	t.Helper()
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&count))
	return count
}

// fakeProvider is an OAuthProvider answering from fixed values and counting calls.
type fakeProvider struct {
	name         models.Provider
	amount       *models.TotalAndMonthAmount
	amountErr    error
	sponsorships []models.SponsorNode

	amountCalls int
	credentials []string
}

func (f *fakeProvider) Name() models.Provider { return f.name }

func (f *fakeProvider) Login(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (f *fakeProvider) GetAccessToken(ctx context.Context, code string) (string, error) {
	return "token_" + code, nil
}

func (f *fakeProvider) GetIDAndUsername(ctx context.Context, accessToken string) (string, string, error) {
	return "id_" + accessToken, "user_" + accessToken, nil
}

func (f *fakeProvider) GetUserSponsorshipAmount(ctx context.Context, credential string) (*models.TotalAndMonthAmount, error) {
	f.amountCalls++
	f.credentials = append(f.credentials, credential)
	if f.amountErr != nil {
		return nil, f.amountErr
	}
	amount := *f.amount
	return &amount, nil
}

func (f *fakeProvider) GetUserSponsorshipsAsSponsor(ctx context.Context, credential string) ([]models.SponsorNode, error) {
	f.credentials = append(f.credentials, credential)
	if f.amountErr != nil {
		return nil, f.amountErr
	}
	return f.sponsorships, nil
}

// verifyingProvider adds token verification to fakeProvider.
type verifyingProvider struct {
	*fakeProvider
	verifyErr error
}

func (v *verifyingProvider) VerifyAuthToken(ctx context.Context, accessToken string) error {
	return v.verifyErr
}

func strPtr(s string) *string { return &s }
