package services

import (
	"context"
	"time"

	"github.com/donorlog/donorlog/internal/models"
)

// OAuthProvider is an external identity provider DonorLog can log users in with.
type OAuthProvider interface {
	Name() models.Provider

	// Login returns the provider's authorization URL carrying state.
	Login(state string) string

	GetAccessToken(ctx context.Context, code string) (string, error)

	// GetIDAndUsername returns the stable external id and display username of the
	// token's owner.
	GetIDAndUsername(ctx context.Context, accessToken string) (string, string, error)

	// GetUserSponsorshipAmount reports the user's total and current-month amounts.
	// The credential is whatever the provider identifies the user by, see
	// models.ExternalIdentity.Credential.
	GetUserSponsorshipAmount(ctx context.Context, credential string) (*models.TotalAndMonthAmount, error)

	GetUserSponsorshipsAsSponsor(ctx context.Context, credential string) ([]models.SponsorNode, error)
}

// tokenVerifier is implemented by providers that can check a stored token is
// still valid before it is used.
type tokenVerifier interface {
	VerifyAuthToken(ctx context.Context, accessToken string) error
}

// startOfMonth returns midnight UTC on the first day of now's month.
func startOfMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
