package services

import (
	"context"
	"errors"
	"time"

	"github.com/donorlog/donorlog/internal/apperror"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/internal/repositories"
	"github.com/donorlog/donorlog/pkg/logger"
	"github.com/sirupsen/logrus"
)

// SponsorshipService serves sponsorship amounts from the identity store and asks
// the provider again once a cached amount is stale.
type SponsorshipService struct {
	userRepo  *repositories.UserRepository
	providers map[models.Provider]OAuthProvider
	now       func() time.Time
}

func NewSponsorshipService(userRepo *repositories.UserRepository, providers ...OAuthProvider) *SponsorshipService {
	byName := make(map[models.Provider]OAuthProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &SponsorshipService{
		userRepo:  userRepo,
		providers: byName,
		now:       time.Now,
	}
}

// SearchOverview returns the user's display amounts, refreshing stale ones. A
// provider that fails is listed as unverified and its amount left out; when
// every linked provider fails the user counts as not found.
func (s *SponsorshipService) SearchOverview(ctx context.Context, username string) (*models.DisplayUser, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.overview(ctx, user)
}

// OverviewByID is SearchOverview keyed on the user id.
func (s *SponsorshipService) OverviewByID(ctx context.Context, userID int64) (*models.DisplayUser, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.overview(ctx, user)
}

func (s *SponsorshipService) overview(ctx context.Context, user *models.User) (*models.DisplayUser, error) {
	display := &models.DisplayUser{Username: user.Username}
	identities := user.Identities()
	for _, identity := range identities {
		amount, err := s.amount(ctx, user.UserID, identity)
		if errors.Is(err, apperror.ErrProvider) {
			logger.WithFields(logrus.Fields{
				"user_id":  user.UserID,
				"provider": identity.Provider,
			}).WithError(err).Warn("Failed to refresh sponsorship amount")
			display.Unverified = append(display.Unverified, identity.Provider)
			continue
		}
		if err != nil {
			return nil, err
		}

		switch identity.Provider {
		case models.ProviderGitHub:
			display.Github = amount
		case models.ProviderOpenCollective:
			display.Opencollective = amount
		}
	}

	if len(identities) > 0 && len(display.Unverified) == len(identities) {
		return nil, apperror.NotFound(apperror.UserNotVerified)
	}
	return display, nil
}

// amount returns the cached amount while it is fresh. Otherwise it asks the
// provider and persists the answer before returning it.
func (s *SponsorshipService) amount(ctx context.Context, userID int64, identity models.ExternalIdentity) (*models.TotalAndMonthAmount, error) {
	now := s.now()
	if !identity.Amount.IsStale(now) {
		return identity.Amount, nil
	}

	provider, ok := s.providers[identity.Provider]
	if !ok {
		return nil, apperror.Provider(string(identity.Provider), errors.New("provider not configured"))
	}
	amount, err := provider.GetUserSponsorshipAmount(ctx, identity.Credential())
	if err != nil {
		return nil, providerFailure(identity.Provider, err)
	}
	if amount == nil {
		return nil, apperror.Provider(string(identity.Provider), errors.New("no amount reported"))
	}
	if amount.LastChecked.IsZero() {
		amount.LastChecked = now.UTC()
	}

	identity.Amount = amount
	if err := s.userRepo.UpdateAmount(ctx, userID, identity); err != nil {
		return nil, err
	}
	return amount, nil
}

// Sponsorships lists what the user sponsored through each linked provider. A
// provider that cannot verify the user is returned unverified and empty.
func (s *SponsorshipService) Sponsorships(ctx context.Context, userID int64) ([]models.ProviderSponsorships, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]models.ProviderSponsorships, 0, 2)
	for _, identity := range user.Identities() {
		entry := models.ProviderSponsorships{
			Provider:     identity.Provider,
			Username:     identity.Username,
			Sponsorships: []models.SponsorNode{},
		}
		nodes, err := s.sponsorships(ctx, identity)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"user_id":  user.UserID,
				"provider": identity.Provider,
			}).WithError(err).Warn("Failed to list sponsorships")
		} else {
			entry.Verified = true
			entry.Sponsorships = nodes
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *SponsorshipService) sponsorships(ctx context.Context, identity models.ExternalIdentity) ([]models.SponsorNode, error) {
	provider, ok := s.providers[identity.Provider]
	if !ok {
		return nil, apperror.Provider(string(identity.Provider), errors.New("provider not configured"))
	}
	credential := identity.Credential()
	if verifier, ok := provider.(tokenVerifier); ok {
		if err := verifier.VerifyAuthToken(ctx, credential); err != nil {
			return nil, err
		}
	}
	return provider.GetUserSponsorshipsAsSponsor(ctx, credential)
}

// providerFailure makes sure err matches apperror.ErrProvider.
func providerFailure(provider models.Provider, err error) error {
	if errors.Is(err, apperror.ErrProvider) {
		return err
	}
	return apperror.Provider(string(provider), err)
}
