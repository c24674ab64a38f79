package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/donorlog/donorlog/internal/apperror"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/pkg/config"
	"golang.org/x/oauth2"
)

const opencollectiveProfileURL = "https://opencollective.com/"

type OpenCollectiveService struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	graphQLURL  string
	now         func() time.Time
}

func NewOpenCollectiveService(cfg config.OpenCollectiveConfig, timeout time.Duration) *OpenCollectiveService {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.CallbackURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	httpClient := &http.Client{Timeout: timeout}

	return &OpenCollectiveService{
		oauthConfig: oauthConfig,
		httpClient:  httpClient,
		graphQLURL:  cfg.GraphQLURL,
		now:         time.Now,
	}
}

func (s *OpenCollectiveService) Name() models.Provider {
	return models.ProviderOpenCollective
}

func (s *OpenCollectiveService) Login(state string) string {
	return s.oauthConfig.AuthCodeURL(state)
}

func (s *OpenCollectiveService) GetAccessToken(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return "", apperror.Provider("opencollective", fmt.Errorf("failed to exchange code for token: %w", err))
	}
	return token.AccessToken, nil
}

// GetIDAndUsername returns the account id and slug of the token's owner.
func (s *OpenCollectiveService) GetIDAndUsername(ctx context.Context, accessToken string) (string, string, error) {
	var data struct {
		Me *struct {
			ID   string `json:"id"`
			Slug string `json:"slug"`
		} `json:"me"`
	}
	if err := s.graphql(ctx, accessToken, `query { me { id slug } }`, nil, &data); err != nil {
		return "", "", apperror.Provider("opencollective", err)
	}
	if data.Me == nil || data.Me.ID == "" || data.Me.Slug == "" {
		return "", "", apperror.Provider("opencollective", errors.New("not authenticated"))
	}
	return data.Me.ID, data.Me.Slug, nil
}

const opencollectiveAmountQuery = `
query($id: String!, $since: DateTime!) {
  individual(id: $id) {
    total: stats {
      totalAmountSpent(net: true, kind: CONTRIBUTION) { valueInCents }
    }
    month: stats {
      totalAmountSpent(net: true, kind: CONTRIBUTION, dateFrom: $since) { valueInCents }
    }
  }
}`

type opencollectiveAmount struct {
	ValueInCents float64 `json:"valueInCents"`
}

// cents converts a reported amount to positive integer cents. Net spending is
// reported as a negative value.
func (a opencollectiveAmount) cents() int64 {
	return int64(math.Round(math.Abs(a.ValueInCents)))
}

// GetUserSponsorshipAmount reads the public contribution stats of an individual.
func (s *OpenCollectiveService) GetUserSponsorshipAmount(ctx context.Context, opencollectiveID string) (*models.TotalAndMonthAmount, error) {
	if opencollectiveID == "" {
		return nil, apperror.Provider("opencollective", errors.New("no opencollective id"))
	}

	now := s.now()
	var data struct {
		Individual *struct {
			Total struct {
				TotalAmountSpent opencollectiveAmount `json:"totalAmountSpent"`
			} `json:"total"`
			Month struct {
				TotalAmountSpent opencollectiveAmount `json:"totalAmountSpent"`
			} `json:"month"`
		} `json:"individual"`
	}
	variables := map[string]any{
		"id":    opencollectiveID,
		"since": startOfMonth(now).Format(time.RFC3339),
	}
	if err := s.graphql(ctx, "", opencollectiveAmountQuery, variables, &data); err != nil {
		return nil, apperror.Provider("opencollective", err)
	}
	if data.Individual == nil {
		return nil, apperror.Provider("opencollective", fmt.Errorf("individual %s not found", opencollectiveID))
	}

	return &models.TotalAndMonthAmount{
		Month:       data.Individual.Month.TotalAmountSpent.cents(),
		Total:       data.Individual.Total.TotalAmountSpent.cents(),
		LastChecked: now.UTC(),
	}, nil
}

const opencollectiveMemberOfQuery = `
query($id: String!) {
  individual(id: $id) {
    memberOf(role: BACKER, limit: 100) {
      nodes {
        account { slug imageUrl }
        totalDonations { valueInCents }
      }
    }
  }
}`

// GetUserSponsorshipsAsSponsor lists up to 100 collectives the individual backs.
func (s *OpenCollectiveService) GetUserSponsorshipsAsSponsor(ctx context.Context, opencollectiveID string) ([]models.SponsorNode, error) {
	var data struct {
		Individual *struct {
			MemberOf struct {
				Nodes []struct {
					Account struct {
						Slug     string `json:"slug"`
						ImageURL string `json:"imageUrl"`
					} `json:"account"`
					TotalDonations opencollectiveAmount `json:"totalDonations"`
				} `json:"nodes"`
			} `json:"memberOf"`
		} `json:"individual"`
	}
	variables := map[string]any{"id": opencollectiveID}
	if err := s.graphql(ctx, "", opencollectiveMemberOfQuery, variables, &data); err != nil {
		return nil, apperror.Provider("opencollective", err)
	}
	if data.Individual == nil {
		return nil, apperror.Provider("opencollective", fmt.Errorf("individual %s not found", opencollectiveID))
	}

	nodes := make([]models.SponsorNode, 0, len(data.Individual.MemberOf.Nodes))
	for _, n := range data.Individual.MemberOf.Nodes {
		nodes = append(nodes, models.SponsorNode{
			User:      n.Account.Slug,
			URL:       opencollectiveProfileURL + n.Account.Slug,
			AvatarURL: n.Account.ImageURL,
			Total:     n.TotalDonations.cents(),
		})
	}
	return nodes, nil
}

// graphql runs query against the OpenCollective API. Public queries pass an empty token.
func (s *OpenCollectiveService) graphql(ctx context.Context, accessToken, query string, variables map[string]any, out any) error {
	client := newGraphQLClient(ctx, s.graphQLURL, s.httpClient, accessToken)
	return execGraphQL(ctx, client, query, variables, out)
}
