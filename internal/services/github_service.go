package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/donorlog/donorlog/internal/apperror"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/pkg/config"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

type GitHubService struct {
	cfg         config.GitHubConfig
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	now         func() time.Time
}

func NewGitHubService(cfg config.GitHubConfig, timeout time.Duration) *GitHubService {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.CallbackURL,
		Scopes:       nil, // public data only
		Endpoint:     githuboauth.Endpoint,
	}
	httpClient := &http.Client{Timeout: timeout}

	return &GitHubService{
		cfg:         cfg,
		oauthConfig: oauthConfig,
		httpClient:  httpClient,
		now:         time.Now,
	}
}

func (s *GitHubService) Name() models.Provider {
	return models.ProviderGitHub
}

// Login returns the GitHub OAuth authorization URL
func (s *GitHubService) Login(state string) string {
	return s.oauthConfig.AuthCodeURL(state)
}

// GetAccessToken exchanges an authorization code for an access token
func (s *GitHubService) GetAccessToken(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return "", apperror.Provider("github", fmt.Errorf("failed to exchange code for token: %w", err))
	}
	return token.AccessToken, nil
}

// GetIDAndUsername retrieves the authenticated user's id and login
func (s *GitHubService) GetIDAndUsername(ctx context.Context, accessToken string) (string, string, error) {
	client := s.restClient(s.httpClient).WithAuthToken(accessToken)

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return "", "", apperror.Provider("github", fmt.Errorf("failed to get user info: %w", err))
	}
	if user.GetID() == 0 || user.GetLogin() == "" {
		return "", "", apperror.Provider("github", errors.New("user info is missing id or login"))
	}
	return strconv.FormatInt(user.GetID(), 10), user.GetLogin(), nil
}

const githubSponsorshipAmountQuery = `
query($since: DateTime!) {
  viewer {
    totalSponsorship: totalSponsorshipAmountAsSponsorInCents
    monthSponsorship: totalSponsorshipAmountAsSponsorInCents(since: $since)
  }
}`

// GetUserSponsorshipAmount reports what the token's owner has sponsored in total
// and since the start of the month.
func (s *GitHubService) GetUserSponsorshipAmount(ctx context.Context, accessToken string) (*models.TotalAndMonthAmount, error) {
	if accessToken == "" {
		return nil, apperror.Provider("github", errors.New("no auth token stored"))
	}

	now := s.now()
	var data struct {
		Viewer struct {
			TotalSponsorship int64 `json:"totalSponsorship"`
			MonthSponsorship int64 `json:"monthSponsorship"`
		} `json:"viewer"`
	}
	variables := map[string]any{"since": startOfMonth(now).Format(time.RFC3339)}
	if err := s.graphql(ctx, accessToken, githubSponsorshipAmountQuery, variables, &data); err != nil {
		return nil, apperror.Provider("github", err)
	}

	return &models.TotalAndMonthAmount{
		Month:       data.Viewer.MonthSponsorship,
		Total:       data.Viewer.TotalSponsorship,
		LastChecked: now.UTC(),
	}, nil
}

const githubSponsorablesQuery = `
query {
  viewer {
    sponsorshipsAsSponsor(first: 100, activeOnly: false) {
      nodes {
        sponsorable {
          ... on User { login url avatarUrl }
          ... on Organization { login url avatarUrl }
        }
      }
    }
  }
}`

// GetUserSponsorshipsAsSponsor lists up to 100 accounts the token's owner has
// sponsored, each with the lifetime amount given to it.
func (s *GitHubService) GetUserSponsorshipsAsSponsor(ctx context.Context, accessToken string) ([]models.SponsorNode, error) {
	var data struct {
		Viewer struct {
			SponsorshipsAsSponsor struct {
				Nodes []struct {
					Sponsorable struct {
						Login     string `json:"login"`
						URL       string `json:"url"`
						AvatarURL string `json:"avatarUrl"`
					} `json:"sponsorable"`
				} `json:"nodes"`
			} `json:"sponsorshipsAsSponsor"`
		} `json:"viewer"`
	}
	if err := s.graphql(ctx, accessToken, githubSponsorablesQuery, nil, &data); err != nil {
		return nil, apperror.Provider("github", err)
	}

	nodes := make([]models.SponsorNode, 0, len(data.Viewer.SponsorshipsAsSponsor.Nodes))
	for _, n := range data.Viewer.SponsorshipsAsSponsor.Nodes {
		if n.Sponsorable.Login == "" {
			continue
		}
		nodes = append(nodes, models.SponsorNode{
			User:      n.Sponsorable.Login,
			URL:       n.Sponsorable.URL,
			AvatarURL: n.Sponsorable.AvatarURL,
		})
	}
	if len(nodes) == 0 {
		return nodes, nil
	}

	totals, err := s.sponsorshipTotals(ctx, accessToken, nodes)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Total = totals[sponsorAlias(i)]
	}
	return nodes, nil
}

// sponsorshipTotals asks for every sponsorable's lifetime amount in one query,
// aliasing each field by position.
func (s *GitHubService) sponsorshipTotals(ctx context.Context, accessToken string, nodes []models.SponsorNode) (map[string]int64, error) {
	var b strings.Builder
	b.WriteString("query {\n  viewer {\n")
	for i, n := range nodes {
		login, err := json.Marshal(n.User)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "    %s: totalSponsorshipAmountAsSponsorInCents(sponsorableLogins: [%s])\n", sponsorAlias(i), login)
	}
	b.WriteString("  }\n}")

	var data struct {
		Viewer map[string]int64 `json:"viewer"`
	}
	if err := s.graphql(ctx, accessToken, b.String(), nil, &data); err != nil {
		return nil, apperror.Provider("github", err)
	}
	return data.Viewer, nil
}

func (s *GitHubService) graphql(ctx context.Context, accessToken, query string, variables map[string]any, out any) error {
	client := newGraphQLClient(ctx, s.cfg.GraphQLURL, s.httpClient, accessToken)
	return execGraphQL(ctx, client, query, variables, out)
}

func sponsorAlias(i int) string {
	return "s" + strconv.Itoa(i)
}

// VerifyAuthToken checks with GitHub that the token is still valid for this OAuth app
func (s *GitHubService) VerifyAuthToken(ctx context.Context, accessToken string) error {
	transport := &github.BasicAuthTransport{
		Username:  s.cfg.ClientID,
		Password:  s.cfg.ClientSecret,
		Transport: s.httpClient.Transport,
	}
	client := s.restClient(&http.Client{Transport: transport, Timeout: s.httpClient.Timeout})

	if _, _, err := client.Authorizations.Check(ctx, s.cfg.ClientID, accessToken); err != nil {
		return apperror.Provider("github", fmt.Errorf("token verification failed: %w", err))
	}
	return nil
}

// restClient creates a go-github client against the configured API URL
func (s *GitHubService) restClient(httpClient *http.Client) *github.Client {
	client := github.NewClient(httpClient)
	if s.cfg.APIURL == "" {
		return client
	}
	base, err := url.Parse(strings.TrimSuffix(s.cfg.APIURL, "/") + "/")
	if err == nil {
		client.BaseURL = base
	}
	return client
}
