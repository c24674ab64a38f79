package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/donorlog/donorlog/internal/middleware"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/internal/repositories"
	"github.com/donorlog/donorlog/internal/services"
	"github.com/donorlog/donorlog/pkg/config"
	"github.com/donorlog/donorlog/pkg/database"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name         models.Provider
	id           string
	username     string
	amount       models.TotalAndMonthAmount
	sponsorships []models.SponsorNode
}

func (f *fakeProvider) Name() models.Provider { return f.name }

func (f *fakeProvider) Login(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeProvider) GetAccessToken(ctx context.Context, code string) (string, error) {
	return "token_" + code, nil
}

func (f *fakeProvider) GetIDAndUsername(ctx context.Context, accessToken string) (string, string, error) {
	return f.id, f.username, nil
}

func (f *fakeProvider) GetUserSponsorshipAmount(ctx context.Context, credential string) (*models.TotalAndMonthAmount, error) {
	amount := f.amount
	amount.LastChecked = time.Now().UTC()
	return &amount, nil
}

func (f *fakeProvider) GetUserSponsorshipsAsSponsor(ctx context.Context, credential string) ([]models.SponsorNode, error) {
	return f.sponsorships, nil
}

type testApp struct {
	router  *gin.Engine
	db      *database.DB
	users   *services.UserService
	ranking *services.RankingService
	github  *fakeProvider
	oc      *fakeProvider
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "handlers_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	github := &fakeProvider{
		name:     models.ProviderGitHub,
		id:       "gh_id_1",
		username: "test_user_1",
		amount:   models.TotalAndMonthAmount{Month: 1122, Total: 3344},
	}
	oc := &fakeProvider{
		name:     models.ProviderOpenCollective,
		id:       "oc_id_1",
		username: "test_oc_user_1",
		amount:   models.TotalAndMonthAmount{Month: 1122, Total: 3344},
	}

	userRepo := repositories.NewUserRepository(db)
	users := services.NewUserService(userRepo)
	ranking := services.NewRankingService(repositories.NewRankingRepository(db))
	sponsorships := services.NewSponsorshipService(userRepo, github, oc)
	sessions := middleware.NewSessionManager(config.SessionConfig{Secret: "0123456789abcdef-test", TTLMinutes: 60})

	home := NewHomeHandler(sponsorships, ranking, sessions, 10)
	auth := NewAuthHandler(users, sessions, "http://donorlog.test", false)
	usersHandler := NewUsersHandler(sponsorships)
	profile := NewProfileHandler(users, sponsorships, sessions)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(sessions.Middleware())
	router.GET("/", home.Index)
	router.GET("/login/github", auth.Login(github))
	router.GET("/login/opencollective", auth.Login(oc))
	router.GET("/oauth/gh_token", auth.Callback(github))
	router.GET("/oauth/oc_token", auth.Callback(oc))
	router.GET("/logout", auth.Logout)
	router.GET("/users/:username", usersHandler.Overview)
	router.GET("/leaderboard/export", NewExportHandler(ranking).Leaderboard)
	router.GET("/health", NewHealthHandler(db).HealthCheck)
	protected := router.Group("/profile", middleware.AuthRequired(LoginToViewProfile))
	protected.GET("", profile.Profile)
	protected.POST("/username", profile.UpdateUsername)
	router.NoRoute(NewNotFoundHandler().NotFound)

	return &testApp{router: router, db: db, users: users, ranking: ranking, github: github, oc: oc}
}

// do sends a request carrying cookies and returns the recorder.
func (a *testApp) do(method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// login runs the OAuth flow for provider ("github" or "opencollective") and
// returns the resulting session cookie.
func (a *testApp) login(t *testing.T, provider string, session *http.Cookie) *http.Cookie {
	t.Helper()
	w := a.do(http.MethodGet, "/login/"+provider, "")
	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	state := findCookie(w, stateCookieName)
	require.NotNil(t, state)

	callback := map[string]string{"github": "/oauth/gh_token", "opencollective": "/oauth/oc_token"}[provider]
	w = a.do(http.MethodGet, callback+"?code=abc&state="+url.QueryEscape(state.Value), "", state, session)
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())

	cookie := findCookie(w, "donorlog_session")
	require.NotNil(t, cookie)
	return cookie
}

func newRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

func serve(a *testApp, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}
