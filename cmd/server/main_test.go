package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/donorlog/donorlog/internal/middleware"
	"github.com/donorlog/donorlog/internal/repositories"
	"github.com/donorlog/donorlog/internal/services"
	"github.com/donorlog/donorlog/pkg/config"
	"github.com/donorlog/donorlog/pkg/database"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.NewDefaultConfig()
	cfg.Session.Secret = "0123456789abcdef-test"
	cfg.GitHub.ClientID = "client"
	cfg.GitHub.CallbackURL = cfg.Server.AppDomain + config.GitHubRedirectPath

	github := services.NewGitHubService(cfg.GitHub, time.Second)
	opencollective := services.NewOpenCollectiveService(cfg.OpenCollective, time.Second)
	userRepo := repositories.NewUserRepository(db)
	sessions := middleware.NewSessionManager(cfg.Session)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(sessions.Middleware())
	setupRoutes(router, routeDeps{
		cfg:                cfg,
		db:                 db,
		sessions:           sessions,
		userService:        services.NewUserService(userRepo),
		rankingService:     services.NewRankingService(repositories.NewRankingRepository(db)),
		sponsorshipService: services.NewSponsorshipService(userRepo, github, opencollective),
		github:             github,
		opencollective:     opencollective,
	})
	return router
}

func TestRoutes(t *testing.T) {
	router := newTestRouter(t)

	testCases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/users/nobody", http.StatusNotFound},
		{http.MethodGet, "/profile", http.StatusUnauthorized},
		{http.MethodPost, "/profile/username", http.StatusUnauthorized},
		{http.MethodGet, "/leaderboard/export", http.StatusOK},
		{http.MethodGet, "/login/github", http.StatusTemporaryRedirect},
		{http.MethodGet, "/oauth/gh_token?code=x&state=y", http.StatusUnauthorized},
		{http.MethodGet, "/logout", http.StatusSeeOther},
		{http.MethodGet, "/does/not/exist", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestGitHubLoginRedirect(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login/github", nil))
	location := w.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://github.com/login/oauth/authorize?"))
	assert.Contains(t, location, "client_id=client")
}

func TestAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://localhost:8080"}, allowedOrigins(config.ServerConfig{AppDomain: "http://localhost:8080"}))
	assert.Equal(t, []string{"https://a.example"}, allowedOrigins(config.ServerConfig{
		AppDomain:      "http://localhost:8080",
		AllowedOrigins: []string{"https://a.example"},
	}))
}
