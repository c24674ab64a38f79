package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackCreatesUserAndSession(t *testing.T) {
	app := newTestApp(t)

	session := app.login(t, "github", nil)
	assert.True(t, session.HttpOnly)

	user, err := app.users.LookupUserByUsername(context.Background(), "test_user_1")
	require.NoError(t, err)
	require.NotNil(t, user.GithubUser)
	assert.Equal(t, "token_abc", *user.GithubUser.GithubAuthToken)
	assert.Equal(t, int64(3344), user.GithubUser.Amount.Total)

	w := app.do(http.MethodGet, "/profile", "", session)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallbackLinksSecondProviderToSessionUser(t *testing.T) {
	app := newTestApp(t)

	session := app.login(t, "github", nil)
	session = app.login(t, "opencollective", session)

	user, err := app.users.LookupUserByUsername(context.Background(), "test_user_1")
	require.NoError(t, err)
	require.NotNil(t, user.OpencollectiveUser)
	assert.Equal(t, "oc_id_1", user.OpencollectiveUser.OpencollectiveID)

	var count int
	require.NoError(t, app.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCallbackRejectsBadState(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/oauth/gh_token?code=abc&state=forged", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(http.MethodGet, "/login/github", "")
	state := findCookie(w, stateCookieName)
	require.NotNil(t, state)

	w = app.do(http.MethodGet, "/oauth/gh_token?code=abc&state=forged", "", state)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"detail": "Authorization check failed."}`, w.Body.String())
}

func TestCallbackRequiresCode(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/login/github", "")
	state := findCookie(w, stateCookieName)
	w = app.do(http.MethodGet, "/oauth/gh_token?state="+state.Value, "", state)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallbackRedirectsToOwnReferer(t *testing.T) {
	app := newTestApp(t)

	testCases := []struct {
		referer  string
		location string
	}{
		{"", "/"},
		{"http://donorlog.test/users/someone", "http://donorlog.test/users/someone"},
		{"https://github.com/login/oauth/authorize", "/"},
	}

	for _, tc := range testCases {
		t.Run(tc.referer, func(t *testing.T) {
			w := app.do(http.MethodGet, "/login/github", "")
			state := findCookie(w, stateCookieName)

			req := newRequest(http.MethodGet, "/oauth/gh_token?code=abc&state="+state.Value)
			req.AddCookie(state)
			if tc.referer != "" {
				req.Header.Set("Referer", tc.referer)
			}
			rec := serve(app, req)
			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, tc.location, rec.Header().Get("Location"))
		})
	}
}

func TestLogoutClearsSession(t *testing.T) {
	app := newTestApp(t)
	session := app.login(t, "github", nil)

	w := app.do(http.MethodGet, "/logout", "", session)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	cleared := findCookie(w, "donorlog_session")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}
