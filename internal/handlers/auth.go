package handlers

import (
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/donorlog/donorlog/internal/middleware"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/internal/services"
	"github.com/donorlog/donorlog/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	stateCookieName   = "donorlog_oauth_state"
	stateCookieMaxAge = 600
)

type AuthHandler struct {
	userService *services.UserService
	sessions    *middleware.SessionManager
	appHost     string
	secure      bool
}

func NewAuthHandler(userService *services.UserService, sessions *middleware.SessionManager, appDomain string, secure bool) *AuthHandler {
	appHost := ""
	if u, err := url.Parse(appDomain); err == nil {
		appHost = u.Host
	}
	return &AuthHandler{
		userService: userService,
		sessions:    sessions,
		appHost:     appHost,
		secure:      secure,
	}
}

// Login redirects to the provider's authorization page with a fresh state
func (h *AuthHandler) Login(provider services.OAuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := uuid.NewString()
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(stateCookieName, state, stateCookieMaxAge, "/", "", h.secure, true)
		c.Redirect(http.StatusTemporaryRedirect, provider.Login(state))
	}
}

// Callback completes the OAuth flow: it checks the state, links the identity to
// the current session's user and logs that user in.
func (h *AuthHandler) Callback(provider services.OAuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.WithField("provider", provider.Name())

		expected, _ := c.Cookie(stateCookieName)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(stateCookieName, "", -1, "/", "", h.secure, true)
		state := c.Query("state")
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authorization check failed."})
			return
		}

		code := c.Query("code")
		if code == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Missing authorization code."})
			return
		}
		redirectURL := h.redirectTarget(c)

		accessToken, err := provider.GetAccessToken(ctx, code)
		if err != nil {
			log.WithError(err).Warn("Failed to exchange authorization code")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Error while trying to retrieve user access token"})
			return
		}
		externalID, username, err := provider.GetIDAndUsername(ctx, accessToken)
		if err != nil {
			log.WithError(err).Warn("Failed to fetch user details")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Failed to fetch user details"})
			return
		}

		identity := models.ExternalIdentity{
			Provider:   provider.Name(),
			ExternalID: externalID,
			Username:   username,
		}
		if provider.Name() == models.ProviderGitHub {
			identity.AuthToken = &accessToken
		}
		// A missing amount is fetched again on the next overview.
		if amount, err := provider.GetUserSponsorshipAmount(ctx, identity.Credential()); err != nil {
			log.WithError(err).Warn("Failed to fetch sponsorship amount at login")
		} else {
			identity.Amount = amount
		}

		user, err := h.userService.Reconcile(ctx, identity, middleware.SessionUserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		if err := h.sessions.Set(c, user.UserID, user.Username); err != nil {
			respondError(c, err)
			return
		}

		log.WithFields(logrus.Fields{"user_id": user.UserID, "username": user.Username}).Info("User logged in")
		c.Redirect(http.StatusSeeOther, redirectURL)
	}
}

// Logout clears the session and goes back home
func (h *AuthHandler) Logout(c *gin.Context) {
	h.sessions.Clear(c)
	c.Redirect(http.StatusSeeOther, "/")
}

// redirectTarget returns the Referer when it points back at this application.
func (h *AuthHandler) redirectTarget(c *gin.Context) string {
	referer := c.Request.Referer()
	if referer == "" {
		return "/"
	}
	u, err := url.Parse(referer)
	if err != nil {
		return "/"
	}
	if u.Host == "" || u.Host == c.Request.Host || (h.appHost != "" && u.Host == h.appHost) {
		return referer
	}
	return "/"
}
