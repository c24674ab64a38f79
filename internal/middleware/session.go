package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/donorlog/donorlog/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	sessionCookieName = "donorlog_session"
	sessionContextKey = "session"
)

// SessionData is what DonorLog keeps about a browser session.
type SessionData struct {
	SessionID   string    `json:"session_id"`
	TokenExpiry time.Time `json:"token_expiry"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
}

// Valid reports whether the session has an id and has not expired at now.
func (s *SessionData) Valid(now time.Time) bool {
	return s != nil && s.SessionID != "" && now.Before(s.TokenExpiry)
}

type sessionClaims struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}

// SessionManager stores sessions in a signed (HS256) cookie.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewSessionManager(cfg config.SessionConfig) *SessionManager {
	return &SessionManager{
		secret: []byte(cfg.Secret),
		ttl:    time.Duration(cfg.TTLMinutes) * time.Minute,
		secure: cfg.Secure,
		now:    time.Now,
	}
}

// Middleware loads a valid session from the cookie into the request context.
// Missing, tampered or expired cookies leave the request anonymous.
func (m *SessionManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if session := m.read(c); session != nil {
			c.Set(sessionContextKey, session)
		}
		c.Next()
	}
}

func (m *SessionManager) read(c *gin.Context) *SessionData {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie == "" {
		return nil
	}
	session, err := m.decode(cookie)
	if err != nil {
		return nil
	}
	return session
}

func (m *SessionManager) decode(token string) (*SessionData, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}

	session := &SessionData{
		SessionID:   claims.SessionID,
		TokenExpiry: claims.ExpiresAt.Time,
		UserID:      claims.UserID,
		Username:    claims.Username,
	}
	if !session.Valid(m.now()) {
		return nil, errors.New("session is not valid")
	}
	return session, nil
}

func (m *SessionManager) encode(session *SessionData) (string, error) {
	claims := sessionClaims{
		SessionID: session.SessionID,
		UserID:    session.UserID,
		Username:  session.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(session.TokenExpiry),
			IssuedAt:  jwt.NewNumericDate(m.now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Set stores the user in the session. A still valid session keeps its id and
// expiry; otherwise a new session starts.
func (m *SessionManager) Set(c *gin.Context, userID int64, username string) error {
	now := m.now()
	session := &SessionData{
		SessionID:   uuid.NewString(),
		TokenExpiry: now.Add(m.ttl),
		UserID:      userID,
		Username:    username,
	}
	if current := GetSession(c); current.Valid(now) {
		session.SessionID = current.SessionID
		session.TokenExpiry = current.TokenExpiry
	}

	token, err := m.encode(session)
	if err != nil {
		return err
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, int(session.TokenExpiry.Sub(now).Seconds()), "/", "", m.secure, true)
	c.Set(sessionContextKey, session)
	return nil
}

// Clear removes the session cookie
func (m *SessionManager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, "", -1, "/", "", m.secure, true)
	c.Set(sessionContextKey, (*SessionData)(nil))
}

// GetSession retrieves session data from context
func GetSession(c *gin.Context) *SessionData {
	session, exists := c.Get(sessionContextKey)
	if !exists {
		return nil
	}

	if sessionData, ok := session.(*SessionData); ok {
		return sessionData
	}

	return nil
}

// SessionUserID returns the logged-in user's id, or 0 for anonymous requests.
func SessionUserID(c *gin.Context) int64 {
	if session := GetSession(c); session != nil {
		return session.UserID
	}
	return 0
}
