package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userContextKey = "auth.user"

// Middleware resolves the session cookie into the request's user. Requests
// without a valid session continue anonymously.
func (s *Service) Middleware(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}
		u, err := s.Resolve(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(userContextKey, &u)
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired), errors.Is(err, ErrUserNotFound):
			ClearCookie(c, cookieName)
		default:
			s.logger.Warn("resolve session failed", zap.Error(err))
		}
		c.Next()
	}
}

// UserFrom returns the signed-in user, or nil for guests.
func UserFrom(c *gin.Context) *User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	u, _ := v.(*User)
	return u
}

// SetUser stores u on the request context.
func SetUser(c *gin.Context, u *User) {
	c.Set(userContextKey, u)
}

// Required stops guests. API and JSON requests get 401, pages are sent to loginURL.
func Required(loginURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserFrom(c) != nil {
			c.Next()
			return
		}
		if wantsJSON(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Redirect(http.StatusFound, loginURL)
		c.Abort()
	}
}

// Guest sends signed-in users away from the login and register pages.
func Guest(homeURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserFrom(c) == nil {
			c.Next()
			return
		}
		c.Redirect(http.StatusFound, homeURL)
		c.Abort()
	}
}

// SetCookie writes the session cookie.
func SetCookie(c *gin.Context, name string, sess Session, secure bool) {
	maxAge := int(sess.ExpiresAt.Sub(sess.CreatedAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, sess.Token, maxAge, "/", "", secure, true)
}

// ClearCookie expires the session cookie.
func ClearCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", false, true)
}

func wantsJSON(c *gin.Context) bool {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		return true
	}
	if c.GetHeader("X-Inertia") != "" {
		return false
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
