package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MrChampion2020/etokserver/pkg/jwt"
	"github.com/MrChampion2020/etokserver/pkg/response"
)

const (
	UserIDKey     = "user_id"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "

	// Used only when no token validator is configured.
	devUserHeader = "X-User-ID"
	devUserQuery  = "user_id"
	tokenQuery    = "token"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// TokenValidator verifies an access token.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// Authenticator resolves the caller identity of an HTTP request.
// With a nil validator it trusts the X-User-ID header or user_id query
// parameter, which is meant for local development only.
type Authenticator struct {
	validator TokenValidator
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(v TokenValidator) *Authenticator {
	return &Authenticator{validator: v}
}

// Identify returns the user ID bound to r. Browsers cannot set headers on
// WebSocket upgrades, so the token is also accepted as ?token=.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	if a.validator == nil {
		if id := strings.TrimSpace(r.Header.Get(devUserHeader)); id != "" {
			return id, nil
		}
		if id := strings.TrimSpace(r.URL.Query().Get(devUserQuery)); id != "" {
			return id, nil
		}
		return "", ErrUnauthenticated
	}

	token := ""
	if h := r.Header.Get(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		token = strings.TrimPrefix(h, BearerPrefix)
	} else {
		token = r.URL.Query().Get(tokenQuery)
	}

	claims, err := a.validator.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.Identity(), nil
}

// RequireAuth returns a Gin middleware that rejects unauthenticated calls
// and stores the user ID in the context.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.Identify(c.Request)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
