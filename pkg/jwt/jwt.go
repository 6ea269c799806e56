package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingToken = errors.New("missing token")
)

// Claims represents JWT claims. UserID mirrors the subject so tokens
// minted by the account service (which sets user_id) and plain
// subject-only tokens are both accepted.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
	Type   string `json:"type,omitempty"` // "access" or "refresh"
}

// Identity returns the user the token was issued for.
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Manager signs and verifies HS256 access tokens.
type Manager struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewManager creates a new JWT manager. An empty issuer disables the
// issuer check.
func NewManager(secret, issuer string) *Manager {
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
	}
}

// Issue creates an access token for userID valid for ttl.
func (m *Manager) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Type:   "access",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken validates a token and returns its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(m.leeway),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Identity() == "" {
		return nil, ErrInvalidToken
	}
	if claims.Type != "" && claims.Type != "access" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
