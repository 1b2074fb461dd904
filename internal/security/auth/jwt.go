package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// Claims identify the caller of an API request.
// WorkspaceID is empty for platform (superadmin) sessions.
type Claims struct {
	WorkspaceID  string      `json:"workspace_id,omitempty"`
	UserID       string      `json:"user_id"`
	Username     string      `json:"username"`
	Role         domain.Role `json:"role"`
	Impersonator string      `json:"impersonator,omitempty"`
	jwt.RegisteredClaims
}

// Issued returns when the token was minted, or the zero time
func (c *Claims) Issued() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

type TokenManager struct {
	secret string
	issuer string
	now    func() time.Time
}

func NewTokenManager(secret, issuer string) *TokenManager {
	if secret == "" {
		secret = "change-me-in-production"
	}
	if issuer == "" {
		issuer = "coldtrack"
	}
	return &TokenManager{secret: secret, issuer: issuer, now: time.Now}
}

// GenerateToken signs a token for the given identity
func (tm *TokenManager) GenerateToken(c Claims, expiresIn time.Duration) (string, error) {
	if c.UserID == "" || !c.Role.Valid() {
		return "", fmt.Errorf("user_id and a valid role required")
	}
	if c.Role != domain.RoleSuperadmin && c.WorkspaceID == "" {
		return "", fmt.Errorf("workspace_id required for role %s", c.Role)
	}
	// second precision so IssuedAt compares cleanly against stored timestamps
	now := tm.now().Truncate(time.Second)
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   c.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		Issuer:    tm.issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(tm.secret))
}

func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	}, jwt.WithIssuer(tm.issuer), jwt.WithTimeFunc(tm.now))
	if err != nil {
		return nil, fmt.Errorf("parse token failed: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func ExtractToken(authHeader string) (string, error) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return parts[1], nil
}
