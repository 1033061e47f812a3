// Package bearer issues and validates the bearer tokens used by the log
// and metric receivers (C2) to authenticate ingestion sources.
package bearer

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config controls token issuance.
type Config struct {
	SecretKey   string
	TokenExpiry time.Duration
	Issuer      string
}

// DefaultConfig returns a Config with conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		SecretKey:   "change-me-in-production",
		TokenExpiry: 24 * time.Hour,
		Issuer:      "ingestpipe-catalogue",
	}
}

// Claims are the custom JWT claims carried by a source's bearer token.
type Claims struct {
	SourceID string `json:"source_id"`
	Tier     string `json:"tier"`
	jwt.RegisteredClaims
}

// Manager issues and validates source bearer tokens.
type Manager struct {
	config *Config
}

// NewManager creates a new token Manager.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{config: config}
}

// IssueToken generates a signed bearer token for sourceID at the given tier.
func (m *Manager) IssueToken(sourceID, tier string) (string, error) {
	return m.issue(sourceID, tier, m.config.TokenExpiry)
}

func (m *Manager) issue(sourceID, tier string, expiry time.Duration) (string, error) {
	now := time.Now()

	claims := &Claims{
		SourceID: sourceID,
		Tier:     tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   sourceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.SecretKey))
}

// ValidateToken parses and validates a bearer token, returning its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.SecretKey), nil
	})

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// TokenExpirySeconds returns the configured token lifetime in seconds.
func (m *Manager) TokenExpirySeconds() int64 {
	return int64(m.config.TokenExpiry.Seconds())
}
