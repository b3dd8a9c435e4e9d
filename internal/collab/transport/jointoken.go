package transport

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// joinClaims binds an agent id to a session id for the websocket surface,
// matching the short-lived token shape createadminhandler.go signs for the
// HTTP auth surface (HS256, MapClaims, iat/exp).
type joinClaims struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session join tokens with a single shared
// secret. One Issuer per running hub.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds an issuer. ttl defaults to 5 minutes when <= 0.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// IssueJoinToken signs a short-lived token binding agentID to sessionID.
func (i *TokenIssuer) IssueJoinToken(agentID, sessionID string) (string, error) {
	now := time.Now()
	claims := joinClaims{
		AgentID:   agentID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ParseJoinToken verifies tokenString and returns the agent id it was bound
// to. Rejects expired, malformed, or mis-signed tokens, and tokens bound to
// a session other than expectSessionID.
func (i *TokenIssuer) ParseJoinToken(tokenString, expectSessionID string) (agentID string, err error) {
	var claims joinClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("join token invalid: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("join token invalid")
	}
	if claims.SessionID != expectSessionID {
		return "", fmt.Errorf("join token is not bound to session %s", expectSessionID)
	}
	return claims.AgentID, nil
}
