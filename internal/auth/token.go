package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultIssuer = "hunt-service"

var (
	// ErrInvalidToken covers every token that does not verify.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotConfigured is returned when no signing secret is set.
	ErrNotConfigured = errors.New("token signing is not configured")
)

// Identity is the caller a verified token speaks for.
type Identity struct {
	UserID  string
	GuildID string
}

// claims is the token payload; the subject is the user id.
type claims struct {
	jwt.RegisteredClaims
	GuildID string `json:"guild_id"`
}

// Tokens issues and verifies HS256 tokens that bind a user to a guild.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokens(secret, issuer string) *Tokens {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for userID in guildID that expires after ttl.
func (t *Tokens) Issue(userID, guildID string, ttl time.Duration) (string, error) {
	if len(t.secret) == 0 {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(guildID) == "" {
		return "", errors.New("user and guild are required")
	}
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		GuildID: guildID,
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the identity.
func (t *Tokens) Verify(raw string) (Identity, error) {
	if len(t.secret) == 0 {
		return Identity{}, ErrNotConfigured
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &parsed, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if parsed.Subject == "" || parsed.GuildID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject or guild", ErrInvalidToken)
	}
	return Identity{UserID: parsed.Subject, GuildID: parsed.GuildID}, nil
}
