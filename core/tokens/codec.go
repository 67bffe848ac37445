package tokens

import (
	"errors"
	"fmt"
	"strings"

	"merchant-guard/core/store"

	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	jwt.RegisteredClaims
}

func (c *claims) hasAudience(guardName string) bool {
	for _, a := range c.Audience {
		if a == guardName {
			return true
		}
	}
	return false
}

// codec signs bearer tokens with HS256. The jti is the token row id.
type codec struct {
	key    []byte
	issuer string
}

func newCodec(signingKey, issuer string) (*codec, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, errors.New("tokens: signing key is required")
	}
	return &codec{key: []byte(signingKey), issuer: issuer}, nil
}

func (c *codec) sign(tok store.AccessToken) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        tok.ID,
		Subject:   tok.AccountID,
		Audience:  jwt.ClaimStrings{tok.Guard},
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
	}})
	s, err := t.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (c *codec) parse(bearer string) (*claims, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	var cl claims
	_, err := jwt.ParseWithClaims(bearer, &cl, func(*jwt.Token) (any, error) { return c.key, nil }, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if cl.ID == "" || cl.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &cl, nil
}
