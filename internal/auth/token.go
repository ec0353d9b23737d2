// Package auth issues and verifies JWT bearer tokens and gates routes on them.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrWrongTokenUse = errors.New("wrong token type")
)

// Principal is the identity carried by a verified token. It lives for one request only.
type Principal struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type Claims struct {
	Email string `json:"email"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is returned by Issue and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Verifier is what the route gates need.
type Verifier interface {
	Verify(token string) (Principal, error)
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue mints an access and a refresh token for p.
func (i *Issuer) Issue(p Principal) (TokenPair, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return TokenPair{}, errors.New("user id is required")
	}
	if len(i.secret) == 0 {
		return TokenPair{}, errors.New("jwt secret not configured")
	}

	now := i.now()
	access, accessExp, err := i.sign(p, tokenTypeAccess, now, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(p, tokenTypeRefresh, now, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(p Principal, typ string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Email: p.Email,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks an access token and returns its principal.
func (i *Issuer) Verify(token string) (Principal, error) {
	return i.verify(token, tokenTypeAccess)
}

// Refresh exchanges a valid refresh token for a new pair.
func (i *Issuer) Refresh(refreshToken string) (TokenPair, error) {
	p, err := i.verify(refreshToken, tokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return i.Issue(p)
}

func (i *Issuer) verify(token, typ string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != typ {
		return Principal{}, ErrWrongTokenUse
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Principal{UserID: claims.Subject, Email: claims.Email}, nil
}
