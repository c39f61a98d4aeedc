package security

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidToken is returned when a token is malformed, has a bad signature,
	// or carries the wrong issuer, audience, or token use.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when an otherwise valid token is past its exp.
	ErrExpiredToken = errors.New("token expired")
)

// TokenKind selects the key pair and lifetime used for a token.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims is the JWT body for both token kinds. ID carries the jti, Subject the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email     string    `json:"email,omitempty"`
	SessionID string    `json:"ssid"`
	Use       TokenKind `json:"token_use"`
}

// Subject is what the caller wants embedded in a new token pair. An empty
// SessionID makes the issuer generate one.
type Subject struct {
	UserID    string
	Email     string
	SessionID string
}

// TokenResponse is one signed token plus the metadata callers persist or return.
type TokenResponse struct {
	Token     string
	TokenID   string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is an access/refresh pair sharing one session id.
type TokenPair struct {
	Access    TokenResponse
	Refresh   TokenResponse
	SessionID string
}

// KeyPair is the asymmetric key material for one token kind.
type KeyPair struct {
	Private crypto.Signer
	Public  crypto.PublicKey
}

// IssuerConfig holds the claims and lifetimes shared by every issued token.
type IssuerConfig struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type signingKey struct {
	KeyPair
	method jwt.SigningMethod
	ttl    time.Duration
}

// Issuer signs and verifies access and refresh JWTs. Each kind has its own key
// pair so a leaked refresh key cannot mint access tokens and vice versa.
type Issuer struct {
	keys     map[TokenKind]signingKey
	issuer   string
	audience string
	now      func() time.Time
}

// IssuerOption customizes an Issuer.
type IssuerOption func(*Issuer)

// WithClock overrides the time source used for iat/exp and for verification.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer returns an Issuer for the given key pairs. Both pairs must be RSA,
// ECDSA, or Ed25519 and both lifetimes must be positive.
func NewIssuer(access, refresh KeyPair, cfg IssuerConfig, opts ...IssuerOption) (*Issuer, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("security: token lifetimes must be positive")
	}
	i := &Issuer{
		keys:     make(map[TokenKind]signingKey, 2),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}
	for kind, kp := range map[TokenKind]KeyPair{TokenKindAccess: access, TokenKindRefresh: refresh} {
		if kp.Private == nil || kp.Public == nil {
			return nil, fmt.Errorf("security: %s key pair is incomplete", kind)
		}
		method := SigningMethod(kp.Public)
		if method == nil {
			return nil, fmt.Errorf("security: %s key: %w", kind, ErrInvalidKey)
		}
		ttl := cfg.AccessTTL
		if kind == TokenKindRefresh {
			ttl = cfg.RefreshTTL
		}
		i.keys[kind] = signingKey{KeyPair: kp, method: method, ttl: ttl}
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// IssuePair signs a fresh access and refresh token for sub. Each token gets its
// own random jti; the session id is shared and generated when sub has none.
func (i *Issuer) IssuePair(sub Subject) (*TokenPair, error) {
	if sub.UserID == "" {
		return nil, errors.New("security: subject user id is required")
	}
	if sub.SessionID == "" {
		sub.SessionID = uuid.NewString()
	}
	now := i.now().UTC().Truncate(time.Second)
	access, err := i.issue(TokenKindAccess, sub, now)
	if err != nil {
		return nil, err
	}
	refresh, err := i.issue(TokenKindRefresh, sub, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh, SessionID: sub.SessionID}, nil
}

func (i *Issuer) issue(kind TokenKind, sub Subject, now time.Time) (TokenResponse, error) {
	key := i.keys[kind]
	jti := ulid.Make().String()
	// Expiry always comes from configuration, never from decoding the token.
	expiresAt := now.Add(key.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.UserID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     sub.Email,
		SessionID: sub.SessionID,
		Use:       kind,
	}
	signed, err := jwt.NewWithClaims(key.method, claims).SignedString(key.Private)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("security: sign %s token: %w", kind, err)
	}
	return TokenResponse{
		Token:     signed,
		TokenID:   jti,
		SessionID: sub.SessionID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks signature, expiry, issuer, audience, and token use for kind.
// It returns ErrExpiredToken for expired tokens and ErrInvalidToken otherwise.
func (i *Issuer) Verify(tokenString string, kind TokenKind) (*Claims, error) {
	key, ok := i.keys[kind]
	if !ok || tokenString == "" {
		return nil, ErrInvalidToken
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{key.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(i.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return key.Public, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Use != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
