// Package security issues and validates the JWT token pairs whose JTIs key
// the revocation store and session registry.
package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired, or fails
// signature, issuer, audience, or kind checks.
var ErrInvalidToken = errors.New("invalid token")

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// Claims are the JWT claims carried by both tokens of a pair. The pair
// shares one JTI, so revoking it kills access and refresh together.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
	Kind  string `json:"kind"`
}

// TokenPair is one issued access/refresh pair and the session identity it
// shares.
type TokenPair struct {
	JTI              string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	// RefreshHash is the SHA-256 of the refresh token, stored on the
	// session so rotation can bind the presented token to it.
	RefreshHash string
}

// TokenProvider signs and validates token pairs with RS256 or ES256.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowF       func() time.Time
}

// NewTokenProvider returns a TokenProvider signing with the given private key.
// issuer and audience are set on claims and validated on every parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		nowF:       time.Now().UTC,
	}
}

// IssuePair mints an access/refresh pair for the user. Both tokens carry the
// same fresh JTI; the caller registers a session under it.
func (p *TokenProvider) IssuePair(userID, orgID string) (TokenPair, error) {
	jti, err := generateJTI()
	if err != nil {
		return TokenPair{}, err
	}
	now := p.nowF()
	pair := TokenPair{
		JTI:              jti,
		AccessExpiresAt:  now.Add(p.accessTTL),
		RefreshExpiresAt: now.Add(p.refreshTTL),
	}

	pair.AccessToken, err = p.sign(p.claims(jti, userID, orgID, kindAccess, now, pair.AccessExpiresAt))
	if err != nil {
		return TokenPair{}, err
	}
	pair.RefreshToken, err = p.sign(p.claims(jti, userID, orgID, kindRefresh, now, pair.RefreshExpiresAt))
	if err != nil {
		return TokenPair{}, err
	}
	pair.RefreshHash = HashRefreshToken(pair.RefreshToken)
	return pair, nil
}

// ValidateAccess parses and validates an access token.
func (p *TokenProvider) ValidateAccess(tokenString string) (*Claims, error) {
	return p.validate(tokenString, kindAccess)
}

// ValidateRefresh parses and validates a refresh token. An access token
// presented here fails: the kinds are not interchangeable.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*Claims, error) {
	return p.validate(tokenString, kindRefresh)
}

func (p *TokenProvider) claims(jti, userID, orgID, kind string, now, expiresAt time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		OrgID: orgID,
		Kind:  kind,
	}
}

func (p *TokenProvider) sign(claims Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

func (p *TokenProvider) validate(tokenString, kind string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		default:
			return nil, ErrInvalidToken
		}
	}, jwt.WithTimeFunc(p.nowF))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != p.issuer || claims.Kind != kind || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	audOK := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
