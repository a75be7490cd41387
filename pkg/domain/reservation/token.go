package reservation

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carried by a node credential. UserKey is a random opaque id
// minted per token so that node-side calls cannot be correlated back to
// the login by inspecting the token.
type Claims struct {
	jwt.RegisteredClaims
	UserKey string `json:"user_key"`
}

type hs256Issuer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

type IssuerOption func(*hs256Issuer)

// IssuerWithClock replaces the time source. For tests.
func IssuerWithClock(now func() time.Time) IssuerOption {
	return func(i *hs256Issuer) {
		i.now = now
	}
}

// NewHS256Issuer signs node credentials with a symmetric key.
func NewHS256Issuer(key []byte, issuer string, options ...IssuerOption) CredentialIssuer {
	i := &hs256Issuer{key: key, issuer: issuer, now: time.Now}
	for _, o := range options {
		o(i)
	}
	return i
}

var _ CredentialIssuer = &hs256Issuer{}

func (i *hs256Issuer) Sign(login string, validity time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   login,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		UserKey: uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

func (i *hs256Issuer) Decode(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(
		token, claims,
		func(t *jwt.Token) (interface{}, error) {
			return i.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid node credential")
	}
	return claims.Subject, nil
}
