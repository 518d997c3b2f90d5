package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Roles carried in tokens
const (
	RoleAdmin = "admin"
	RoleGuest = "guest"
)

const issuer = "evshop-payment"

var ErrInvalidToken = errors.New("invalid token")

// Claims identify an admin (Subject = username) or a guest (Phone verified by OTP)
type Claims struct {
	Role  string `json:"role"`
	Phone string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and parses HS256 tokens
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// IssueGuest returns a token that lists orders for phone
func (i *Issuer) IssueGuest(phone string, ttl time.Duration) (string, error) {
	return i.issue(Claims{Role: RoleGuest, Phone: phone}, phone, ttl)
}

// IssueAdmin returns an admin token for username
func (i *Issuer) IssueAdmin(username string, ttl time.Duration) (string, error) {
	return i.issue(Claims{Role: RoleAdmin}, username, ttl)
}

func (i *Issuer) issue(claims Claims, subject string, ttl time.Duration) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse validates the signature, algorithm and expiry of token
func (i *Issuer) Parse(token string) (*Claims, error) {
	if len(i.secret) == 0 {
		return nil, fmt.Errorf("%w: jwt secret is not configured", ErrInvalidToken)
	}
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tkn.Valid || claims.Issuer != issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
