package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

type TokenService struct {
	secretKey []byte
	issuer    string
	subject   string
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenService(secret, subject string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenService{
		secretKey: []byte(secret),
		issuer:    "aima-dashboard",
		subject:   subject,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *TokenService) GenerateToken(subject string) (string, error) {
	if len(s.secretKey) == 0 {
		return "", errors.New("no signing secret configured")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
		"iss": s.issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken parses and validates the JWT string and returns its subject.
func (s *TokenService) ValidateToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", domain.ErrTokenExpired
		}
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("subject not found in token")
	}
	return sub, nil
}

// CheckExpiry reads the exp claim of a token issued elsewhere. The
// signature is not verified; the server does that.
func (s *TokenService) CheckExpiry(tokenStr string) (time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed token: %w", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	if !exp.After(s.now()) {
		return exp.Time, domain.ErrTokenExpired
	}
	return exp.Time, nil
}

// BearerToken resolves the token to present to the platform: the
// configured one when set, otherwise a freshly minted one when a secret is
// known, otherwise none.
func (s *TokenService) BearerToken(configured string) (string, error) {
	if configured != "" {
		if _, err := s.CheckExpiry(configured); err != nil {
			return "", err
		}
		return configured, nil
	}
	if len(s.secretKey) == 0 {
		return "", nil
	}
	return s.GenerateToken(s.subject)
}
