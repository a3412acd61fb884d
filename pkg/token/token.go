// Package token issues and verifies the compact HMAC-signed tokens used by
// running jobs (X-Job-Key) and administrators (X-Admin-Key).
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// JobTokenTTL is how long a worker can call back after dispatch.
	JobTokenTTL = 24 * time.Hour

	// AdminTokenTTL bounds an admin session.
	AdminTokenTTL = 1 * time.Hour
)

// ErrInvalidToken covers malformed, expired, wrongly-signed, and
// wrongly-scoped tokens.
var ErrInvalidToken = errors.New("invalid token")

// Signer signs and verifies tokens with the process-wide secret key.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the signer clock. Test use only.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// JobToken issues a token whose payload is {job_id, exp}.
func (s *Signer) JobToken(jobID string) (string, error) {
	claims := jwt.MapClaims{
		"job_id": jobID,
		"exp":    s.now().Add(JobTokenTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign job token: %w", err)
	}
	return signed, nil
}

// AdminToken issues a token whose payload is {exp} only.
func (s *Signer) AdminToken() (string, error) {
	claims := jwt.MapClaims{
		"exp": s.now().Add(AdminTokenTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// VerifyJobToken checks that raw decodes, is unexpired, and was issued for
// exactly jobID.
func (s *Signer) VerifyJobToken(raw, jobID string) error {
	claims, err := s.parse(raw)
	if err != nil {
		return err
	}
	got, ok := claims["job_id"].(string)
	if !ok || got != jobID {
		return fmt.Errorf("token not issued for job %s: %w", jobID, ErrInvalidToken)
	}
	return nil
}

// VerifyAdminToken checks that raw decodes and is unexpired.
func (s *Signer) VerifyAdminToken(raw string) error {
	_, err := s.parse(raw)
	return err
}

func (s *Signer) parse(raw string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(raw,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("decode token: %w", ErrInvalidToken)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims shape: %w", ErrInvalidToken)
	}
	return claims, nil
}
