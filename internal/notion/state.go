package notion

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidState is returned for OAuth state values that were not issued
// by this bot, were tampered with, or expired.
var ErrInvalidState = errors.New("invalid oauth state")

const stateIssuer = "pagewatch"

type stateClaims struct {
	jwt.RegisteredClaims
	SubjectID int64 `json:"sid"`
}

// StateSigner issues and checks the state parameter that carries the
// subject id through the authorization round trip.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner creates a signer. Tokens expire after ttl.
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a state token for subjectID.
func (s *StateSigner) Sign(subjectID int64) (string, error) {
	now := s.now()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    stateIssuer,
			Subject:   strconv.FormatInt(subjectID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		SubjectID: subjectID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return token, nil
}

// Verify returns the subject id a state token was issued for.
func (s *StateSigner) Verify(token string) (int64, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if claims.SubjectID == 0 {
		return 0, fmt.Errorf("%w: missing subject", ErrInvalidState)
	}
	return claims.SubjectID, nil
}
