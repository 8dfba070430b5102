package common

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SignedState is the verified content of an OAuth state parameter.
type SignedState struct {
	TokenID    string
	Family     string
	ProviderID string
	OwnerScope string
	ExpiresAt  time.Time
}

type stateClaims struct {
	Family     string `json:"fam"`
	ProviderID string `json:"prv"`
	OwnerScope string `json:"own"`
	jwt.RegisteredClaims
}

// StateSigner issues and validates the HS256 tokens carried in the OAuth
// state parameter. Single-use enforcement belongs to the caller, keyed on
// TokenID.
type StateSigner struct {
	secretKey []byte
	now       func() time.Time
}

func NewStateSigner(secretKey []byte) *StateSigner {
	return &StateSigner{secretKey: secretKey, now: time.Now}
}

// Generate signs a new state token for one provider connect attempt.
func (s *StateSigner) Generate(family, providerID, ownerScope string, ttl time.Duration) (string, *SignedState, error) {
	now := s.now()
	state := &SignedState{
		TokenID:    uuid.NewString(),
		Family:     family,
		ProviderID: providerID,
		OwnerScope: ownerScope,
		ExpiresAt:  now.Add(ttl).Truncate(time.Second),
	}

	claims := stateClaims{
		Family:     family,
		ProviderID: providerID,
		OwnerScope: ownerScope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        state.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(state.ExpiresAt),
		},
	}

	// Sign with HMAC
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign state: %w", err)
	}

	return tokenString, state, nil
}

// Validate checks signature and expiry and returns the state content.
func (s *StateSigner) Validate(tokenString string) (*SignedState, error) {
	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid state")
	}
	if claims.ID == "" {
		return nil, errors.New("missing or invalid jti claim")
	}
	if claims.ProviderID == "" || claims.Family == "" {
		return nil, errors.New("missing provider claims")
	}

	return &SignedState{
		TokenID:    claims.ID,
		Family:     claims.Family,
		ProviderID: claims.ProviderID,
		OwnerScope: claims.OwnerScope,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
