package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/model"
)

// TokenTTL is fixed; tokens are never extended or refreshed.
const TokenTTL = 24 * time.Hour

const minSecretLength = 32

type Claims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity is what a verified token asserts about its bearer.
type Identity struct {
	Subject   uuid.UUID
	Role      model.Role
	TenantID  *uuid.UUID
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenService(secret, issuer string) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// WithClock returns a copy of the service reading time from now.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	clone := *s
	clone.now = now
	return &clone
}

func (s *TokenService) Issue(user model.User) (string, Identity, error) {
	if !user.Role.Valid() {
		return "", Identity{}, errors.New("user has no valid role")
	}
	if (user.Role == model.RolePlatformSuper) != (user.TenantID == nil) {
		return "", Identity{}, errors.New("tenant assignment does not match role")
	}

	now := s.now().UTC().Truncate(time.Second)
	identity := Identity{
		Subject:   user.ID,
		Role:      user.Role,
		TenantID:  user.TenantID,
		TokenID:   uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(TokenTTL),
	}
	claims := Claims{
		UserID: user.ID.String(),
		Role:   user.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        identity.TokenID,
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(identity.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(identity.ExpiresAt),
		},
	}
	if user.TenantID != nil {
		claims.TenantID = user.TenantID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", Identity{}, err
	}
	return signed, identity, nil
}

// Verify never touches storage. Every failure other than expiry is reported
// as ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (Identity, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.ErrExpiredToken
		}
		return Identity{}, apperr.ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.IssuedAt == nil {
		return Identity{}, apperr.ErrInvalidToken
	}

	identity, err := identityFromClaims(claims)
	if err != nil {
		return Identity{}, apperr.ErrInvalidToken
	}
	// The lifetime is bounded by issued-at even if exp claims more.
	if s.now().After(identity.IssuedAt.Add(TokenTTL)) {
		return Identity{}, apperr.ErrExpiredToken
	}
	return identity, nil
}

func identityFromClaims(claims *Claims) (Identity, error) {
	if claims.Subject != claims.UserID {
		return Identity{}, errors.New("subject mismatch")
	}
	subject, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Identity{}, err
	}
	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, err
	}

	identity := Identity{
		Subject:   subject,
		Role:      role,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	switch {
	case role == model.RolePlatformSuper && claims.TenantID != "":
		return Identity{}, errors.New("platform super carries a tenant")
	case role != model.RolePlatformSuper:
		tenantID, err := uuid.Parse(claims.TenantID)
		if err != nil {
			return Identity{}, err
		}
		identity.TenantID = &tenantID
	}
	return identity, nil
}
