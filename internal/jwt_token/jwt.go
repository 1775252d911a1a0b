package jwttoken

import (
	"errors"
	"time"

	dErrors "rpgateway/pkg/domain-errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the session token claims. The subject is the local user ID.
type Claims struct {
	Provider string `json:"idp,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject as a user ID.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// IssuedToken is a signed session token and its metadata.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// JWTService handles session token creation and validation
type JWTService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func NewJWTService(signingKey string, issuer string, ttl time.Duration) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
}

// TTL is the lifetime of tokens issued by Issue.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a session token for userID.
func (s *JWTService) Issue(userID uuid.UUID) (*IssuedToken, error) {
	return s.issueAt(userID, s.now(), s.ttl)
}

func (s *JWTService) issueAt(userID uuid.UUID, now time.Time, ttl time.Duration) (*IssuedToken, error) {
	jti := uuid.NewString()
	expiresAt := now.Add(ttl)
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Provider: "oidc",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        jti,
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{Token: signedToken, JTI: jti, ExpiresAt: expiresAt, ExpiresIn: ttl}, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}

	return claims, nil
}
