package identity

import (
	"context"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"messaging-proxy-go/internal/config"
	"messaging-proxy-go/internal/metrics"
	"messaging-proxy-go/internal/model"
)

// JWTVerifier validates HS256 access tokens signed with the provider's shared
// secret without a network round trip.
type JWTVerifier struct {
	secret   []byte
	audience string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type userClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// NewJWTVerifier creates a JWTVerifier from identity.jwt_secret and identity.audience.
func NewJWTVerifier(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *JWTVerifier {
	return &JWTVerifier{
		secret:   []byte(cfg.Identity.JWTSecret),
		audience: cfg.Identity.Audience,
		logger:   logger.With("component", "identity"),
		metrics:  m,
	}
}

// Verify checks the token signature, expiry and audience.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*model.Principal, error) {
	if token == "" {
		record(v.metrics, resultInvalid)
		return nil, &AuthError{Reason: "empty bearer token"}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims userClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		record(v.metrics, resultRejected)
		v.logger.Debug("token rejected", "err", err)
		return nil, &AuthError{Reason: err.Error(), Err: err}
	}
	if claims.Subject == "" {
		record(v.metrics, resultRejected)
		return nil, &AuthError{Reason: "token has no subject"}
	}

	record(v.metrics, resultOK)
	return &model.Principal{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}
