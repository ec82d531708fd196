// Package identity validates client bearer tokens against the identity provider.
package identity

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"messaging-proxy-go/internal/config"
	"messaging-proxy-go/internal/metrics"
	"messaging-proxy-go/internal/model"
)

// Verifier turns a raw bearer token (without the "Bearer " prefix) into a
// Principal. Every failure, including an unreachable provider, is an *AuthError.
type Verifier interface {
	Verify(ctx context.Context, token string) (*model.Principal, error)
}

// AuthError reports why a bearer token was not accepted. Reason is the
// provider's diagnostic text.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Verification result labels.
const (
	resultOK          = "ok"
	resultRejected    = "rejected"
	resultUnreachable = "unreachable"
	resultInvalid     = "invalid"
)

// NewVerifier builds the Verifier selected by identity.mode.
// The metrics and tracer provider parameters are optional.
func NewVerifier(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tp trace.TracerProvider) (Verifier, error) {
	switch cfg.Identity.Mode {
	case config.IdentityModeIntrospect, "":
		return NewIntrospectionVerifier(cfg, logger, m, tp), nil
	case config.IdentityModeJWT:
		return NewJWTVerifier(cfg, logger, m), nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Identity.Mode)
	}
}

func record(m *metrics.Metrics, result string) {
	if m != nil {
		m.IdentityVerifications.WithLabelValues(result).Inc()
	}
}
