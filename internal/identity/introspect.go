package identity

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"messaging-proxy-go/internal/config"
	"messaging-proxy-go/internal/metrics"
	"messaging-proxy-go/internal/model"
	"messaging-proxy-go/internal/telemetry"
)

const userPath = "/auth/v1/user"

// maxUserBody caps how much of the provider response is read.
const maxUserBody = 1 << 20

// IntrospectionVerifier asks the identity provider who owns a token.
type IntrospectionVerifier struct {
	httpClient *http.Client
	userURL    string
	apiKey     string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// providerError covers the error shapes the provider returns.
type providerError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

// NewIntrospectionVerifier creates an IntrospectionVerifier for identity.base_url.
func NewIntrospectionVerifier(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tp trace.TracerProvider) *IntrospectionVerifier {
	return &IntrospectionVerifier{
		httpClient: &http.Client{
			Transport: telemetry.Transport(http.DefaultTransport, tp, "identity"),
			Timeout:   time.Duration(cfg.Identity.TimeoutSeconds) * time.Second,
		},
		userURL: strings.TrimRight(cfg.Identity.BaseURL, "/") + userPath,
		apiKey:  cfg.Identity.APIKey,
		logger:  logger.With("component", "identity"),
		metrics: m,
	}
}

// Verify looks up the user owning token.
func (v *IntrospectionVerifier) Verify(ctx context.Context, token string) (*model.Principal, error) {
	if token == "" {
		record(v.metrics, resultInvalid)
		return nil, &AuthError{Reason: "empty bearer token"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userURL, http.NoBody)
	if err != nil {
		record(v.metrics, resultInvalid)
		return nil, &AuthError{Reason: err.Error(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	start := time.Now()
	resp, err := v.httpClient.Do(req)
	if v.metrics != nil {
		v.metrics.IdentityDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		record(v.metrics, resultUnreachable)
		v.logger.Warn("identity provider unreachable", "err", err)
		return nil, &AuthError{Reason: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserBody))
	if err != nil {
		record(v.metrics, resultUnreachable)
		return nil, &AuthError{Reason: "read identity response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		record(v.metrics, resultRejected)
		return nil, &AuthError{Reason: rejectionReason(resp.StatusCode, body)}
	}

	var u userResponse
	if err := json.Unmarshal(body, &u); err != nil {
		record(v.metrics, resultInvalid)
		return nil, &AuthError{Reason: "decode identity response: " + err.Error(), Err: err}
	}
	if u.ID == "" {
		record(v.metrics, resultRejected)
		return nil, &AuthError{Reason: "user not found"}
	}

	record(v.metrics, resultOK)
	return &model.Principal{ID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// rejectionReason extracts the provider's message, falling back to the status text.
func rejectionReason(status int, body []byte) string {
	var pe providerError
	if json.Unmarshal(body, &pe) == nil {
		for _, s := range []string{pe.Msg, pe.Message, pe.ErrorDescription, pe.Error} {
			if s != "" {
				return s
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "identity provider returned status " + strconv.Itoa(status)
}
