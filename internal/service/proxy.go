// Package service implements the core proxy logic: authenticating callers,
// choosing the upstream credential and forwarding requests.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"messaging-proxy-go/internal/client"
	"messaging-proxy-go/internal/config"
	"messaging-proxy-go/internal/identity"
	"messaging-proxy-go/internal/metrics"
	"messaging-proxy-go/internal/model"
	"messaging-proxy-go/internal/routing"
)

var (
	// ErrNoAuthHeader is returned when the request carries no Authorization header.
	ErrNoAuthHeader = errors.New("missing Authorization header")

	// ErrInvalidSession is returned when the identity provider rejects the
	// bearer token or cannot be reached.
	ErrInvalidSession = errors.New("invalid session")

	// ErrMissingAdminToken is returned when upstream.admin_token is not configured.
	ErrMissingAdminToken = errors.New("upstream admin token is not configured")

	// ErrInternalProxy wraps any failure while forwarding to the upstream.
	ErrInternalProxy = errors.New("internal proxy error")
)

const (
	userAgent   = "messaging-proxy-go/1.0"
	contentJSON = "application/json"
)

// ProxyService handles authentication, routing and forwarding for proxy requests.
type ProxyService struct {
	client      *client.UpstreamClient
	verifier    identity.Verifier
	selector    *routing.Selector
	baseURL     string
	mountPrefix string
	adminToken  string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(
	c *client.UpstreamClient,
	v identity.Verifier,
	sel *routing.Selector,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be absolute", cfg.Upstream.BaseURL)
	}

	return &ProxyService{
		client:      c,
		verifier:    v,
		selector:    sel,
		baseURL:     strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		mountPrefix: cfg.Server.MountPrefix,
		adminToken:  cfg.Upstream.AdminToken,
		logger:      logger.With("component", "proxy_service"),
		metrics:     m,
	}, nil
}

// Authenticate validates the Authorization header value and returns the caller.
func (s *ProxyService) Authenticate(ctx context.Context, authorization string) (*model.Principal, error) {
	if authorization == "" {
		return nil, ErrNoAuthHeader
	}

	principal, err := s.verifier.Verify(ctx, BearerToken(authorization))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	return principal, nil
}

// Route resolves the upstream path for fullPath and picks the credential for it.
// fullPath must be the escaped request path; the resolved path is forwarded
// with its escapes intact.
func (s *ProxyService) Route(fullPath, instanceToken string) (model.RoutingDecision, error) {
	if s.adminToken == "" {
		return model.RoutingDecision{}, ErrMissingAdminToken
	}

	decision := s.selector.Select(routing.ResolvePath(fullPath, s.mountPrefix), instanceToken)
	if s.metrics != nil {
		s.metrics.CredentialSelections.WithLabelValues(decision.Class.String()).Inc()
	}
	return decision, nil
}

// Forward sends pr to the upstream API using the credential in decision and
// returns the complete upstream response.
//
// GET, HEAD and OPTIONS requests are sent without a body. Any other body is
// forwarded byte for byte.
func (s *ProxyService) Forward(pr *model.ProxyRequest, decision model.RoutingDecision) (*model.ProxyResponse, error) {
	var body io.Reader
	if hasBody(pr.Method) && pr.Body != nil {
		data, err := io.ReadAll(pr.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read request body: %w", ErrInternalProxy, err)
		}
		body = bytes.NewReader(data)
	}

	upstreamURL := s.buildUpstreamURL(decision.UpstreamPath, pr.RawQuery)
	header := s.buildRequestHeaders(pr.Header, decision)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", decision.UpstreamPath,
		"credential", decision.Class.String(),
	)

	resp, err := s.client.Send(pr.Ctx, pr.Method, upstreamURL, header, body)
	if err != nil {
		return nil, fmt.Errorf("%w: forward to upstream: %w", ErrInternalProxy, err)
	}
	return resp, nil
}

func (s *ProxyService) buildUpstreamURL(path, rawQuery string) string {
	if rawQuery == "" {
		return s.baseURL + path
	}
	return s.baseURL + path + "?" + rawQuery
}

// buildRequestHeaders copies only content negotiation headers and sets the
// selected credential. The caller's Authorization header never reaches the upstream.
func (s *ProxyService) buildRequestHeaders(src http.Header, decision model.RoutingDecision) http.Header {
	dst := make(http.Header)

	contentType := src.Get("Content-Type")
	if contentType == "" {
		contentType = contentJSON
	}
	dst.Set("Content-Type", contentType)

	accept := src.Get("Accept")
	if accept == "" {
		accept = contentJSON
	}
	dst.Set("Accept", accept)

	dst.Set("User-Agent", userAgent)
	dst.Set(decision.HeaderName, decision.HeaderValue)
	return dst
}

// BearerToken strips a case-insensitive "Bearer" scheme from an
// Authorization header value. A scheme with no credential yields "".
func BearerToken(authorization string) string {
	const scheme = "bearer"
	v := strings.TrimSpace(authorization)
	if strings.EqualFold(v, scheme) {
		return ""
	}
	if len(v) > len(scheme) && strings.EqualFold(v[:len(scheme)], scheme) && isSpace(v[len(scheme)]) {
		v = v[len(scheme):]
	}
	return strings.TrimSpace(v)
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

func hasBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
