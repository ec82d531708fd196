package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"messaging-proxy-go/internal/config"
	"messaging-proxy-go/internal/identity"
	"messaging-proxy-go/internal/metrics"
	"messaging-proxy-go/internal/model"
	"messaging-proxy-go/internal/service"
)

// Machine-readable error codes returned in the "error" field.
const (
	CodeNoAuthHeader      = "no-auth-header"
	CodeInvalidSession    = "invalid-session"
	CodeMissingAdminToken = "missing-admin-token"
	CodeInternalError     = "internal-proxy-error"
	CodeNotFound          = "not-found"
	CodeMethodNotAllowed  = "method-not-allowed"
	CodePayloadTooLarge   = "payload-too-large"
	CodeRateLimited       = "rate-limited"
	CodeBadRequest        = "bad-request"
)

// principalKey is the echo context key holding the authenticated *model.Principal.
const principalKey = "principal"

// ProxyHandler authenticates callers and forwards their requests to the
// upstream messaging API.
type ProxyHandler struct {
	service       *service.ProxyService
	instanceToken string
	exposeDetails bool
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service:       svc,
		instanceToken: cfg.Upstream.InstanceTokenHeader,
		exposeDetails: cfg.Errors.ShowErrorDetails(),
		logger:        logger.With("component", "proxy_handler"),
		metrics:       m,
	}
}

// Handle runs one request through preflight, authentication, routing and
// forwarding, then relays the upstream status and body as JSON.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method == http.MethodOptions {
		return c.NoContent(http.StatusOK)
	}

	principal, err := h.service.Authenticate(req.Context(), req.Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return h.mapError(c, err)
	}
	c.Set(principalKey, principal)
	h.logger.Debug("authenticated", "principal_id", principal.ID)

	// The escaped path keeps %3F, %23 and %2F as the caller sent them.
	rawPath := req.URL.EscapedPath()
	decision, err := h.service.Route(rawPath, req.Header.Get(h.instanceToken))
	if err != nil {
		return h.mapError(c, err)
	}

	resp, err := h.service.Forward(&model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     rawPath,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}, decision)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, resp.Body)
}

// mapError turns a service error into the uniform JSON error envelope.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, CodeInternalError
	details := err.Error()

	var he *echo.HTTPError
	switch {
	case errors.Is(err, service.ErrNoAuthHeader):
		status, code = http.StatusUnauthorized, CodeNoAuthHeader
	case errors.Is(err, service.ErrInvalidSession):
		status, code = http.StatusUnauthorized, CodeInvalidSession
		var authErr *identity.AuthError
		if errors.As(err, &authErr) {
			details = authErr.Reason
		}
	case errors.Is(err, service.ErrMissingAdminToken):
		status, code = http.StatusInternalServerError, CodeMissingAdminToken
	case errors.As(err, &he):
		// The body limit reader fails mid-read for chunked uploads.
		status, code, details = he.Code, httpErrorCode(he.Code), httpErrorMessage(he)
	}

	return h.writeError(c, status, code, details, err)
}

// HandleHTTPError replaces Echo's default error handler so that errors raised
// outside Handle (body limit, rate limit, recovered panics, unknown routes)
// use the same envelope.
func (h *ProxyHandler) HandleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	// Non-HTTP errors here are recovered panics; their text carries a stack trace.
	status, details := http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status, details = he.Code, httpErrorMessage(he)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = h.writeError(c, status, httpErrorCode(status), details, err)
	}
	if err != nil {
		h.logger.Error("write error response", "err", err)
	}
}

func (h *ProxyHandler) writeError(c echo.Context, status int, code, details string, err error) error {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(c.Request().Context(), level, "proxy error",
		"code", code,
		"status", status,
		"err", err,
		"path", c.Request().URL.Path,
	)
	if h.metrics != nil {
		h.metrics.ProxyErrors.WithLabelValues(code).Inc()
	}

	body := model.ErrorResponse{Error: code}
	if h.exposeDetails {
		body.Details = details
	}
	return c.JSON(status, body)
}

// httpErrorCode maps framework status codes to error codes.
func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		return CodePayloadTooLarge
	case http.StatusTooManyRequests:
		return CodeRateLimited
	}
	if status >= http.StatusInternalServerError {
		return CodeInternalError
	}
	return CodeBadRequest
}

func httpErrorMessage(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	return fmt.Sprint(he.Message)
}

// PrincipalFrom returns the principal stored by Handle, if any.
func PrincipalFrom(c echo.Context) (*model.Principal, bool) {
	p, ok := c.Get(principalKey).(*model.Principal)
	return p, ok
}
