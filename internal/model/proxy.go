// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// Outbound credential header names understood by the upstream API.
const (
	HeaderAdminToken    = "admintoken"
	HeaderInstanceToken = "token"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.Reader
}

// ProxyResponse is the fully buffered upstream response relayed to the client.
type ProxyResponse struct {
	StatusCode int
	Body       []byte
}

// Principal is the identity behind a validated bearer token. It lives only
// for the duration of one request.
type Principal struct {
	ID    string
	Email string
	Role  string
}

// CredentialClass identifies which upstream credential authorizes a call.
type CredentialClass int

const (
	CredentialAdmin CredentialClass = iota
	CredentialInstance
)

func (c CredentialClass) String() string {
	switch c {
	case CredentialAdmin:
		return "admin"
	case CredentialInstance:
		return "instance"
	default:
		return "unknown"
	}
}

// RoutingDecision is computed once per request and not modified afterwards.
type RoutingDecision struct {
	UpstreamPath string
	HeaderName   string
	HeaderValue  string
	Class        CredentialClass
}

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
