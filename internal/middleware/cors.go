package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
)

// corsBaseHeaders are the request headers browsers may always send.
var corsBaseHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

// CORS returns an Echo middleware that sets the CORS headers on every
// response, error responses included. instanceHeader is appended to the
// allowed request headers.
func CORS(instanceHeader string) echo.MiddlewareFunc {
	allowHeaders := strings.Join(append(append([]string(nil), corsBaseHeaders...), strings.ToLower(instanceHeader)), ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, corsAllowOrigin)
			h.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)
			h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
			return next(c)
		}
	}
}

// CORSUnder applies CORS only to requests at or below pathPrefix. Registered
// with Echo.Pre it runs ahead of every other middleware, so responses written
// by the body limit, rate limiter or panic recovery carry the headers too.
func CORSUnder(pathPrefix, instanceHeader string) echo.MiddlewareFunc {
	cors := CORS(instanceHeader)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withCORS := cors(next)
		return func(c echo.Context) error {
			p := c.Request().URL.Path
			if p == pathPrefix || strings.HasPrefix(p, pathPrefix+"/") {
				return withCORS(c)
			}
			return next(c)
		}
	}
}
