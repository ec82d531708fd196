package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"messaging-proxy-go/internal/config"
	"messaging-proxy-go/internal/metrics"
	"messaging-proxy-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.HTTPErrorHandler = proxy.HandleHTTPError
	e.Pre(middleware.CORSUnder(cfg.Server.MountPrefix, cfg.Upstream.InstanceTokenHeader))

	g := e.Group(cfg.Server.MountPrefix)
	g.Any("", proxy.Handle)
	g.Any("/*", proxy.Handle)
}
