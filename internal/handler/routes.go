// Package handler holds the echo handlers and route table.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dmc-forwarder/internal/config"
	"dmc-forwarder/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, fwd *ForwardHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET(config.HealthRoute, health.Healthz)
	e.GET(config.StatusRoute, health.Status)

	e.GET(cfg.Server.ContactPath(), fwd.Contact)
	e.POST(cfg.Server.ResourcePath(), fwd.Resource)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
