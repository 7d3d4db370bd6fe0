package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"dmc-forwarder/internal/config"
	"dmc-forwarder/internal/model"
	"dmc-forwarder/internal/service"
)

// ForwardHandler serves the two relayed routes.
type ForwardHandler struct {
	forwarder       *service.Forwarder
	logger          *slog.Logger
	propagateStatus bool
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(f *service.Forwarder, cfg *config.Config, logger *slog.Logger) *ForwardHandler {
	return &ForwardHandler{
		forwarder:       f,
		logger:          logger.With("component", "forward_handler"),
		propagateStatus: cfg.Upstream.PropagateStatus,
	}
}

// Contact relays GET /contact and its query string upstream.
func (h *ForwardHandler) Contact(c echo.Context) error {
	req := c.Request()

	resp, err := h.forwarder.ForwardGet(&model.ForwardRequest{
		Ctx:      req.Context(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return h.write(c, resp)
}

// Resource relays POST /resource with its body and headers upstream.
func (h *ForwardHandler) Resource(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		// BodyLimit reports oversized bodies through the reader.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		h.logger.Warn("reading request body", "err", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "could not read request body",
		})
	}

	resp, err := h.forwarder.ForwardPost(&model.ForwardRequest{
		Ctx:    req.Context(),
		Header: req.Header,
		Body:   body,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return h.write(c, resp)
}

// write answers 200 with the normalized upstream body, whatever the upstream
// status was, unless status propagation is enabled.
func (h *ForwardHandler) write(c echo.Context, resp *model.ForwardResponse) error {
	status := http.StatusOK
	if h.propagateStatus && resp.UpstreamStatus != 0 {
		status = resp.UpstreamStatus
	}
	return c.String(status, resp.Body)
}

func (h *ForwardHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("forward error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "upstream request timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
