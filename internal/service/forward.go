// Package service implements the forwarding logic behind the relayed routes.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"dmc-forwarder/internal/client"
	"dmc-forwarder/internal/config"
	"dmc-forwarder/internal/jsonnorm"
	"dmc-forwarder/internal/metrics"
	"dmc-forwarder/internal/model"
)

// Upstream paths appended to the configured base URL.
const (
	UpstreamContactPath  = "/dmc/contact"
	UpstreamResourcePath = "/dmc/resource"
)

// excludedRequestHeaders are never copied onto the outbound POST. Host
// belongs to the inbound connection; the content headers describe the
// re-encoded body and are set by the forwarder and transport.
var excludedRequestHeaders = []string{
	"Host",
	"Content-Type",
	"Content-Length",
}

// Forwarder relays requests to the fixed upstream endpoints.
type Forwarder struct {
	client      *client.UpstreamClient
	metrics     *metrics.Metrics
	logger      *slog.Logger
	contactURL  string
	resourceURL string
}

// NewForwarder creates a Forwarder. The metrics parameter may be nil.
func NewForwarder(c *client.UpstreamClient, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *Forwarder {
	base := strings.TrimRight(cfg.Upstream.BaseURL, "/")
	return &Forwarder{
		client:      c,
		metrics:     m,
		logger:      logger.With("component", "forwarder"),
		contactURL:  base + UpstreamContactPath,
		resourceURL: base + UpstreamResourcePath,
	}
}

// ForwardGet relays a contact lookup. The raw query string is appended to
// the upstream URL exactly as received; inbound headers are not forwarded.
func (f *Forwarder) ForwardGet(fr *model.ForwardRequest) (*model.ForwardResponse, error) {
	target := f.contactURL
	if fr.RawQuery != "" {
		target += "?" + fr.RawQuery
	}

	resp, err := f.client.Do(fr.Ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("forward contact: %w", err)
	}
	return f.respond(resp), nil
}

// ForwardPost relays a resource submission. A JSON body is re-encoded in
// compact form before sending; anything else is sent verbatim.
func (f *Forwarder) ForwardPost(fr *model.ForwardRequest) (*model.ForwardResponse, error) {
	body, ok := jsonnorm.Normalize(fr.Body)
	f.metrics.ObserveNormalize(metrics.DirectionRequest, ok)

	header := outboundHeader(fr.Header)
	header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := f.client.Do(fr.Ctx, http.MethodPost, f.resourceURL, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward resource: %w", err)
	}
	return f.respond(resp), nil
}

func (f *Forwarder) respond(resp *model.UpstreamResponse) *model.ForwardResponse {
	body, ok := jsonnorm.Normalize(resp.Body)
	f.metrics.ObserveNormalize(metrics.DirectionResponse, ok)

	f.logger.Debug("upstream answered",
		"status", resp.StatusCode,
		"bytes", len(body),
		"json", ok,
	)

	return &model.ForwardResponse{
		UpstreamStatus: resp.StatusCode,
		Body:           string(body),
		Normalized:     ok,
	}
}

// outboundHeader copies every inbound header except the excluded ones.
// Names are matched case-insensitively; values are copied unvalidated.
func outboundHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for name, vals := range src {
		if slices.ContainsFunc(excludedRequestHeaders, func(h string) bool {
			return strings.EqualFold(h, name)
		}) {
			continue
		}
		dst[name] = slices.Clone(vals)
	}
	return dst
}
