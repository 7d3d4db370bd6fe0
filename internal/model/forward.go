// Package model defines the transient values passed between the handler,
// forwarder, and upstream client.
package model

import (
	"context"
	"net/http"
)

// ForwardRequest is an inbound request to be relayed upstream.
type ForwardRequest struct {
	Ctx      context.Context
	RawQuery string
	Header   http.Header
	Body     []byte
}

// UpstreamResponse is a fully read upstream response.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ForwardResponse is what the caller receives back.
type ForwardResponse struct {
	// UpstreamStatus is the status the upstream answered with. It is not
	// relayed unless status propagation is enabled.
	UpstreamStatus int
	Body           string
	// Normalized reports whether Body was re-encoded as compact JSON.
	Normalized bool
}
