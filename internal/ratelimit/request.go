package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Descriptor exposes the request attributes the classifier needs.
type Descriptor interface {
	Path() string
	SourceAddress() string
}

// StaticRequest is a Descriptor built from plain values.
type StaticRequest struct {
	RequestPath string
	Address     string
}

// Path returns the request path.
func (r StaticRequest) Path() string { return r.RequestPath }

// SourceAddress returns the client address.
func (r StaticRequest) SourceAddress() string { return r.Address }

// HTTPRequest adapts *http.Request to Descriptor.
type HTTPRequest struct {
	Request *http.Request
	// Address overrides the address derived from RemoteAddr when set.
	Address string
}

// Path returns the URL path.
func (r HTTPRequest) Path() string {
	if r.Request == nil || r.Request.URL == nil {
		return ""
	}
	return r.Request.URL.Path
}

// SourceAddress returns the override or the host part of RemoteAddr.
func (r HTTPRequest) SourceAddress() string {
	if r.Address != "" {
		return r.Address
	}
	if r.Request == nil {
		return ""
	}
	remote := strings.TrimSpace(r.Request.RemoteAddr)
	host, _, errSplit := net.SplitHostPort(remote)
	if errSplit != nil {
		return remote
	}
	return host
}
