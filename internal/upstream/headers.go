package upstream

import (
	"net/http"
	"strings"

	"toolproxy/internal/core"
)

// Purpose tags a backend call so the builder can decide which optional
// headers apply.
type Purpose string

const (
	PurposeModels Purpose = "models"
	PurposeShow   Purpose = "ollama-show"
	PurposeTags   Purpose = "ollama-tags"
	PurposeChat   Purpose = "chat"
	PurposeRelay  Purpose = "relay"
)

// clientHeadersFor lists the client headers copied to the backend per purpose.
// Metadata calls forward nothing from the client besides credentials.
var clientHeadersFor = map[Purpose][]string{
	PurposeChat:   {core.HeaderUserAgent, core.HeaderRequestID},
	PurposeModels: {core.HeaderRequestID},
	PurposeRelay:  {core.HeaderUserAgent, core.HeaderRequestID, "Accept-Language"},
}

// Header is a single outbound header.
type Header struct {
	Name  string
	Value string
}

// HeaderSet is an ordered list of outbound headers, built fresh per call.
type HeaderSet []Header

// Get returns the value for name (case-insensitive), or "".
func (h HeaderSet) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Names returns header names in insertion order.
func (h HeaderSet) Names() []string {
	names := make([]string, len(h))
	for i, hdr := range h {
		names[i] = hdr.Name
	}
	return names
}

// Apply sets every header on req, replacing existing values.
func (h HeaderSet) Apply(req *http.Request) {
	for _, hdr := range h {
		req.Header.Set(hdr.Name, hdr.Value)
	}
}

func (h *HeaderSet) set(name, value string) {
	if value == "" {
		return
	}
	for i := range *h {
		if strings.EqualFold((*h)[i].Name, name) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// HeaderBuilder assembles backend request headers. It performs no I/O and is
// safe for concurrent use once constructed.
type HeaderBuilder struct {
	apiKey  string
	referer string
	title   string
	// forwardClientAuth is true only when the gateway does not consume the
	// client's Authorization header itself.
	forwardClientAuth bool
}

// NewHeaderBuilder creates a builder. referer and title must already have
// placeholders filtered out.
func NewHeaderBuilder(apiKey, referer, title string, forwardClientAuth bool) *HeaderBuilder {
	return &HeaderBuilder{
		apiKey:            apiKey,
		referer:           referer,
		title:             title,
		forwardClientAuth: forwardClientAuth,
	}
}

// Build returns the header set for one backend call.
func (b *HeaderBuilder) Build(clientAuth string, clientHeaders http.Header, purpose Purpose, format string) HeaderSet {
	hs := make(HeaderSet, 0, 8)

	if purpose != PurposeRelay {
		hs.set(core.HeaderContentType, core.ContentTypeJSON)
	}
	switch purpose {
	case PurposeChat:
		hs.set(core.HeaderAccept, core.ContentTypeJSON+", "+core.ContentTypeEventStream)
	case PurposeRelay:
	default:
		hs.set(core.HeaderAccept, core.ContentTypeJSON)
	}

	if auth := b.authorization(clientAuth); auth != "" {
		hs.set(core.HeaderAuthorization, auth)
	}

	if format != core.APIFormatOllama && (purpose == PurposeChat || purpose == PurposeModels || purpose == PurposeRelay) {
		hs.set(core.HeaderReferer, b.referer)
		hs.set(core.HeaderTitle, b.title)
	}

	if clientHeaders != nil {
		for _, name := range clientHeadersFor[purpose] {
			hs.set(name, clientHeaders.Get(name))
		}
	}
	return hs
}

func (b *HeaderBuilder) authorization(clientAuth string) string {
	clientAuth = strings.TrimSpace(clientAuth)
	if b.forwardClientAuth && clientAuth != "" && clientAuth != strings.TrimSpace(core.AuthBearerPrefix) {
		return clientAuth
	}
	if b.apiKey != "" {
		return core.AuthBearerPrefix + b.apiKey
	}
	return ""
}
