// Package upstream talks to the configured backend: header assembly, model
// listing, native Ollama metadata calls and chat completions.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"toolproxy/internal/config"
	"toolproxy/internal/core"
	"toolproxy/internal/util"
)

// Endpoints are the absolute backend URLs the client calls.
type Endpoints struct {
	ChatURL   string
	ModelsURL string
	// OllamaURL is the native Ollama API base, empty when the backend is
	// OpenAI-style only.
	OllamaURL string
	// Format is the backend protocol family, core.APIFormatOpenAI or
	// core.APIFormatOllama.
	Format string
	// IdleTimeout is reported when the backend sends no response headers
	// within the transport's header timeout.
	IdleTimeout time.Duration
}

// Client is the backend HTTP client.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	headers   *HeaderBuilder
	logger    core.Logger
}

// NewHTTPClient builds the pooled HTTP client used for every backend call.
// There is no overall timeout because streams may legitimately run long; the
// response header timeout and the stream idle timeout bound waiting instead.
func NewHTTPClient(settings config.HTTPClientSettings) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   core.HTTPDialTimeout,
			KeepAlive: core.HTTPKeepAlive,
		}).DialContext,
		MaxIdleConns:          settings.MaxIdleConns,
		MaxIdleConnsPerHost:   settings.MaxIdleConnsPerHost,
		MaxConnsPerHost:       settings.MaxConnsPerHost,
		IdleConnTimeout:       settings.IdleConnTimeout,
		TLSHandshakeTimeout:   settings.TLSHandshakeTimeout,
		ExpectContinueTimeout: core.HTTPExpectContinueTimeout,
		ResponseHeaderTimeout: settings.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport}
}

// NewClient creates a backend client.
func NewClient(httpClient *http.Client, endpoints Endpoints, headers *HeaderBuilder, logger core.Logger) *Client {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	return &Client{http: httpClient, endpoints: endpoints, headers: headers, logger: logger}
}

// Endpoints returns the configured backend URLs.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// Headers returns the header builder, used by the raw relay.
func (c *Client) Headers() *HeaderBuilder {
	return c.headers
}

// Transport returns the pooled transport shared with the raw relay.
func (c *Client) Transport() http.RoundTripper {
	return c.http.Transport
}

// HasNativeOllama reports whether show/tags can be forwarded to a native
// Ollama backend.
func (c *Client) HasNativeOllama() bool {
	return c.endpoints.OllamaURL != ""
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, hs HeaderSet) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, core.NewInternalError("failed to build backend request", err)
	}
	hs.Apply(req)

	c.logger.Debug("-> %s %s", method, url)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.logger.Warn("backend %s sent no response within %s", url, c.endpoints.IdleTimeout)
			return nil, core.NewStreamTimeoutError(c.endpoints.IdleTimeout)
		}
		return nil, core.NewUpstreamError(fmt.Sprintf("backend request to %s failed", url), err)
	}
	c.logger.Debug("<- %d %s %s", resp.StatusCode, method, url)
	return resp, nil
}

// ListModels fetches and decodes the OpenAI-style model listing using the
// server credential. A non-2xx status is returned as an upstream error that
// carries the backend status and message.
func (c *Client) ListModels(ctx context.Context) (*core.OpenAIModelList, error) {
	hs := c.headers.Build("", nil, PurposeModels, c.endpoints.Format)
	resp, err := c.do(ctx, http.MethodGet, c.endpoints.ModelsURL, nil, hs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		return nil, core.NewUpstreamError("failed to read model listing", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := core.ParseUpstreamError(resp.StatusCode, body)
		gwErr.Message = fmt.Sprintf("failed to fetch models: %d %s", resp.StatusCode, gwErr.Message)
		return nil, gwErr
	}

	var list core.OpenAIModelList
	if err := util.UnmarshalJSON(body, &list); err != nil {
		return nil, core.NewUpstreamError("backend returned an invalid model listing", err)
	}
	return &list, nil
}

// Models performs the raw /v1/models call on behalf of a client.
func (c *Client) Models(ctx context.Context, clientAuth string, clientHeaders http.Header) (*http.Response, error) {
	hs := c.headers.Build(clientAuth, clientHeaders, PurposeModels, c.endpoints.Format)
	return c.do(ctx, http.MethodGet, c.endpoints.ModelsURL, nil, hs)
}

// OllamaShow forwards a show request for name to the native Ollama backend.
func (c *Client) OllamaShow(ctx context.Context, name, clientAuth string, clientHeaders http.Header) (*http.Response, error) {
	body, err := util.MarshalJSON(map[string]string{"name": name})
	if err != nil {
		return nil, core.NewInternalError("failed to encode show request", err)
	}
	hs := c.headers.Build(clientAuth, clientHeaders, PurposeShow, core.APIFormatOllama)
	return c.do(ctx, http.MethodPost, util.JoinURL(c.endpoints.OllamaURL, "/api/show"), body, hs)
}

// OllamaTags forwards a tags request to the native Ollama backend.
func (c *Client) OllamaTags(ctx context.Context, clientAuth string, clientHeaders http.Header) (*http.Response, error) {
	hs := c.headers.Build(clientAuth, clientHeaders, PurposeTags, core.APIFormatOllama)
	return c.do(ctx, http.MethodGet, util.JoinURL(c.endpoints.OllamaURL, "/api/tags"), nil, hs)
}

// ChatCompletion posts a chat completion body. The caller owns the response
// body and must close it.
func (c *Client) ChatCompletion(ctx context.Context, body []byte, clientAuth string, clientHeaders http.Header) (*http.Response, error) {
	hs := c.headers.Build(clientAuth, clientHeaders, PurposeChat, c.endpoints.Format)
	return c.do(ctx, http.MethodPost, c.endpoints.ChatURL, body, hs)
}

// ReadErrorBody reads at most core.MaxErrorBodySize bytes of a failed
// response and closes it.
func ReadErrorBody(resp *http.Response) []byte {
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxErrorBodySize))
	return body
}
