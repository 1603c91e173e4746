package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"toolproxy/internal/core"
	"toolproxy/internal/upstream"
	"toolproxy/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// strippedModelHeaders are dropped from the relayed /v1/models response; the
// body is re-encoded so the backend's framing no longer applies.
var strippedModelHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Transfer-Encoding": true,
	"Content-Length":    true,
}

func (s *Server) listModels(c *gin.Context) {
	//nolint:bodyclose // closed below
	resp, err := s.upstream.Models(c.Request.Context(), c.GetHeader(core.HeaderAuthorization), c.Request.Header)
	if err != nil {
		s.logger.Error("[MODELS ERROR] %v", err)
		respondWithProxyError(c, http.StatusInternalServerError, "Error proxying to models endpoint: "+core.AsGatewayError(err).Message)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		respondWithProxyError(c, http.StatusInternalServerError, "Error proxying to models endpoint: "+err.Error())
		return
	}
	if util.ValidJSON(body) {
		body = []byte(gjson.GetBytes(body, "@ugly").Raw)
	} else {
		s.logger.Debug("[MODELS RESPONSE] non-JSON body relayed as text (status %d)", resp.StatusCode)
	}

	for name, values := range resp.Header {
		if strippedModelHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Data(resp.StatusCode, core.ContentTypeJSON, body)
}

// newRelayProxy builds the pass-through used for /v1 paths the gateway does
// not handle itself. Request and response bodies are streamed untouched.
func (s *Server) newRelayProxy(target *url.URL, format string) *httputil.ReverseProxy {
	headers := s.upstream.Headers()
	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			clientAuth := req.Header.Get(core.HeaderAuthorization)

			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			req.URL.Path = strings.TrimRight(target.Path, "/") + req.URL.Path
			req.URL.RawPath = ""

			req.Header.Del(core.HeaderAuthorization)
			req.Header.Del("Origin")
			req.Header.Del("Cookie")
			headers.Build(clientAuth, nil, upstream.PurposeRelay, format).Apply(req)
			s.logger.Debug("[PROXY] -> %s %s", req.Method, req.URL.String())
		},
		Transport:     s.upstream.Transport(),
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Del("Access-Control-Allow-Origin")
			resp.Header.Del("Access-Control-Allow-Credentials")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				s.logger.Debug("[PROXY] client canceled %s %s", r.Method, r.URL.Path)
				return
			}
			s.logger.Error("[PROXY] %s %s failed: %v", r.Method, r.URL.Path, err)
			body, _ := util.MarshalJSON(map[string]any{
				"error": map[string]any{"message": "Error proxying request: " + err.Error(), "type": "proxy_error"},
			})
			w.Header().Set(core.HeaderContentType, core.ContentTypeJSON)
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write(body)
		},
	}
}

func (s *Server) relayRequest(c *gin.Context) {
	s.relay.ServeHTTP(c.Writer, c.Request)
}
