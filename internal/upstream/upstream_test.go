package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"toolproxy/internal/config"
	"toolproxy/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderBuilder_CredentialPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		forward    bool
		apiKey     string
		clientAuth string
		want       string
	}{
		{"server key when client sends nothing", true, "server-key", "", "Bearer server-key"},
		{"client key forwarded when allowed", true, "server-key", "Bearer client-key", "Bearer client-key"},
		{"bare Bearer is ignored", true, "server-key", "Bearer", "Bearer server-key"},
		{"gateway token never forwarded", false, "server-key", "Bearer proxy-token", "Bearer server-key"},
		{"no credential at all", false, "", "Bearer proxy-token", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewHeaderBuilder(tt.apiKey, "", "", tt.forward)
			hs := b.Build(tt.clientAuth, nil, PurposeChat, core.APIFormatOpenAI)
			assert.Equal(t, tt.want, hs.Get(core.HeaderAuthorization))
		})
	}
}

func TestHeaderBuilder_PurposeSelectsHeaders(t *testing.T) {
	b := NewHeaderBuilder("k", "https://app.example", "My App", false)
	client := http.Header{}
	client.Set(core.HeaderUserAgent, "ollama-client/1.0")
	client.Set(core.HeaderRequestID, "req-1")

	chat := b.Build("", client, PurposeChat, core.APIFormatOpenAI)
	assert.Equal(t, "https://app.example", chat.Get(core.HeaderReferer))
	assert.Equal(t, "My App", chat.Get(core.HeaderTitle))
	assert.Contains(t, chat.Get(core.HeaderAccept), core.ContentTypeEventStream)
	assert.Equal(t, "ollama-client/1.0", chat.Get(core.HeaderUserAgent))

	models := b.Build("", client, PurposeModels, core.APIFormatOpenAI)
	assert.Equal(t, "My App", models.Get(core.HeaderTitle))
	assert.Equal(t, core.ContentTypeJSON, models.Get(core.HeaderAccept))
	assert.Empty(t, models.Get(core.HeaderUserAgent))

	for _, purpose := range []Purpose{PurposeShow, PurposeTags} {
		hs := b.Build("", client, purpose, core.APIFormatOllama)
		assert.Empty(t, hs.Get(core.HeaderReferer), purpose)
		assert.Empty(t, hs.Get(core.HeaderTitle), purpose)
		assert.Empty(t, hs.Get(core.HeaderUserAgent), purpose)
		assert.NotContains(t, hs.Get(core.HeaderAccept), core.ContentTypeEventStream, purpose)
		assert.Equal(t, "Bearer k", hs.Get(core.HeaderAuthorization), purpose)
	}

	ollamaChat := b.Build("", client, PurposeChat, core.APIFormatOllama)
	assert.Empty(t, ollamaChat.Get(core.HeaderReferer), "attribution is OpenAI-format only")
}

func TestHeaderBuilder_Deterministic(t *testing.T) {
	b := NewHeaderBuilder("k", "https://app.example", "My App", true)
	client := http.Header{}
	client.Set(core.HeaderUserAgent, "ua")

	first := b.Build("Bearer c", client, PurposeChat, core.APIFormatOpenAI)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, b.Build("Bearer c", client, PurposeChat, core.APIFormatOpenAI))
	}
	assert.Equal(t, []string{
		core.HeaderContentType, core.HeaderAccept, core.HeaderAuthorization,
		core.HeaderReferer, core.HeaderTitle, core.HeaderUserAgent,
	}, first.Names())
}

func TestHeaderBuilder_RelayKeepsClientContentType(t *testing.T) {
	b := NewHeaderBuilder("k", "", "", false)
	hs := b.Build("", nil, PurposeRelay, core.APIFormatOpenAI)
	assert.Empty(t, hs.Get(core.HeaderContentType))
	assert.Empty(t, hs.Get(core.HeaderAccept))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, ollama bool) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	endpoints := Endpoints{
		ChatURL:   srv.URL + "/v1/chat/completions",
		ModelsURL: srv.URL + "/v1/models",
		Format:    core.APIFormatOpenAI,
	}
	if ollama {
		endpoints.OllamaURL = srv.URL
		endpoints.Format = core.APIFormatOllama
	}
	return NewClient(NewHTTPClient(config.DefaultHTTPClientSettings()), endpoints,
		NewHeaderBuilder("server-key", "", "", false), &core.NopLogger{})
}

func TestClient_ListModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer server-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"llama3-8b-instruct","max_model_len":8192},{"id":"qwen2-7b","context_length":4096}]}`)
	}, false)

	list, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Data, 2)
	assert.Equal(t, 8192, list.Data[0].ContextHint())
	assert.Equal(t, 4096, list.Data[1].ContextHint())
}

func TestClient_ListModelsUpstreamFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}, false)

	_, err := c.ListModels(context.Background())
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, core.ErrorTypeUpstream, gwErr.Type)
	assert.Equal(t, http.StatusUnauthorized, gwErr.HTTPStatusCode())
	assert.Contains(t, gwErr.Message, "bad key")
	assert.False(t, errors.Is(err, core.ErrModelNotFound))
}

func TestClient_TransportFailure(t *testing.T) {
	c := NewClient(NewHTTPClient(config.DefaultHTTPClientSettings()),
		Endpoints{ModelsURL: "http://127.0.0.1:1/v1/models"},
		NewHeaderBuilder("", "", "", false), nil)

	_, err := c.ListModels(context.Background())
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadGateway, gwErr.HTTPStatusCode())
}

func TestClient_OllamaShowAndTags(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/show":
			assert.Equal(t, http.MethodPost, r.Method)
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"name":"llama3"}`, string(body))
			_, _ = io.WriteString(w, `{"template":"{{ .Prompt }}"}`)
		case "/api/tags":
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = io.WriteString(w, `{"models":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, true)
	require.True(t, c.HasNativeOllama())

	resp, err := c.OllamaShow(context.Background(), "llama3", "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = c.OllamaTags(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestClient_ChatCompletionCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ChatCompletion(ctx, []byte(`{}`), "", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_ResponseHeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	settings := config.DefaultHTTPClientSettings()
	settings.ResponseHeaderTimeout = 100 * time.Millisecond
	c := NewClient(NewHTTPClient(settings), Endpoints{
		ChatURL:     srv.URL + "/v1/chat/completions",
		Format:      core.APIFormatOpenAI,
		IdleTimeout: 100 * time.Millisecond,
	}, NewHeaderBuilder("server-key", "", "", false), nil)

	_, err := c.ChatCompletion(context.Background(), []byte(`{}`), "", nil)
	require.ErrorIs(t, err, core.ErrStreamTimeout)
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusGatewayTimeout, gwErr.HTTPStatusCode())
	assert.Equal(t, core.ErrorTypeStreamTimeout, gwErr.Type)
}
