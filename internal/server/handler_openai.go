package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"toolproxy/internal/core"
	"toolproxy/internal/reinject"
	"toolproxy/internal/stream"
	"toolproxy/internal/upstream"
	"toolproxy/internal/util"

	"github.com/gin-gonic/gin"
)

func (s *Server) chatCompletions(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondWithGatewayError(c, &core.GatewayError{
			Type:       core.ErrorTypeInvalidRequest,
			Message:    "failed to read request body",
			StatusCode: bodyErrorStatus(err),
			Err:        err,
		})
		return
	}

	var request core.ChatCompletionRequest
	if err := util.UnmarshalJSON(body, &request); err != nil {
		respondWithGatewayError(c, core.NewInvalidRequestError("invalid request body", err))
		return
	}
	c.Set(ctxKeyModel, request.Model)

	body, decision, err := s.policy.Apply(body, &request)
	if err != nil {
		s.logger.Warn("Tool reinjection skipped: %v", err)
	} else if decision.Reinjected {
		s.logger.Info("Tool definitions reinjected (%s) after %d messages, ~%d tokens", decision.Mode, decision.Messages, decision.Tokens)
	}

	if request.Stream {
		s.streamChatCompletion(c, body)
		return
	}
	s.completeChatCompletion(c, body, request.HasTools())
}

func (s *Server) streamChatCompletion(c *gin.Context, body []byte) {
	ctx := c.Request.Context()

	//nolint:bodyclose // closed by the bridge or ReadErrorBody
	resp, err := s.upstream.ChatCompletion(ctx, body, c.GetHeader(core.HeaderAuthorization), c.Request.Header)
	if err != nil {
		if ctx.Err() != nil {
			s.metricsService.RecordStreamAbort(stream.AbortClientGone)
			return
		}
		if errors.Is(err, core.ErrStreamTimeout) {
			s.metricsService.RecordStreamAbort(stream.AbortTimeout)
		}
		respondWithGatewayError(c, err)
		return
	}

	if !isSuccess(resp.StatusCode) {
		errBody := upstream.ReadErrorBody(resp)
		s.logger.Error("Backend chat error: status=%d, body=%s", resp.StatusCode, util.TruncateString(string(errBody), 200, 0, "..."))
		respondWithGatewayError(c, core.ParseUpstreamError(resp.StatusCode, errBody))
		return
	}

	// A backend may ignore stream=true and answer with a single JSON body.
	if ct := resp.Header.Get(core.HeaderContentType); !strings.Contains(ct, core.ContentTypeEventStream) {
		data, err := stream.ReadBody(ctx, resp.Body, s.bridge.Limits())
		if err != nil {
			respondWithGatewayError(c, err)
			return
		}
		c.Data(resp.StatusCode, contentTypeOrJSON(ct), data)
		return
	}

	sink := &stream.WriterSink{
		W: c.Writer,
		OnStart: func() {
			setStreamingHeaders(c)
			c.Status(http.StatusOK)
		},
	}
	summary, err := s.bridge.Relay(ctx, resp.Body, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			s.logger.Debug("Client disconnected after %d events", summary.Events)
			return
		}
		if !sink.Started() {
			respondWithGatewayError(c, err)
			return
		}
		s.logger.Warn("Stream aborted after %d events: %v", summary.Events, err)
		return
	}
	if summary.ToolCalls > 0 {
		s.logger.Debug("Stream finished with %d reassembled tool call(s), finish_reason=%s", summary.ToolCalls, summary.FinishReason)
	}
}

func (s *Server) completeChatCompletion(c *gin.Context, body []byte, hasTools bool) {
	ctx := c.Request.Context()
	clientAuth := c.GetHeader(core.HeaderAuthorization)
	limits := s.bridge.Limits()
	contentType := core.ContentTypeJSON

	send := func(ctx context.Context, payload []byte) (int, []byte, error) {
		resp, err := s.upstream.ChatCompletion(ctx, payload, clientAuth, c.Request.Header)
		if err != nil {
			return 0, nil, err
		}
		contentType = contentTypeOrJSON(resp.Header.Get(core.HeaderContentType))
		data, err := stream.ReadBody(ctx, resp.Body, limits)
		if err != nil {
			return 0, nil, err
		}
		return resp.StatusCode, data, nil
	}

	var (
		outcome *reinject.Outcome
		err     error
	)
	if hasTools {
		outcome, err = s.corrective.Run(ctx, body, send)
	} else {
		outcome = &reinject.Outcome{Iterations: 1}
		outcome.Status, outcome.Body, err = send(ctx, body)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		respondWithGatewayError(c, err)
		return
	}

	if !isSuccess(outcome.Status) {
		s.logger.Error("Backend chat error: status=%d, body=%s", outcome.Status, util.TruncateString(string(outcome.Body), 200, 0, "..."))
		respondWithGatewayError(c, core.ParseUpstreamError(outcome.Status, outcome.Body))
		return
	}
	if outcome.Exhausted {
		s.logger.Warn("Returning reply without a structured tool call after %d iterations", outcome.Iterations)
	}
	c.Data(outcome.Status, contentType, outcome.Body)
}

func contentTypeOrJSON(ct string) string {
	if ct == "" {
		return core.ContentTypeJSON
	}
	return ct
}
