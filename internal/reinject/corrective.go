package reinject

import (
	"context"
	"regexp"
	"strings"

	"toolproxy/internal/core"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// CorrectiveInstruction is appended as a user turn when the model described
// a tool call in text instead of emitting one.
const CorrectiveInstruction = "Your previous reply described a tool call as plain text. " +
	"Call the tool using the tool calling format, with the arguments as a JSON object, and do not describe the call in text."

var embeddedCallPattern = regexp.MustCompile(`(?s)"name"\s*:\s*"[^"]+".*"arguments"\s*:`)

// SendFunc performs one non-streaming backend call and returns the status and
// the fully read body.
type SendFunc func(ctx context.Context, body []byte) (status int, respBody []byte, err error)

// Outcome is the result of a corrective loop.
type Outcome struct {
	Status     int
	Body       []byte
	Iterations int
	// Exhausted is set when the last reply still needed correction but the
	// iteration ceiling was reached.
	Exhausted bool
}

// CorrectiveLoop re-issues a request with a corrective instruction when the
// reply attempted a tool call it failed to make. The number of backend calls
// never exceeds the ceiling.
type CorrectiveLoop struct {
	maxIterations int
	logger        core.Logger
	metrics       core.MetricsCollector
}

// NewCorrectiveLoop creates a loop bounded by maxIterations backend calls.
func NewCorrectiveLoop(maxIterations int, logger core.Logger, metrics core.MetricsCollector) *CorrectiveLoop {
	if maxIterations <= 0 {
		maxIterations = core.DefaultMaxToolIterations
	}
	if logger == nil {
		logger = &core.NopLogger{}
	}
	if metrics == nil {
		metrics = &core.NopMetrics{}
	}
	return &CorrectiveLoop{maxIterations: maxIterations, logger: logger, metrics: metrics}
}

// MaxIterations returns the ceiling.
func (l *CorrectiveLoop) MaxIterations() int {
	return l.maxIterations
}

// NeedsCorrection reports whether a successful reply mentions a tool call in
// its text while carrying neither tool_calls nor function_call.
func NeedsCorrection(resp []byte) bool {
	msg := gjson.GetBytes(resp, "choices.0.message")
	if !msg.Exists() {
		return false
	}
	if calls := msg.Get("tool_calls"); calls.IsArray() && len(calls.Array()) > 0 {
		return false
	}
	if strings.TrimSpace(msg.Get("function_call.name").String()) != "" {
		return false
	}
	text := msg.Get("content").String()
	return strings.Contains(text, core.ToolCallMarker) || embeddedCallPattern.MatchString(text)
}

// Run sends body and, while the reply needs correction and the ceiling
// allows, appends the assistant text plus CorrectiveInstruction and sends
// again. At the ceiling the last reply is returned unmodified. Non-2xx
// replies end the loop immediately.
func (l *CorrectiveLoop) Run(ctx context.Context, body []byte, send SendFunc) (*Outcome, error) {
	current := body
	out := &Outcome{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, resp, err := send(ctx, current)
		if err != nil {
			return nil, err
		}
		out.Iterations++
		out.Status, out.Body = status, resp

		if status < 200 || status >= 300 || !NeedsCorrection(resp) {
			return out, nil
		}
		if out.Iterations >= l.maxIterations {
			out.Exhausted = true
			l.logger.Warn("tool call still missing after %d iterations, returning last reply", out.Iterations)
			return out, nil
		}

		current, err = appendCorrection(current, resp)
		if err != nil {
			return nil, core.NewInternalError("failed to build corrective request", err)
		}
		l.metrics.RecordCorrectiveRetry()
		l.logger.Debug("reply described a tool call in text, retrying (%d/%d)", out.Iterations+1, l.maxIterations)
	}
}

func appendCorrection(body, resp []byte) ([]byte, error) {
	text := gjson.GetBytes(resp, "choices.0.message.content").String()
	out, err := sjson.SetBytes(body, "messages.-1", core.ChatMessage{Role: core.RoleAssistant, Content: text})
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "messages.-1", core.ChatMessage{Role: core.RoleUser, Content: CorrectiveInstruction})
}
