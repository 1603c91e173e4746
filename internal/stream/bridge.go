package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"toolproxy/internal/core"
	"toolproxy/internal/util"

	"github.com/tidwall/sjson"
)

// Abort reasons reported to the metrics collector.
const (
	AbortOverflow   = "overflow"
	AbortTimeout    = "idle_timeout"
	AbortClientGone = "client_disconnect"
	AbortUpstream   = "upstream_error"
)

// Sink receives the events relayed to the client.
type Sink interface {
	WriteData(data []byte) error
	WriteComment(text []byte) error
}

// WriterSink writes SSE frames to W and flushes after each one. OnStart runs
// before the first frame, which is where response headers get committed.
type WriterSink struct {
	W       io.Writer
	OnStart func()
	started bool
}

// Started reports whether any frame was written.
func (s *WriterSink) Started() bool {
	return s.started
}

// WriteData writes a data frame.
func (s *WriterSink) WriteData(data []byte) error {
	return s.write(core.StreamChunkPrefix, data)
}

// WriteComment writes a comment frame.
func (s *WriterSink) WriteComment(text []byte) error {
	return s.write(": ", text)
}

func (s *WriterSink) write(prefix string, payload []byte) error {
	if !s.started {
		s.started = true
		if s.OnStart != nil {
			s.OnStart()
		}
	}
	frame := make([]byte, 0, len(prefix)+len(payload)+2)
	frame = append(frame, prefix...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	if _, err := s.W.Write(frame); err != nil {
		return err
	}
	if f, ok := s.W.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Summary describes a finished relay.
type Summary struct {
	Events       int
	ToolCalls    int
	FinishReason string
	Completed    bool
}

// Bridge relays one backend stream to a client sink. Content and reasoning
// deltas pass through untouched; tool-call deltas are held back and emitted
// as one complete chunk when their choice finishes.
type Bridge struct {
	limits  Limits
	logger  core.Logger
	metrics core.MetricsCollector
}

// NewBridge creates a Bridge.
func NewBridge(limits Limits, logger core.Logger, metrics core.MetricsCollector) *Bridge {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	if metrics == nil {
		metrics = &core.NopMetrics{}
	}
	return &Bridge{limits: limits, logger: logger, metrics: metrics}
}

// Limits returns the configured limits.
func (b *Bridge) Limits() Limits {
	return b.limits
}

type relayState struct {
	accs    map[int]*ToolCallAccumulator
	id      string
	model   string
	created int64
	summary Summary
}

func (st *relayState) pending() int {
	total := 0
	for _, acc := range st.accs {
		total += acc.Size()
	}
	return total
}

func (st *relayState) acc(choice int) *ToolCallAccumulator {
	acc, ok := st.accs[choice]
	if !ok {
		acc = NewToolCallAccumulator()
		st.accs[choice] = acc
	}
	return acc
}

// Relay pumps body into sink until the backend sends [DONE], the body ends,
// ctx is canceled or a limit is hit. body is always closed. When the body ends
// without [DONE], pending tool calls are flushed and [DONE] is written.
func (b *Bridge) Relay(ctx context.Context, body io.ReadCloser, sink Sink) (Summary, error) {
	reader := NewEventReader(body, b.limits)
	defer reader.Close()

	st := &relayState{accs: make(map[int]*ToolCallAccumulator)}
	for {
		ev, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			if err := b.finish(st, sink); err != nil {
				return st.summary, b.abort(AbortClientGone, err)
			}
			return st.summary, nil
		}
		if err != nil {
			return st.summary, b.abort(abortReason(err), err)
		}
		st.summary.Events++

		if ev.Comment {
			if err := sink.WriteComment(ev.Data); err != nil {
				return st.summary, b.abort(AbortClientGone, err)
			}
			continue
		}

		data := bytes.TrimSpace(ev.Data)
		if len(data) == 0 {
			continue
		}
		if string(data) == core.StreamChunkDoneMessage {
			if err := b.finish(st, sink); err != nil {
				return st.summary, b.abort(AbortClientGone, err)
			}
			return st.summary, nil
		}

		if err := b.relayChunk(st, data, sink); err != nil {
			return st.summary, err
		}
	}
}

func (b *Bridge) relayChunk(st *relayState, data []byte, sink Sink) error {
	var chunk core.StreamChunk
	if err := util.UnmarshalJSON(data, &chunk); err != nil {
		b.logger.Warn("relaying undecodable stream chunk verbatim: %v", err)
		if err := sink.WriteData(data); err != nil {
			return b.abort(AbortClientGone, err)
		}
		return nil
	}
	if chunk.ID != "" {
		st.id, st.model, st.created = chunk.ID, chunk.Model, chunk.Created
	}

	out := data
	hasToolDeltas, hasText, finishing := false, false, false
	for i, choice := range chunk.Choices {
		if len(choice.Delta.ToolCalls) > 0 {
			hasToolDeltas = true
			acc := st.acc(choice.Index)
			for _, d := range choice.Delta.ToolCalls {
				acc.Add(d)
			}
			stripped, err := sjson.DeleteBytes(out, fmt.Sprintf("choices.%d.delta.tool_calls", i))
			if err != nil {
				return b.abort(AbortUpstream, core.NewUpstreamError("failed to strip tool-call delta", err))
			}
			out = stripped
		}
		if choice.Delta.HasText() {
			hasText = true
		}
		if choice.FinishReason != nil {
			finishing = true
		}
	}

	if limit := b.limits.MaxBufferSize; limit > 0 && st.pending() > limit {
		return b.abort(AbortOverflow, core.NewStreamOverflowError(limit))
	}

	for _, choice := range chunk.Choices {
		if choice.FinishReason == nil {
			continue
		}
		st.summary.FinishReason = *choice.FinishReason
		if err := b.flushChoice(st, choice.Index, nil, sink); err != nil {
			return b.abort(AbortClientGone, err)
		}
	}

	if hasToolDeltas && !hasText && !finishing {
		return nil
	}
	if err := sink.WriteData(out); err != nil {
		return b.abort(AbortClientGone, err)
	}
	return nil
}

// flushChoice emits the completed tool calls of one choice as a single chunk.
func (b *Bridge) flushChoice(st *relayState, choice int, finish *string, sink Sink) error {
	acc, ok := st.accs[choice]
	if !ok || acc.Len() == 0 {
		return nil
	}
	calls := acc.Complete()
	for _, call := range calls {
		if call.Function.Arguments != "" && !util.ValidJSON([]byte(call.Function.Arguments)) {
			b.logger.Warn("tool call %s has arguments that are not valid JSON", call.Function.Name)
		}
	}
	st.summary.ToolCalls += len(calls)
	b.metrics.RecordToolCallsReassembled(len(calls))

	id := st.id
	if id == "" {
		id = util.GenerateRandomID(core.ResponseIDPrefix)
	}
	payload, err := util.MarshalJSON(core.OutboundChunk{
		ID:      id,
		Object:  core.ChatCompletionChunkObjectType,
		Created: st.created,
		Model:   st.model,
		Choices: []core.OutboundChoice{{
			Index:        choice,
			Delta:        core.OutboundDelta{Role: core.RoleAssistant, ToolCalls: calls},
			FinishReason: finish,
		}},
	})
	if err != nil {
		return err
	}
	return sink.WriteData(payload)
}

// finish flushes tool calls whose choice never signaled a finish reason and
// writes the terminating [DONE].
func (b *Bridge) finish(st *relayState, sink Sink) error {
	reason := core.FinishReasonToolCalls
	choices := make([]int, 0, len(st.accs))
	for choice, acc := range st.accs {
		if acc.Len() > 0 {
			choices = append(choices, choice)
		}
	}
	sort.Ints(choices)
	for _, choice := range choices {
		st.summary.FinishReason = reason
		if err := b.flushChoice(st, choice, &reason, sink); err != nil {
			return err
		}
	}
	st.summary.Completed = true
	return sink.WriteData([]byte(core.StreamChunkDoneMessage))
}

func (b *Bridge) abort(reason string, err error) error {
	if errors.Is(err, context.Canceled) {
		reason = AbortClientGone
	}
	b.metrics.RecordStreamAbort(reason)
	b.logger.Warn("stream aborted (%s): %v", reason, err)
	return err
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, core.ErrStreamOverflow):
		return AbortOverflow
	case errors.Is(err, core.ErrStreamTimeout):
		return AbortTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return AbortClientGone
	default:
		return AbortUpstream
	}
}
