// Package stream relays backend chat-completion streams: an SSE event reader
// bounded by a byte ceiling and an idle timeout, a tool-call fragment
// accumulator, and the bridge that ties both to a client sink.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"toolproxy/internal/core"
)

// Limits bounds a single backend exchange.
type Limits struct {
	// MaxBufferSize caps the bytes held for data not yet handed to the client.
	MaxBufferSize int
	// IdleTimeout caps the wait between successive backend data events.
	IdleTimeout time.Duration
}

// Event is one server-sent event. Comment events carry the comment text and
// are how backends keep idle connections open.
type Event struct {
	Data    []byte
	Comment bool
}

type readResult struct {
	event Event
	err   error
}

// EventReader parses an SSE body on a pump goroutine. The pump hands over one
// event at a time and does not read ahead, so a slow consumer stops reads from
// the backend.
type EventReader struct {
	body   io.ReadCloser
	limits Limits
	events chan readResult
	stop   chan struct{}
	once   sync.Once
	err    error
}

// NewEventReader starts reading body. Close must be called to release it.
func NewEventReader(body io.ReadCloser, limits Limits) *EventReader {
	r := &EventReader{
		body:   body,
		limits: limits,
		events: make(chan readResult),
		stop:   make(chan struct{}),
	}
	go r.pump()
	return r
}

// Next returns the next event. It returns io.EOF at the end of the body, a
// stream timeout error when the backend stays silent for longer than the idle
// timeout and ctx.Err() when ctx is canceled. Errors are sticky.
func (r *EventReader) Next(ctx context.Context) (Event, error) {
	if r.err != nil {
		return Event{}, r.err
	}

	var timeout <-chan time.Time
	if r.limits.IdleTimeout > 0 {
		timer := time.NewTimer(r.limits.IdleTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res, ok := <-r.events:
		if !ok {
			r.err = io.EOF
			return Event{}, r.err
		}
		if res.err != nil {
			r.fail(res.err)
			return Event{}, r.err
		}
		return res.event, nil
	case <-timeout:
		r.fail(core.NewStreamTimeoutError(r.limits.IdleTimeout))
		return Event{}, r.err
	case <-ctx.Done():
		r.fail(ctx.Err())
		return Event{}, r.err
	}
}

func (r *EventReader) fail(err error) {
	r.err = err
	if !errors.Is(err, io.EOF) {
		r.Close()
	}
}

// Close stops the pump and closes the body. It is safe to call repeatedly.
func (r *EventReader) Close() {
	r.once.Do(func() {
		close(r.stop)
		_ = r.body.Close()
	})
}

func (r *EventReader) send(res readResult) bool {
	select {
	case r.events <- res:
		return true
	case <-r.stop:
		return false
	}
}

func (r *EventReader) pump() {
	defer close(r.events)

	br := bufio.NewReaderSize(r.body, core.StreamReadChunkSize)
	var (
		line    []byte
		data    []byte
		hasData bool
	)

	dispatch := func() bool {
		if !hasData {
			return true
		}
		ev := Event{Data: append([]byte(nil), data...)}
		data = data[:0]
		hasData = false
		return r.send(readResult{event: ev})
	}

	for {
		frag, err := br.ReadSlice('\n')
		if limit := r.limits.MaxBufferSize; limit > 0 && len(data)+len(line)+len(frag) > limit {
			r.send(readResult{err: core.NewStreamOverflowError(limit)})
			return
		}
		line = append(line, frag...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			r.send(readResult{err: core.NewUpstreamError("stream read failed", err)})
			return
		}

		if len(line) > 0 {
			text := bytes.TrimRight(line, "\r\n")
			line = line[:0]
			switch {
			case len(text) == 0:
				if !dispatch() {
					return
				}
			case text[0] == ':':
				comment := bytes.TrimSpace(text[1:])
				if !r.send(readResult{event: Event{Data: append([]byte(nil), comment...), Comment: true}}) {
					return
				}
			default:
				field, value, _ := bytes.Cut(text, []byte(":"))
				if string(field) == "data" {
					value = bytes.TrimPrefix(value, []byte(" "))
					if hasData {
						data = append(data, '\n')
					}
					data = append(data, value...)
					hasData = true
				}
			}
		}

		if eof {
			dispatch()
			return
		}
	}
}

// ReadBody reads a complete non-streaming body with the same limits as a
// stream: at most limits.MaxBufferSize bytes and no gap between reads longer
// than limits.IdleTimeout. The body is closed on return.
func ReadBody(ctx context.Context, body io.ReadCloser, limits Limits) ([]byte, error) {
	defer func() { _ = body.Close() }()

	var timedOut atomic.Bool
	var timer *time.Timer
	if limits.IdleTimeout > 0 {
		timer = time.AfterFunc(limits.IdleTimeout, func() {
			timedOut.Store(true)
			_ = body.Close()
		})
		defer timer.Stop()
	}
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	var buf bytes.Buffer
	chunk := make([]byte, core.StreamReadChunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if timer != nil {
				timer.Reset(limits.IdleTimeout)
			}
			if limits.MaxBufferSize > 0 && buf.Len()+n > limits.MaxBufferSize {
				return nil, core.NewStreamOverflowError(limits.MaxBufferSize)
			}
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			switch {
			case timedOut.Load():
				return nil, core.NewStreamTimeoutError(limits.IdleTimeout)
			case ctx.Err() != nil:
				return nil, ctx.Err()
			default:
				return nil, core.NewUpstreamError("failed to read backend response", err)
			}
		}
	}
}
