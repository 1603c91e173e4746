package stream

import (
	"sort"
	"strings"

	"toolproxy/internal/core"
	"toolproxy/internal/util"
)

// toolCallBuffer tracks one tool call across fragments.
type toolCallBuffer struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// ToolCallAccumulator reassembles the tool-call deltas of one choice. Calls
// are keyed by their index in the tool_calls array; argument fragments are
// appended in arrival order and never replaced.
type ToolCallAccumulator struct {
	calls map[int]*toolCallBuffer
	size  int
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*toolCallBuffer)}
}

// Add merges a fragment into the call at its index.
func (a *ToolCallAccumulator) Add(d core.ToolCallDelta) {
	buf, ok := a.calls[d.Index]
	if !ok {
		buf = &toolCallBuffer{}
		a.calls[d.Index] = buf
	}
	if buf.id == "" && d.ID != "" {
		buf.id = d.ID
		a.size += len(d.ID)
	}
	if buf.typ == "" && d.Type != "" {
		buf.typ = d.Type
	}
	if buf.name == "" && d.Function.Name != "" {
		buf.name = d.Function.Name
		a.size += len(d.Function.Name)
	}
	buf.args.WriteString(d.Function.Arguments)
	a.size += len(d.Function.Arguments)
}

// Len returns the number of pending calls.
func (a *ToolCallAccumulator) Len() int {
	return len(a.calls)
}

// Size returns the bytes currently buffered.
func (a *ToolCallAccumulator) Size() int {
	return a.size
}

// Complete returns the pending calls ordered by index and resets the
// accumulator. Calls that never received an id get a generated one.
func (a *ToolCallAccumulator) Complete() []core.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]core.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		buf := a.calls[idx]
		id := buf.id
		if id == "" {
			id = util.GenerateRandomID(core.ToolCallIDPrefix)
		}
		typ := buf.typ
		if typ == "" {
			typ = core.ToolTypeFunction
		}
		out = append(out, core.ToolCall{
			Index: &idx,
			ID:    id,
			Type:  typ,
			Function: core.Function{
				Name:      buf.name,
				Arguments: buf.args.String(),
			},
		})
	}

	a.calls = make(map[int]*toolCallBuffer)
	a.size = 0
	return out
}
