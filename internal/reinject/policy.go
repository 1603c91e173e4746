// Package reinject keeps tool definitions in front of the model during long
// chat histories and bounds the corrective retry issued when a reply mentions
// a tool call without making one.
package reinject

import (
	"fmt"
	"strings"

	"toolproxy/internal/config"
	"toolproxy/internal/core"
	"toolproxy/internal/util"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ReminderPrefix starts every reminder message. Counting restarts after the
// most recent message carrying it.
const ReminderPrefix = "[Tool reminder]"

// Decision records what the policy did to one request.
type Decision struct {
	Reinjected bool
	Mode       string
	// Messages and Tokens are the counters observed since tool definitions
	// were last communicated.
	Messages int
	Tokens   int
}

// Policy decides per request whether tool definitions are restated.
type Policy struct {
	cfg     config.ReinjectionConfig
	logger  core.Logger
	metrics core.MetricsCollector
}

// NewPolicy creates a Policy.
func NewPolicy(cfg config.ReinjectionConfig, logger core.Logger, metrics core.MetricsCollector) *Policy {
	if cfg.MessageCount <= 0 {
		cfg.MessageCount = core.DefaultReinjectionMessages
	}
	if cfg.TokenCount <= 0 {
		cfg.TokenCount = core.DefaultReinjectionTokens
	}
	if cfg.Type == "" {
		cfg.Type = core.DefaultReinjectionType
	}
	if logger == nil {
		logger = &core.NopLogger{}
	}
	if metrics == nil {
		metrics = &core.NopMetrics{}
	}
	return &Policy{cfg: cfg, logger: logger, metrics: metrics}
}

// Enabled reports whether reinjection is switched on.
func (p *Policy) Enabled() bool {
	return p.cfg.Enabled
}

// Counters returns the message and estimated token counts accumulated since
// the last reminder, or since the start of the transcript.
func Counters(messages []core.ChatMessage) (count, tokens int) {
	start := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if isReminder(messages[i]) {
			start = i + 1
			break
		}
	}
	for _, m := range messages[start:] {
		count++
		tokens += util.EstimateTokenCount(core.MessageText(m.Content))
		for _, tc := range m.ToolCalls {
			tokens += util.EstimateTokenCount(tc.Function.Name + tc.Function.Arguments)
		}
	}
	return count, tokens
}

func isReminder(m core.ChatMessage) bool {
	return m.Role == core.RoleSystem && strings.HasPrefix(core.MessageText(m.Content), ReminderPrefix)
}

// Apply returns body with a reminder inserted before the final user turn when
// the request declares tools and a threshold is exceeded. Other fields of
// body are preserved as sent.
func (p *Policy) Apply(body []byte, req *core.ChatCompletionRequest) ([]byte, Decision, error) {
	var d Decision
	if !p.cfg.Enabled || req == nil || !req.HasTools() {
		return body, d, nil
	}

	d.Messages, d.Tokens = Counters(req.Messages)
	if d.Messages <= p.cfg.MessageCount && d.Tokens <= p.cfg.TokenCount {
		return body, d, nil
	}

	reminder, err := p.reminder(body, req)
	if err != nil {
		return body, d, err
	}
	out, err := insertBeforeLastUser(body, reminder)
	if err != nil {
		return body, d, err
	}

	d.Reinjected = true
	d.Mode = p.cfg.Type
	p.metrics.RecordReinjection(d.Mode)
	p.logger.Debug("reinjected tool definitions (%s) after %d messages / ~%d tokens", d.Mode, d.Messages, d.Tokens)
	return out, d, nil
}

func (p *Policy) reminder(body []byte, req *core.ChatCompletionRequest) ([]byte, error) {
	var content string
	if p.cfg.Type == core.ReinjectionTypeNames {
		content = fmt.Sprintf("%s You can call these tools: %s. Use the tool calling format when one of them is needed.",
			ReminderPrefix, strings.Join(req.ToolNames(), ", "))
	} else {
		schema := gjson.GetBytes(body, "tools").Raw
		if schema == "" {
			schema = gjson.GetBytes(body, "functions").Raw
		}
		content = fmt.Sprintf("%s These tools are available. Use the tool calling format when one of them is needed.\n%s",
			ReminderPrefix, schema)
	}
	return util.MarshalJSON(core.ChatMessage{Role: core.RoleSystem, Content: content})
}

// insertBeforeLastUser splices raw message JSON into the messages array
// before the last user message, or at the end when there is none.
func insertBeforeLastUser(body, message []byte) ([]byte, error) {
	messages := gjson.GetBytes(body, "messages").Array()
	at := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Get("role").String() == core.RoleUser {
			at = i
			break
		}
	}

	raws := make([]string, 0, len(messages)+1)
	for i, m := range messages {
		if i == at {
			raws = append(raws, string(message))
		}
		raws = append(raws, m.Raw)
	}
	if at == len(messages) {
		raws = append(raws, string(message))
	}
	return sjson.SetRawBytes(body, "messages", []byte("["+strings.Join(raws, ",")+"]"))
}
