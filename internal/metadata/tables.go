package metadata

import (
	"strconv"
	"strings"
)

// Rule maps any of its substring patterns to a label. A rule with no
// patterns always matches and serves as the table default.
type Rule struct {
	Patterns []string
	Label    string
}

// Table is an ordered list of rules evaluated first to last.
type Table []Rule

// Match returns the label of the first rule matching id case-insensitively.
func (t Table) Match(id string) string {
	lower := strings.ToLower(id)
	for _, rule := range t {
		if len(rule.Patterns) == 0 {
			return rule.Label
		}
		for _, p := range rule.Patterns {
			if strings.Contains(lower, p) {
				return rule.Label
			}
		}
	}
	return ""
}

var familyRules = []Rule{
	{Patterns: []string{"llama"}, Label: "llama"},
	{Patterns: []string{"mistral"}, Label: "mistral"},
	{Patterns: []string{"qwen"}, Label: "qwen"},
	{Patterns: []string{"gemma"}, Label: "gemma"},
}

func familyTable(fallback string) Table {
	t := make(Table, 0, len(familyRules)+1)
	t = append(t, familyRules...)
	return append(t, Rule{Label: fallback})
}

// ShowFamilies infers the architecture family for /api/show descriptors.
var ShowFamilies = familyTable("llama")

// TagFamilies infers the family for /api/tags entries, where an unknown
// family is reported as such.
var TagFamilies = familyTable("unknown")

// ParameterSizes infers a parameter-size label, defaulting to 7B.
var ParameterSizes = Table{
	{Patterns: []string{"32b", "32-b"}, Label: "32B"},
	{Patterns: []string{"14b", "14-b"}, Label: "14B"},
	{Patterns: []string{"8b", "8-b"}, Label: "8B"},
	{Patterns: []string{"70b", "70-b"}, Label: "70B"},
	{Label: "7B"},
}

// parameterCount converts a size label such as "14B" into a parameter count.
func parameterCount(label string) int64 {
	n, err := strconv.ParseInt(strings.TrimSuffix(label, "B"), 10, 64)
	if err != nil || n <= 0 {
		return 7_000_000_000
	}
	return n * 1_000_000_000
}
