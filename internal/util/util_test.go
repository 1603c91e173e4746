package util

import (
	"strings"
	"testing"
	"time"

	"toolproxy/internal/core"
)

func TestParseEnvList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"single value", "value1", []string{"value1"}},
		{"several values", "value1,value2,value3", []string{"value1", "value2", "value3"}},
		{"spaces trimmed", "value1, value2 , value3", []string{"value1", "value2", "value3"}},
		{"empty entries skipped", "value1,,value2", []string{"value1", "value2"}},
		{"trailing comma", "value1,value2,", []string{"value1", "value2"}},
		{"only blanks", "  ,  ,  ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseEnvList(tt.input)
			if tt.expected == nil {
				if result != nil {
					t.Errorf("expected nil, got %v", result)
				}
				return
			}
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d items, got %d", len(tt.expected), len(result))
			}
			for i, expected := range tt.expected {
				if result[i] != expected {
					t.Errorf("index %d: expected %q, got %q", i, expected, result[i])
				}
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name, input, replacement, expected string
		prefixLen, suffixLen               int
	}{
		{"short string untouched", "short", "...", "short", 3, 3},
		{"long string truncated", "1234567890", "...", "123...890", 3, 3},
		{"suffix only", "1234567890", "...", "...7890", 0, 4},
		{"prefix only", "1234567890", "...", "1234...", 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TruncateString(tt.input, tt.prefixLen, tt.suffixLen, tt.replacement)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestTokenPrefix(t *testing.T) {
	tests := []struct {
		name, token, expected string
	}{
		{"empty", "", "<empty>"},
		{"long token", "sk-abcdefghijklmnop", "sk-abcde..."},
		{"short token", "abcd", "ab..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokenPrefix(tt.token); got != tt.expected {
				t.Errorf("TokenPrefix(%q) = %q, want %q", tt.token, got, tt.expected)
			}
			if tt.token != "" && strings.Contains(TokenPrefix(tt.token), tt.token) {
				t.Errorf("TokenPrefix leaked the whole token %q", tt.token)
			}
		})
	}
}

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("TOOLPROXY_TEST_SET", "actual_value")
	t.Setenv("TOOLPROXY_TEST_EMPTY", "")

	if got := GetEnvWithDefault("TOOLPROXY_TEST_UNSET_12345", "default_value"); got != "default_value" {
		t.Errorf("unset: got %q", got)
	}
	if got := GetEnvWithDefault("TOOLPROXY_TEST_SET", "default_value"); got != "actual_value" {
		t.Errorf("set: got %q", got)
	}
	if got := GetEnvWithDefault("TOOLPROXY_TEST_EMPTY", "default_value"); got != "default_value" {
		t.Errorf("empty: got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TOOLPROXY_TEST_INT", "42")
	t.Setenv("TOOLPROXY_TEST_BAD_INT", "forty")

	if v, err := GetEnvInt("TOOLPROXY_TEST_INT", 7); err != nil || v != 42 {
		t.Errorf("got %d, %v", v, err)
	}
	if v, err := GetEnvInt("TOOLPROXY_TEST_INT_UNSET", 7); err != nil || v != 7 {
		t.Errorf("got %d, %v", v, err)
	}
	if _, err := GetEnvInt("TOOLPROXY_TEST_BAD_INT", 7); err == nil {
		t.Error("expected error for malformed integer")
	}
}

func TestGetEnvBoolAndDuration(t *testing.T) {
	t.Setenv("TOOLPROXY_TEST_BOOL", "TRUE")
	t.Setenv("TOOLPROXY_TEST_DUR", "250ms")
	t.Setenv("TOOLPROXY_TEST_BAD_DUR", "soon")

	if !GetEnvBool("TOOLPROXY_TEST_BOOL", false) {
		t.Error("expected true")
	}
	if !GetEnvBool("TOOLPROXY_TEST_BOOL_UNSET", true) {
		t.Error("expected default true")
	}
	if d, err := GetEnvDuration("TOOLPROXY_TEST_DUR", time.Second); err != nil || d != 250*time.Millisecond {
		t.Errorf("got %v, %v", d, err)
	}
	if _, err := GetEnvDuration("TOOLPROXY_TEST_BAD_DUR", time.Second); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestEstimateTokenCount(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{"empty", "", 0},
		{"four runes", "test", 2},
		{"eight runes", "testtest", 4},
		{"below minimum", "hi", 1},
		{"long text", strings.Repeat("a", 100), 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := EstimateTokenCount(tt.text); result != tt.expected {
				t.Errorf("EstimateTokenCount(%q) = %d, want %d", tt.text, result, tt.expected)
			}
		})
	}
}

func TestGenerateRandomID(t *testing.T) {
	id := GenerateRandomID(core.ToolCallIDPrefix)
	if !strings.HasPrefix(id, core.ToolCallIDPrefix) {
		t.Errorf("id should start with %q, got %q", core.ToolCallIDPrefix, id)
	}
	if len(id) != len(core.ToolCallIDPrefix)+20 {
		t.Errorf("unexpected id length %d", len(id))
	}
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		newID := GenerateRandomID(core.ToolCallIDPrefix)
		if ids[newID] {
			t.Errorf("duplicate id: %s", newID)
		}
		ids[newID] = true
	}
}

func TestRandomHex(t *testing.T) {
	h := RandomHex(32)
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
	if strings.Trim(h, "0123456789abcdef") != "" {
		t.Errorf("non-hex characters in %q", h)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct{ base, path, expected string }{
		{"http://host:8000", "/v1/models", "http://host:8000/v1/models"},
		{"http://host:8000/", "/v1/models", "http://host:8000/v1/models"},
		{"http://host:8000/", "api/tags", "http://host:8000/api/tags"},
		{"http://host:8000/", "", "http://host:8000"},
	}
	for _, tt := range tests {
		if got := JoinURL(tt.base, tt.path); got != tt.expected {
			t.Errorf("JoinURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.expected)
		}
	}
}
