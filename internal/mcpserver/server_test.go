package mcpserver

import (
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		val      int
		min      int
		max      int
		expected int
	}{
		{"value in range", 5, 1, 10, 5},
		{"value below min", -3, 1, 10, 1},
		{"value above max", 15, 1, 10, 10},
		{"value equals min", 1, 1, 10, 1},
		{"value equals max", 10, 1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(tt.val, tt.min, tt.max)
			if got != tt.expected {
				t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.expected)
			}
		})
	}
}

func TestBoolPtr(t *testing.T) {
	truePtr := boolPtr(true)
	if truePtr == nil || *truePtr != true {
		t.Error("boolPtr(true) wrong")
	}
	falsePtr := boolPtr(false)
	if falsePtr == nil || *falsePtr != false {
		t.Error("boolPtr(false) wrong")
	}
}

func TestJSONResource(t *testing.T) {
	contents, err := jsonResource("iot://devices", []map[string]string{{"id": "d-1"}})
	if err != nil {
		t.Fatalf("jsonResource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d entries, want 1", len(contents))
	}
}

func TestToolError(t *testing.T) {
	result, err := toolError("device %q not found", "d-404")
	if err != nil {
		t.Fatalf("toolError returned transport error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("toolError result not flagged as error")
	}
}

func TestSuccessJSON(t *testing.T) {
	result, err := successJSON(map[string]any{"status": "online"})
	if err != nil {
		t.Fatalf("successJSON: %v", err)
	}
	if result == nil || result.IsError {
		t.Fatal("successJSON produced an error result")
	}
	if len(result.Content) != 1 {
		t.Fatalf("content = %d entries, want 1", len(result.Content))
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", result.Content[0])
	}
	if !strings.Contains(text.Text, "online") {
		t.Error("serialized payload missing data")
	}
}
