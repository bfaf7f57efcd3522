package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tanklabs/tankd/pkg/types"
)

func echoTool(name string) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        name,
			Description: "echoes its arguments",
			Parameters:  Schema(Param{Name: "value", Type: "string", Description: "value to echo", Required: true}),
		},
		Handler: func(_ context.Context, args string) (string, error) {
			return args, nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(echoTool("echo")); err == nil {
		t.Error("duplicate Register should fail")
	}
}

func TestRegisterRejectsEmptyNameAndNilHandler(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Tool{}); err == nil {
		t.Error("empty name should fail")
	}
	if err := r.Register(Tool{Definition: types.ToolDefinition{Name: "x"}}); err == nil {
		t.Error("nil handler should fail")
	}
}

func TestDefinitionsPreserveRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zulu", "alpha", "mike"} {
		if err := r.Register(echoTool(name)); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	defs := r.Definitions()
	if len(defs) != 3 || defs[0].Name != "zulu" || defs[1].Name != "alpha" || defs[2].Name != "mike" {
		t.Errorf("definitions out of order: %+v", defs)
	}
}

func TestManifestShape(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	raw, err := r.Manifest()
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}

	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["type"] != "function" {
		t.Errorf("entry type = %v, want function", entries[0]["type"])
	}
	fn, ok := entries[0]["function"].(map[string]any)
	if !ok {
		t.Fatal("entry missing function object")
	}
	if fn["name"] != "echo" {
		t.Errorf("function name = %v, want echo", fn["name"])
	}
	params, ok := fn["parameters"].(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("parameters = %v, want object schema", fn["parameters"])
	}
}

func TestExecuteUnknownToolListsAvailable(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, ok := r.Execute(context.Background(), types.ToolCall{Name: "missing"})
	if ok {
		t.Error("unknown tool should report failure")
	}
	var e map[string]any
	if err := json.Unmarshal([]byte(result), &e); err != nil {
		t.Fatalf("error result is not JSON: %v", err)
	}
	if !strings.Contains(e["error"].(string), "unknown tool") {
		t.Errorf("error = %v, want mention of unknown tool", e["error"])
	}
	avail, _ := e["available_tools"].([]any)
	if len(avail) != 1 || avail[0] != "echo" {
		t.Errorf("available_tools = %v, want [echo]", avail)
	}
}

func TestExecuteRejectsMalformedArguments(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, ok := r.Execute(context.Background(), types.ToolCall{Name: "echo", Arguments: "{not json"})
	if ok {
		t.Error("malformed arguments should report failure")
	}
	if !strings.Contains(result, "not valid JSON") {
		t.Errorf("result = %q, want JSON validity error", result)
	}
}

func TestExecuteWrapsHandlerError(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Tool{
		Definition: types.ToolDefinition{Name: "boom", Description: "always fails"},
		Handler: func(_ context.Context, _ string) (string, error) {
			return "", errors.New("kaput")
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, ok := r.Execute(context.Background(), types.ToolCall{Name: "boom", Arguments: `{"a":1}`})
	if ok {
		t.Error("handler error should report failure")
	}
	var e map[string]any
	if err := json.Unmarshal([]byte(result), &e); err != nil {
		t.Fatalf("error result is not JSON: %v", err)
	}
	if e["error"] != "kaput" || e["tool_name"] != "boom" {
		t.Errorf("error payload = %v", e)
	}
	if e["parameters"] != `{"a":1}` {
		t.Errorf("parameters = %v, want original args", e["parameters"])
	}
}

func TestExecuteSuccess(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, ok := r.Execute(context.Background(), types.ToolCall{Name: "echo", Arguments: `{"value":"hi"}`})
	if !ok {
		t.Errorf("Execute failed: %s", result)
	}
	if result != `{"value":"hi"}` {
		t.Errorf("result = %q", result)
	}
}

func TestExecuteEmptyArgumentsDefaultsToObject(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, ok := r.Execute(context.Background(), types.ToolCall{Name: "echo"})
	if !ok || result != "{}" {
		t.Errorf("Execute with empty args = (%q, %v), want ({}, true)", result, ok)
	}
}
