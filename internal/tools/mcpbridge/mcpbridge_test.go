package mcpbridge

import (
	"context"
	"testing"

	"github.com/tanklabs/tankd/internal/tools"
)

func TestConnectValidatesConfig(t *testing.T) {
	b := New()
	reg := tools.NewRegistry()
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  ServerConfig
	}{
		{"empty name", ServerConfig{Transport: TransportStdio, Command: "/bin/true"}},
		{"unknown transport", ServerConfig{Name: "x", Transport: "carrier-pigeon"}},
		{"stdio without command", ServerConfig{Name: "x", Transport: TransportStdio}},
		{"http without url", ServerConfig{Name: "x", Transport: TransportStreamableHTTP}},
	}
	for _, tc := range cases {
		if err := b.Connect(ctx, reg, tc.cfg); err == nil {
			t.Errorf("%s: Connect should fail", tc.name)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	exe, args := splitCommand("/bin/foo --bar baz")
	if exe != "/bin/foo" || len(args) != 2 || args[0] != "--bar" || args[1] != "baz" {
		t.Errorf("splitCommand = %q %v", exe, args)
	}

	exe, args = splitCommand("")
	if exe != "" || args != nil {
		t.Errorf("splitCommand(\"\") = %q %v, want empty", exe, args)
	}
}

func TestSchemaToMap(t *testing.T) {
	if m := schemaToMap(nil); m["type"] != "object" {
		t.Errorf("nil schema = %v", m)
	}

	in := map[string]any{"type": "object", "properties": map[string]any{}}
	if m := schemaToMap(in); m["type"] != "object" {
		t.Errorf("map schema = %v", m)
	}

	type schema struct {
		Type string `json:"type"`
	}
	if m := schemaToMap(schema{Type: "object"}); m["type"] != "object" {
		t.Errorf("struct schema = %v", m)
	}
}

func TestHandlerWithoutSessionFails(t *testing.T) {
	b := New()
	h := b.handlerFor("ghost", "spook")
	if _, err := h(context.Background(), "{}"); err == nil {
		t.Error("handler for unconnected server should fail")
	}
}

func TestMergedEnvInheritsParent(t *testing.T) {
	if env := mergedEnv(nil); env != nil {
		t.Errorf("empty extra should return nil (inherit default), got %d entries", len(env))
	}

	t.Setenv("MCPBRIDGE_TEST_PARENT", "from-parent")
	env := mergedEnv(map[string]string{"MCPBRIDGE_TEST_EXTRA": "from-config"})

	found := map[string]bool{}
	for _, kv := range env {
		switch kv {
		case "MCPBRIDGE_TEST_PARENT=from-parent", "MCPBRIDGE_TEST_EXTRA=from-config":
			found[kv] = true
		}
	}
	if !found["MCPBRIDGE_TEST_PARENT=from-parent"] {
		t.Error("parent environment not inherited")
	}
	if !found["MCPBRIDGE_TEST_EXTRA=from-config"] {
		t.Error("configured entry missing")
	}
}
