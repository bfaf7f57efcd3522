// Package mcpbridge imports tools from external MCP servers into the tool
// registry.
//
// It connects via stdio or streamable-HTTP transports using the official MCP
// Go SDK (github.com/modelcontextprotocol/go-sdk), discovers each server's
// tool catalogue, and registers every discovered tool with a handler that
// routes calls back over the live session.
//
// Typical usage:
//
//	b := mcpbridge.New()
//
//	err := b.Connect(ctx, registry, mcpbridge.ServerConfig{
//	    Name:      "search",
//	    Transport: mcpbridge.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-search-server",
//	})
//
//	// ... tools are now callable through the registry ...
//
//	b.Close()
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tanklabs/tankd/internal/tools"
	"github.com/tanklabs/tankd/pkg/types"
)

// Supported transport values for [ServerConfig.Transport].
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "http"
)

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name is the unique identifier for this server, used in errors and to
	// detect reconnects.
	Name string

	// Transport is "stdio" (spawn a subprocess, talk over stdin/stdout) or
	// "http" (streamable HTTP endpoint).
	Transport string

	// Command is the executable path plus optional space-separated arguments,
	// used when Transport is "stdio".
	// Example: "/usr/local/bin/mcp-server --config /etc/mcp.json"
	Command string

	// URL is the endpoint address used when Transport is "http".
	URL string

	// Env holds additional environment variables injected into the server
	// process when Transport is "stdio". May be nil.
	Env map[string]string
}

// Bridge maintains live sessions to external MCP servers and exposes their
// tools through the shared registry. Safe for concurrent use.
//
// The zero value is not usable; create instances with [New].
type Bridge struct {
	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession // key: server name

	// client is reused across all server connections. The official SDK allows
	// a single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

// New creates a ready-to-use Bridge.
func New() *Bridge {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "tankd-mcpbridge", Version: "1.0.0"},
		nil,
	)
	return &Bridge{
		sessions: make(map[string]*mcpsdk.ClientSession),
		client:   client,
	}
}

// Connect establishes a session to the MCP server described by cfg, discovers
// its tool catalogue, and registers every tool with reg. If a server with the
// same Name is already connected, the old session is closed first.
//
// Returns an error if the transport cannot be established, the tool listing
// fails, or a discovered tool name collides with an already registered tool.
func (b *Bridge) Connect(ctx context.Context, reg *tools.Registry, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcpbridge: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcpbridge: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		cmd.Env = mergedEnv(cfg.Env)
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcpbridge: http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return fmt.Errorf("mcpbridge: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcpbridge: failed to connect to server %q: %w", cfg.Name, err)
	}

	// Discover tools using the iterator.
	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcpbridge: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	b.mu.Lock()
	if old, ok := b.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	b.sessions[cfg.Name] = session
	b.mu.Unlock()

	for _, mcpTool := range discovered {
		t := tools.Tool{
			Definition: types.ToolDefinition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  schemaToMap(mcpTool.InputSchema),
			},
			Handler: b.handlerFor(cfg.Name, mcpTool.Name),
		}
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("mcpbridge: server %q: %w", cfg.Name, err)
		}
	}

	return nil
}

// handlerFor builds a registry handler that routes calls to the named tool on
// the named server's live session.
func (b *Bridge) handlerFor(serverName, toolName string) func(ctx context.Context, args string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		b.mu.Lock()
		session, ok := b.sessions[serverName]
		b.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("mcpbridge: server %q is not connected", serverName)
		}

		var argsMap map[string]any
		if args != "" && args != "{}" {
			if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
				return "", fmt.Errorf("mcpbridge: invalid args JSON for tool %q: %w", toolName, err)
			}
		}

		result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolName,
			Arguments: argsMap,
		})
		if err != nil {
			return "", fmt.Errorf("mcpbridge: call to tool %q failed: %w", toolName, err)
		}

		// Concatenate all text content from the result.
		var sb strings.Builder
		for _, c := range result.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if result.IsError {
			return "", fmt.Errorf("mcpbridge: tool %q reported an error: %s", toolName, sb.String())
		}
		return sb.String(), nil
	}
}

// Close shuts down all server sessions. After Close the Bridge must not be
// used again; handlers already registered will fail with a not-connected
// error.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for name, session := range b.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcpbridge: error closing server %q: %w", name, err)
		}
		delete(b.sessions, name)
	}
	return firstErr
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// mergedEnv returns the parent process environment with extra entries
// appended. ServerConfig.Env is additive: the spawned server always inherits
// PATH, HOME and friends. A nil return leaves exec.Cmd's inherit default in
// place.
func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
