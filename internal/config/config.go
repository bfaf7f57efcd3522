// Package config provides the configuration schema, loader, and provider
// registry for the tankd voice assistant server.
package config

import (
	"fmt"
	"os"
	"strings"
)

// LogLevel controls log verbosity for the tankd server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DuplicatePolicy selects what happens when a client connects with a session
// id that is already live.
type DuplicatePolicy string

const (
	// DuplicateReplace tears down the existing session and starts a new one.
	DuplicateReplace DuplicatePolicy = "replace"

	// DuplicateReject refuses the new connection.
	DuplicateReject DuplicatePolicy = "reject"
)

// IsValid reports whether p is a recognised duplicate policy.
func (p DuplicatePolicy) IsValid() bool {
	return p == DuplicateReplace || p == DuplicateReject
}

// Config is the root configuration structure for tankd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings for the tankd server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// OriginPatterns lists host patterns allowed to open cross-origin
	// WebSocket connections ("*" disables the origin check). Empty means
	// same-origin only.
	OriginPatterns []string `yaml:"origin_patterns"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	ASR ProviderEntry `yaml:"asr"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o",
	// "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`

	// Fallbacks lists additional providers tried in order when the primary
	// fails or its circuit breaker is open. Fallback entries must not
	// themselves declare fallbacks.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// SessionConfig tunes the assistant behaviour applied to every new session.
type SessionConfig struct {
	// DuplicatePolicy selects what happens when a session id is already in
	// use: "replace" (default) or "reject".
	DuplicatePolicy DuplicatePolicy `yaml:"duplicate_policy"`

	// MaxTurns bounds the conversation history kept per session. Zero means
	// the built-in default.
	MaxTurns int `yaml:"max_turns"`

	// SystemPrompt is the assistant persona injected as the first history
	// record. Mutually exclusive with SystemPromptFile.
	SystemPrompt string `yaml:"system_prompt"`

	// SystemPromptFile is a path to a text file holding the system prompt.
	// Mutually exclusive with SystemPrompt.
	SystemPromptFile string `yaml:"system_prompt_file"`

	// Voice optionally names the TTS voice used for synthesis. Empty lets the
	// provider pick a per-language default.
	Voice string `yaml:"voice"`

	// Language is the BCP-47 recognition hint handed to the ASR stream
	// (e.g., "en", "zh"). Empty or "auto" lets the engine detect.
	Language string `yaml:"language"`

	// Temperature is the LLM sampling temperature in [0.0, 2.0]. Zero means
	// the built-in default.
	Temperature float64 `yaml:"temperature"`

	// SpeakerLabel is the display name attached to user transcripts. Empty
	// means "User".
	SpeakerLabel string `yaml:"speaker_label"`
}

// ResolveSystemPrompt returns the effective system prompt: the inline value,
// or the contents of SystemPromptFile when set. An empty string means the
// built-in default prompt.
func (s SessionConfig) ResolveSystemPrompt() (string, error) {
	if s.SystemPromptFile == "" {
		return s.SystemPrompt, nil
	}
	data, err := os.ReadFile(s.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("config: read system prompt file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// MCPConfig holds the list of Model Context Protocol servers to connect to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in
	// logs and errors).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism: "stdio" or "http".
	Transport string `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for http transport.
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is "http"
	// (e.g., "https://mcp.example.com/mcp"). Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}
