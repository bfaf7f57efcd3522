package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
  origin_patterns: ["*"]
providers:
  asr:
    name: deepgram
    api_key: dg-key
    model: nova-2
  llm:
    name: openai
    api_key: oa-key
    model: gpt-4o
    fallbacks:
      - name: ollama
        base_url: http://localhost:11434
        model: llama3
  tts:
    name: elevenlabs
    api_key: el-key
session:
  duplicate_policy: reject
  max_turns: 10
  system_prompt: You are a helpful assistant.
  language: en
  temperature: 0.4
  speaker_label: Pilot
mcp:
  servers:
    - name: search
      transport: stdio
      command: /usr/local/bin/mcp-search
      env:
        API_KEY: secret
    - name: remote
      transport: http
      url: https://mcp.example.com/mcp
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.ASR.Name != "deepgram" || cfg.Providers.ASR.Model != "nova-2" {
		t.Errorf("asr = %+v", cfg.Providers.ASR)
	}
	if len(cfg.Providers.LLM.Fallbacks) != 1 || cfg.Providers.LLM.Fallbacks[0].Name != "ollama" {
		t.Errorf("llm fallbacks = %+v", cfg.Providers.LLM.Fallbacks)
	}
	if cfg.Session.DuplicatePolicy != DuplicateReject || cfg.Session.MaxTurns != 10 {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Session.SpeakerLabel != "Pilot" {
		t.Errorf("speaker_label = %q", cfg.Session.SpeakerLabel)
	}
	if len(cfg.MCP.Servers) != 2 || cfg.MCP.Servers[0].Env["API_KEY"] != "secret" {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
}

func TestLoadFromReaderExpandsEnv(t *testing.T) {
	t.Setenv("TANKD_TEST_KEY", "sk-123")

	cfg, err := LoadFromReader(strings.NewReader(`
providers:
  asr: {name: deepgram}
  llm: {name: openai, api_key: ${TANKD_TEST_KEY}}
  tts: {name: elevenlabs}
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-123" {
		t.Errorf("api_key = %q, want expanded env value", cfg.Providers.LLM.APIKey)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":8080"
  banana: true
`))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateErrors(t *testing.T) {
	base := func() *Config {
		return &Config{
			Providers: ProvidersConfig{
				ASR: ProviderEntry{Name: "deepgram"},
				LLM: ProviderEntry{Name: "openai"},
				TTS: ProviderEntry{Name: "elevenlabs"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantSub: "server.log_level",
		},
		{
			name:    "incomplete tls",
			mutate:  func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} },
			wantSub: "server.tls",
		},
		{
			name:    "missing llm name",
			mutate:  func(c *Config) { c.Providers.LLM.Name = "" },
			wantSub: "providers.llm.name is required",
		},
		{
			name:    "bad duplicate policy",
			mutate:  func(c *Config) { c.Session.DuplicatePolicy = "evict" },
			wantSub: "session.duplicate_policy",
		},
		{
			name:    "negative max turns",
			mutate:  func(c *Config) { c.Session.MaxTurns = -1 },
			wantSub: "session.max_turns",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Session.Temperature = 2.5 },
			wantSub: "session.temperature",
		},
		{
			name: "prompt and prompt file together",
			mutate: func(c *Config) {
				c.Session.SystemPrompt = "a"
				c.Session.SystemPromptFile = "b.txt"
			},
			wantSub: "mutually exclusive",
		},
		{
			name: "nested fallbacks",
			mutate: func(c *Config) {
				c.Providers.LLM.Fallbacks = []ProviderEntry{
					{Name: "ollama", Fallbacks: []ProviderEntry{{Name: "openai"}}},
				}
			},
			wantSub: "nested fallbacks",
		},
		{
			name: "stdio server without command",
			mutate: func(c *Config) {
				c.MCP.Servers = []MCPServerConfig{{Name: "s", Transport: "stdio"}}
			},
			wantSub: "command is required",
		},
		{
			name: "http server without url",
			mutate: func(c *Config) {
				c.MCP.Servers = []MCPServerConfig{{Name: "s", Transport: "http"}}
			},
			wantSub: "url is required",
		},
		{
			name: "unknown transport",
			mutate: func(c *Config) {
				c.MCP.Servers = []MCPServerConfig{{Name: "s", Transport: "carrier-pigeon"}}
			},
			wantSub: "transport",
		},
		{
			name: "duplicate mcp server names",
			mutate: func(c *Config) {
				c.MCP.Servers = []MCPServerConfig{
					{Name: "s", Transport: "stdio", Command: "/bin/a"},
					{Name: "s", Transport: "stdio", Command: "/bin/b"},
				}
			},
			wantSub: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	cfg := &Config{
		Providers: ProvidersConfig{
			ASR: ProviderEntry{Name: "whisper"},
			LLM: ProviderEntry{Name: "ollama"},
			TTS: ProviderEntry{Name: "elevenlabs"},
		},
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestResolveSystemPromptFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("  You are tankd.\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := SessionConfig{SystemPromptFile: path}
	got, err := s.ResolveSystemPrompt()
	if err != nil {
		t.Fatalf("ResolveSystemPrompt: %v", err)
	}
	if got != "You are tankd." {
		t.Errorf("prompt = %q", got)
	}

	s = SessionConfig{SystemPrompt: "inline"}
	if got, _ := s.ResolveSystemPrompt(); got != "inline" {
		t.Errorf("inline prompt = %q", got)
	}

	s = SessionConfig{SystemPromptFile: filepath.Join(t.TempDir(), "gone.txt")}
	if _, err := s.ResolveSystemPrompt(); err == nil {
		t.Error("missing prompt file should fail")
	}
}
