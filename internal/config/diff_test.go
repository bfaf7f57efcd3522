package config

import "testing"

func baseConfig() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080", LogLevel: LogInfo},
		Providers: ProvidersConfig{
			ASR: ProviderEntry{Name: "deepgram", APIKey: "k"},
			LLM: ProviderEntry{Name: "openai", Model: "gpt-4o"},
			TTS: ProviderEntry{Name: "elevenlabs"},
		},
		Session: SessionConfig{MaxTurns: 20, Language: "en"},
		MCP: MCPConfig{Servers: []MCPServerConfig{
			{Name: "search", Transport: "stdio", Command: "/bin/mcp"},
		}},
	}
}

func TestDiffIdenticalConfigs(t *testing.T) {
	d := Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.SessionChanged || d.RestartRequired {
		t.Errorf("diff of identical configs = %+v", d)
	}
}

func TestDiffLogLevel(t *testing.T) {
	newCfg := baseConfig()
	newCfg.Server.LogLevel = LogDebug

	d := Diff(baseConfig(), newCfg)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if d.RestartRequired {
		t.Error("log level change should be hot-applicable")
	}
}

func TestDiffSessionTuning(t *testing.T) {
	newCfg := baseConfig()
	newCfg.Session.Temperature = 0.9
	newCfg.Session.Voice = "rachel"

	d := Diff(baseConfig(), newCfg)
	if !d.SessionChanged {
		t.Error("session tuning change not detected")
	}
	if d.RestartRequired {
		t.Error("session tuning change should be hot-applicable")
	}
}

func TestDiffRestartRequired(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"listen addr", func(c *Config) { c.Server.ListenAddr = ":9090" }},
		{"tls added", func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "c", KeyFile: "k"} }},
		{"llm model", func(c *Config) { c.Providers.LLM.Model = "gpt-4o-mini" }},
		{"fallback added", func(c *Config) {
			c.Providers.LLM.Fallbacks = []ProviderEntry{{Name: "ollama"}}
		}},
		{"mcp server added", func(c *Config) {
			c.MCP.Servers = append(c.MCP.Servers, MCPServerConfig{Name: "x", Transport: "http", URL: "https://x"})
		}},
		{"mcp env changed", func(c *Config) {
			c.MCP.Servers[0].Env = map[string]string{"A": "1"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newCfg := baseConfig()
			tt.mutate(newCfg)
			if d := Diff(baseConfig(), newCfg); !d.RestartRequired {
				t.Errorf("diff = %+v, want RestartRequired", d)
			}
		})
	}
}
