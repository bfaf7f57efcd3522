package config

import "fmt"

// ConfigDiff describes what changed between two configs. Only changes that
// can be applied without a restart are broken out; everything else collapses
// into RestartRequired.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level changed; the new level is
	// applied to the running logger immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when any session tuning field changed. New values
	// apply to sessions created after the reload; live sessions keep the
	// settings they started with.
	SessionChanged bool

	// RestartRequired is true when a field that cannot be hot-applied changed
	// (listen address, TLS, providers, MCP servers).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.SessionChanged = old.Session != new.Session

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		!originsEqual(old.Server.OriginPatterns, new.Server.OriginPatterns) ||
		!providersEqual(old.Providers, new.Providers) ||
		!mcpEqual(old.MCP, new.MCP) {
		d.RestartRequired = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func originsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.ASR, b.ASR) && entryEqual(a.LLM, b.LLM) && entryEqual(a.TTS, b.TTS)
}

// entryEqual compares the scalar fields of two provider entries plus their
// fallback chains. Options maps are compared by length only; a same-length
// edit to options still needs a restart, but that is rare enough to accept.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for k, v := range a.Options {
		if bv, ok := b.Options[k]; !ok || fmtAny(v) != fmtAny(bv) {
			return false
		}
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

// fmtAny renders an options value for comparison. Options hold YAML scalars
// and small maps, so the printed form is a stable identity.
func fmtAny(v any) string { return fmt.Sprint(v) }

func mcpEqual(a, b MCPConfig) bool {
	if len(a.Servers) != len(b.Servers) {
		return false
	}
	for i := range a.Servers {
		sa, sb := a.Servers[i], b.Servers[i]
		if sa.Name != sb.Name || sa.Transport != sb.Transport || sa.Command != sb.Command || sa.URL != sb.URL {
			return false
		}
		if len(sa.Env) != len(sb.Env) {
			return false
		}
		for k, v := range sa.Env {
			if sb.Env[k] != v {
				return false
			}
		}
	}
	return true
}
