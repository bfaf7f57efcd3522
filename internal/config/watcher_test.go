package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const watcherYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  asr: {name: deepgram}
  llm: {name: openai}
  tts: {name: elevenlabs}
`

// mtimeBump produces strictly increasing mtimes so the watcher's fast path
// cannot miss a change on coarse-grained filesystems.
var mtimeBump atomic.Int64

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ts := time.Now().Add(time.Duration(mtimeBump.Add(1)) * time.Second)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tankd.yaml")
	writeConfig(t, path, watcherYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current(); got == nil || got.Server.LogLevel != LogInfo {
		t.Errorf("Current = %+v", got)
	}
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tankd.yaml")
	writeConfig(t, path, "server: [broken")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Error("NewWatcher accepted a broken config")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tankd.yaml")
	writeConfig(t, path, watcherYAML)

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, func(_, newCfg *Config) {
		changed <- newCfg
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, strings.Replace(watcherYAML, "log_level: info", "log_level: debug", 1))

	select {
	case cfg := <-changed:
		if cfg.Server.LogLevel != LogDebug {
			t.Errorf("reloaded log level = %q", cfg.Server.LogLevel)
		}
		if w.Current() != cfg {
			t.Error("Current does not return the reloaded config")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("change not detected")
	}
}

func TestWatcherKeepsOldConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tankd.yaml")
	writeConfig(t, path, watcherYAML)

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, func(_, newCfg *Config) {
		changed <- newCfg
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	old := w.Current()
	writeConfig(t, path, "providers: {llm: {name: ''}}")

	// Give the poller a few cycles to notice the broken file.
	time.Sleep(100 * time.Millisecond)

	select {
	case cfg := <-changed:
		t.Fatalf("invalid reload delivered config %+v", cfg)
	default:
	}
	if w.Current() != old {
		t.Error("Current changed after an invalid reload")
	}
}
