// config_test.go: 配置加载默认值、环境变量覆盖与 YAML 叠加测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
)

func mustLoad(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	for _, name := range []string{"MONITOR_APP_SERVER_URL", "MONITOR_MAX_ITEM_TEXT", "MONITOR_EXEMPT_TOOL_TYPES", "POSTGRES_SCHEMA", "LOG_LEVEL"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}

	cfg := mustLoad(t)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"AppServerURL", cfg.AppServerURL, "ws://127.0.0.1:4500"},
		{"AppServerPingSec", cfg.AppServerPingSec, 15},
		{"MaxItemText", cfg.MaxItemText, 20000},
		{"MaxTitle", cfg.MaxTitle, 200},
		{"MaxDetail", cfg.MaxDetail, 2000},
		{"RecentToolWindow", cfg.RecentToolWindow, 40},
		{"MaxItemsPerThread", cfg.MaxItemsPerThread, 500},
		{"PostgresSchema", cfg.PostgresSchema, "public"},
		{"FlushIntervalSec", cfg.FlushIntervalSec, 10},
		{"HTTPAddr", cfg.HTTPAddr, "127.0.0.1:4600"},
		{"LogLevel", cfg.LogLevel, "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}

	if diff := cmp.Diff(conversation.DefaultLimits(), cfg.Limits()); diff != "" {
		t.Fatalf("default limits mismatch (-want +got):\n%s", diff)
	}
	if cfg.StoreEnabled() {
		t.Fatal("store enabled without connection string")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("MONITOR_APP_SERVER_URL", "ws://agent:9000")
	t.Setenv("MONITOR_MAX_ITEM_TEXT", "500")
	t.Setenv("MONITOR_EXEMPT_TOOL_TYPES", "fileChange")
	t.Setenv("MONITOR_RESUME_THREADS", "thr-1, thr-2")
	t.Setenv("MONITOR_FLUSH_INTERVAL_SEC", "3")
	t.Setenv("POSTGRES_CONNECTION_STRING", "postgres://localhost/monitor")

	cfg := mustLoad(t)

	if cfg.AppServerURL != "ws://agent:9000" {
		t.Errorf("AppServerURL = %q", cfg.AppServerURL)
	}
	limits := cfg.Limits()
	if limits.MaxItemText != 500 {
		t.Errorf("MaxItemText = %d, want 500", limits.MaxItemText)
	}
	if diff := cmp.Diff([]string{"fileChange"}, limits.ExemptToolTypes); diff != "" {
		t.Errorf("ExemptToolTypes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"thr-1", "thr-2"}, cfg.ResumeThreads); diff != "" {
		t.Errorf("ResumeThreads (-want +got):\n%s", diff)
	}
	if cfg.FlushInterval() != 3*time.Second {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval())
	}
	if !cfg.StoreEnabled() {
		t.Error("store should be enabled")
	}
}

func TestLoadEmptyExemptList(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("MONITOR_EXEMPT_TOOL_TYPES", "")

	cfg := mustLoad(t)
	if len(cfg.Limits().ExemptToolTypes) != 0 {
		t.Fatalf("ExemptToolTypes = %v, want empty", cfg.Limits().ExemptToolTypes)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	content := []byte(`
app_server_url: ws://from-file:4500
max_items_per_thread: 100
exempt_tool_types: [mcpToolCall]
http_addr: ":9999"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("MONITOR_MAX_TITLE", "80")

	cfg := mustLoad(t)

	if cfg.AppServerURL != "ws://from-file:4500" || cfg.HTTPAddr != ":9999" {
		t.Errorf("file values not applied: url=%q addr=%q", cfg.AppServerURL, cfg.HTTPAddr)
	}
	if cfg.MaxItemsPerThread != 100 {
		t.Errorf("MaxItemsPerThread = %d", cfg.MaxItemsPerThread)
	}
	// 文件中未出现的键保留环境变量值
	if cfg.MaxTitle != 80 {
		t.Errorf("MaxTitle = %d, want 80", cfg.MaxTitle)
	}
	if diff := cmp.Diff([]string{"mcpToolCall"}, cfg.ExemptToolTypes); diff != "" {
		t.Errorf("ExemptToolTypes (-want +got):\n%s", diff)
	}
}

func TestLoadYAMLErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "nope.yaml"))
		if _, err := Load(); err == nil {
			t.Fatal("expected error for missing file")
		}
	})
	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("max_title: [unterminated"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv(ConfigFileEnv, path)
		if _, err := Load(); err == nil {
			t.Fatal("expected parse error")
		}
	})
	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		if err := os.WriteFile(path, []byte("max_items_per_thread: 0\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv(ConfigFileEnv, path)
		if _, err := Load(); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	})
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{AppServerURL: "ws://x", MaxItemsPerThread: 1, PostgresPoolMinSize: 1, PostgresPoolMaxSize: 2}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"empty url", func(c *Config) { c.AppServerURL = " " }, false},
		{"negative text", func(c *Config) { c.MaxItemText = -1 }, false},
		{"pool inverted", func(c *Config) { c.PostgresPoolMaxSize = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, ok want %v", err, tt.ok)
			}
		})
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.FlushIntervalSec != 1 || cfg.SSEBuffer != 1 {
		t.Fatalf("zero durations not raised: flush=%d sse=%d", cfg.FlushIntervalSec, cfg.SSEBuffer)
	}
}
