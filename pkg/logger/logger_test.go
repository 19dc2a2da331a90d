package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// 多个 goroutine 并发读写 defaultLogger, go test -race 下不应报 data race。
func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production")

	var wg sync.WaitGroup
	const goroutines = 50

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", FieldThreadID, "thr-1")
			_ = Get()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()

	wg.Wait()
	Init("production")
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	Init("production")
	if FromContext(context.Background()) != Get() {
		t.Fatal("FromContext without logger should return default logger")
	}

	custom := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := WithContext(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Fatal("FromContext should return injected logger")
	}
}

func TestInitWithFileWritesJSON(t *testing.T) {
	dir := t.TempDir()
	if err := InitWithFile(dir, "INFO"); err != nil {
		t.Fatalf("InitWithFile: %v", err)
	}
	Info("hello file", FieldThreadID, "thr-file")
	ShutdownFileHandler()
	Init("production")

	matches, err := filepath.Glob(filepath.Join(dir, "agent-monitor-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("log files = %v, err = %v", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"thread_id":"thr-file"`) {
		t.Fatalf("log file missing thread_id attr: %s", data)
	}
}
