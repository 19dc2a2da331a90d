package util

import (
	"slices"
	"testing"
)

func TestClampInt(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{11, 1, 10, 10},
		{1, 1, 1, 1},
	}
	for _, tt := range tests {
		if got := ClampInt(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("UTIL_TEST_INT", "42")
	if got := EnvInt("UTIL_TEST_INT", 1, 0); got != 42 {
		t.Errorf("EnvInt = %d, want 42", got)
	}
	t.Setenv("UTIL_TEST_INT", "oops")
	if got := EnvInt("UTIL_TEST_INT", 7, 0); got != 7 {
		t.Errorf("EnvInt invalid = %d, want default 7", got)
	}
	t.Setenv("UTIL_TEST_INT", "-3")
	if got := EnvInt("UTIL_TEST_INT", 7, 1); got != 1 {
		t.Errorf("EnvInt below min = %d, want 1", got)
	}
}

func TestEnvBool(t *testing.T) {
	for raw, want := range map[string]bool{"1": true, "YES": true, "off": false, "0": false} {
		t.Setenv("UTIL_TEST_BOOL", raw)
		if got := EnvBool("UTIL_TEST_BOOL", !want); got != want {
			t.Errorf("EnvBool(%q) = %v, want %v", raw, got, want)
		}
	}
	t.Setenv("UTIL_TEST_BOOL", "maybe")
	if !EnvBool("UTIL_TEST_BOOL", true) {
		t.Error("EnvBool unknown value should return default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	type sample struct {
		Name   string   `env:"UTIL_TEST_NAME" default:"monitor"`
		Window int      `env:"UTIL_TEST_WINDOW" default:"40" min:"1"`
		Debug  bool     `env:"UTIL_TEST_DEBUG" default:"false"`
		Types  []string `env:"UTIL_TEST_TYPES" default:"fileChange,commandExecution"`
		Skip   string
	}

	var s sample
	LoadFromEnv(&s)
	if s.Name != "monitor" || s.Window != 40 || s.Debug {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if !slices.Equal(s.Types, []string{"fileChange", "commandExecution"}) {
		t.Fatalf("Types default = %v", s.Types)
	}

	t.Setenv("UTIL_TEST_NAME", "custom")
	t.Setenv("UTIL_TEST_WINDOW", "0")
	t.Setenv("UTIL_TEST_DEBUG", "true")
	t.Setenv("UTIL_TEST_TYPES", "")
	s = sample{}
	LoadFromEnv(&s)
	if s.Name != "custom" || s.Window != 1 || !s.Debug {
		t.Fatalf("env overrides not applied: %+v", s)
	}
	// 显式设置为空 → 空列表, 而非默认值
	if len(s.Types) != 0 {
		t.Fatalf("Types = %v, want empty", s.Types)
	}
}

func TestLoadFromEnvRejectsNonPointer(t *testing.T) {
	type sample struct {
		Name string `env:"UTIL_TEST_NAME" default:"x"`
	}
	var s sample
	LoadFromEnv(s)
	LoadFromEnv(nil)
	if s.Name != "" {
		t.Fatalf("non-pointer should not be modified: %+v", s)
	}
}
