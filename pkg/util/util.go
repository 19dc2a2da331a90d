// Package util 提供通用工具函数。
//
//   - EnvInt / EnvBool / EnvStr / EnvList 读取环境变量
//   - LoadFromEnv 按 struct tag 反射填充配置
//   - ClampInt 限制取值范围
package util

import (
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

// ClampInt 将值限制在 [lo, hi] 范围内。
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EnvInt 读取整型环境变量，无效时返回 def，并确保不小于 min。
func EnvInt(name string, def, min int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("util.EnvInt: invalid integer, using default",
			logger.FieldComponent, "config", "env", name, "raw", raw)
		return def
	}
	if v < min {
		return min
	}
	return v
}

// EnvBool 读取布尔环境变量，无效时返回 def。
// 接受: 1/true/yes/on → true, 0/false/no/off → false。
func EnvBool(name string, def bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// EnvStr 读取字符串环境变量，为空时返回 def。
func EnvStr(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}

// EnvList 读取逗号分隔的列表环境变量, 未设置时按 def 解析。
func EnvList(name, def string) []string {
	raw, ok := os.LookupEnv(name)
	if !ok {
		raw = def
	}
	return SplitList(raw)
}

// LoadFromEnv 通过反射从 struct tag 加载环境变量。
//
// 支持的 tag:
//
//	env:"VAR_NAME"   环境变量名
//	default:"value"  默认值
//	min:"N"          最小值 (仅 int)
//
// 支持的字段类型: string, int, bool, []string (逗号分隔)。
func LoadFromEnv(ptr any) {
	if ptr == nil {
		logger.Error("util.LoadFromEnv: ptr must not be nil")
		return
	}
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		logger.Error("util.LoadFromEnv: ptr must be a non-nil pointer to struct")
		return
	}
	v := rv.Elem()
	t := v.Type()

	for i := range t.NumField() {
		field := t.Field(i)
		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		def := field.Tag.Get("default")
		fv := v.Field(i)

		switch field.Type.Kind() {
		case reflect.String:
			fv.SetString(EnvStr(envName, def))

		case reflect.Int:
			defInt, _ := strconv.Atoi(def)
			minInt, _ := strconv.Atoi(field.Tag.Get("min"))
			fv.SetInt(int64(EnvInt(envName, defInt, minInt)))

		case reflect.Bool:
			defBool := def == "true" || def == "1" || def == "yes"
			fv.SetBool(EnvBool(envName, defBool))

		case reflect.Slice:
			if field.Type.Elem().Kind() != reflect.String {
				continue
			}
			fv.Set(reflect.ValueOf(EnvList(envName, def)))
		}
	}
}
