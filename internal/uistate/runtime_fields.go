// runtime_fields.go: payload 字段提取。双命名风格 (threadId / thread_id) 只在这里处理。
package uistate

import (
	"encoding/json"
	"strings"

	"github.com/samber/lo"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
	"github.com/codexmonitor/agent-monitor/pkg/util"
)

// canonicalizeKeys 返回浅拷贝, snake_case 键补齐为 camelCase (camelCase 已存在时优先)。
// 只处理一层: 嵌套 map 可能以线程 id 等数据作键。
func canonicalizeKeys(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = value
	}
	for key, value := range payload {
		if !strings.Contains(key, "_") {
			continue
		}
		camel := snakeToCamel(key)
		if _, exists := out[camel]; !exists {
			out[camel] = value
		}
	}
	return out
}

func snakeToCamel(key string) string {
	parts := lo.Compact(strings.Split(key, "_"))
	if len(parts) == 0 {
		return key
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, part := range parts[1:] {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// nestedMap 取出嵌套对象并规范化键名。
func nestedMap(payload map[string]any, key string) (map[string]any, bool) {
	value, ok := payload[key].(map[string]any)
	if !ok {
		return nil, false
	}
	return canonicalizeKeys(value), true
}

func extractFirstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		if text, ok := value.(string); ok {
			return text
		}
	}
	return ""
}

func extractNestedValue(payload map[string]any, path ...string) (any, bool) {
	if payload == nil || len(path) == 0 {
		return nil, false
	}
	current := any(payload)
	for _, key := range path {
		nextMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := nextMap[key]
		if !ok {
			next, ok = nextMap[camelToSnake(key)]
		}
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func camelToSnake(key string) string {
	var b strings.Builder
	for i, r := range key {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func extractNestedFirstString(payload map[string]any, paths ...[]string) string {
	for _, path := range paths {
		value, ok := extractNestedValue(payload, path...)
		if !ok {
			continue
		}
		if text, ok := value.(string); ok {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func extractIntValue(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return 0, false
		}
		if number, err := json.Number(text).Int64(); err == nil {
			return int(number), true
		}
	}
	return 0, false
}

func extractFirstIntByPaths(payload map[string]any, paths ...[]string) (int, bool) {
	for _, path := range paths {
		value, ok := extractNestedValue(payload, path...)
		if !ok {
			continue
		}
		if number, ok := extractIntValue(value); ok {
			return number, true
		}
	}
	return 0, false
}

// threadIDOf 依次查找 threadId / conversationId / thread.id。
func threadIDOf(params map[string]any) string {
	return util.FirstNonEmpty(
		extractFirstString(params, "threadId", "conversationId"),
		extractNestedFirstString(params, []string{"thread", "id"}),
	)
}

func turnIDOf(params map[string]any) string {
	return util.FirstNonEmpty(
		extractFirstString(params, "turnId"),
		extractNestedFirstString(params, []string{"turn", "id"}),
	)
}

// backlogItems 展开 thread.turns[].items[], 每层先规范化键名再交给 BuildItem。
// 按出现顺序, 同 id 合并。
func backlogItems(thread map[string]any) []conversation.Item {
	items := []conversation.Item{}
	turns, _ := canonicalizeKeys(thread)["turns"].([]any)
	for _, rawTurn := range turns {
		turn, ok := rawTurn.(map[string]any)
		if !ok {
			continue
		}
		entries, _ := canonicalizeKeys(turn)["items"].([]any)
		for _, rawItem := range entries {
			payload, ok := rawItem.(map[string]any)
			if !ok {
				continue
			}
			if item, ok := conversation.BuildItem(canonicalizeKeys(payload)); ok {
				items = conversation.Upsert(items, item)
			}
		}
	}
	return items
}

func itemIDOf(params map[string]any) string {
	return strings.TrimSpace(extractFirstString(params, "itemId"))
}

// errorMessageOf 接受 "boom" 或 {"message": "boom"}。
func errorMessageOf(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return strings.TrimSpace(extractFirstString(v, "message", "error"))
	}
	return ""
}

func parsePlanSteps(raw any) []PlanStep {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]PlanStep, 0, len(items))
	for _, item := range items {
		entryMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		step := strings.TrimSpace(extractFirstString(entryMap, "step", "title", "text"))
		if step == "" {
			continue
		}
		status := strings.TrimSpace(extractFirstString(entryMap, "status", "state"))
		if status == "" {
			status = "pending"
		}
		out = append(out, PlanStep{Step: step, Status: status})
	}
	return out
}

func planStatusDone(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "success", "done", "finished":
		return true
	default:
		return false
	}
}
