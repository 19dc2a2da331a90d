// builder.go: app-server 条目 payload → Item。
package conversation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// MessagePlaceholder 替代空的助手消息文本。
const MessagePlaceholder = "[message]"

const imagePlaceholder = "[image]"

// Item types recognized on the wire (the "type" discriminant of an item payload).
const (
	TypeAgentMessage        = "agentMessage"
	TypeUserMessage         = "userMessage"
	TypeReasoning           = "reasoning"
	TypeCommandExecution    = "commandExecution"
	TypeFileChange          = "fileChange"
	TypeMCPToolCall         = "mcpToolCall"
	TypeCollabToolCall      = "collabToolCall"
	TypeCollabAgentToolCall = "collabAgentToolCall"
	TypeWebSearch           = "webSearch"
	TypeImageView           = "imageView"
	TypeEnteredReviewMode   = "enteredReviewMode"
	TypeExitedReviewMode    = "exitedReviewMode"
)

type itemBuilder func(id string, raw map[string]any) Item

// builders 是封闭的类型表, 未列出的 type 一律忽略。
var builders = map[string]itemBuilder{
	TypeAgentMessage:        buildAgentMessage,
	TypeUserMessage:         buildUserMessage,
	TypeReasoning:           buildReasoning,
	TypeCommandExecution:    buildCommandExecution,
	TypeFileChange:          buildFileChange,
	TypeMCPToolCall:         buildMCPToolCall,
	TypeCollabToolCall:      buildCollabToolCall,
	TypeCollabAgentToolCall: buildCollabToolCall,
	TypeWebSearch:           buildWebSearch,
	TypeImageView:           buildImageView,
	TypeEnteredReviewMode:   buildReview(ReviewStarted),
	TypeExitedReviewMode:    buildReview(ReviewCompleted),
}

// RecognizedTypes 返回可识别的条目类型 (排序后)。
func RecognizedTypes() []string {
	keys := lo.Keys(builders)
	sort.Strings(keys)
	return keys
}

// BuildItem 将一个条目 payload 转换为 Item。
// 缺少 type / id 或 type 未知时返回 false。
func BuildItem(raw map[string]any) (Item, bool) {
	if raw == nil {
		return Item{}, false
	}
	itemType := strings.TrimSpace(stringOf(raw["type"]))
	id := strings.TrimSpace(stringOf(raw["id"]))
	if itemType == "" || id == "" {
		return Item{}, false
	}
	build, ok := builders[itemType]
	if !ok {
		return Item{}, false
	}
	return build(id, raw), true
}

func buildAgentMessage(id string, raw map[string]any) Item {
	text := stringOf(raw["text"])
	if text == "" {
		text = MessagePlaceholder
	}
	return Item{ID: id, Kind: KindMessage, Role: lo.ToPtr(RoleAssistant), Text: &text}
}

func buildUserMessage(id string, raw map[string]any) Item {
	parts, _ := raw["content"].([]any)
	rendered := lo.Compact(lo.Map(parts, func(part any, _ int) string {
		return renderUserPart(part)
	}))
	text := strings.Join(rendered, " ")
	if text == "" {
		text = MessagePlaceholder
	}
	return Item{ID: id, Kind: KindMessage, Role: lo.ToPtr(RoleUser), Text: &text}
}

func renderUserPart(part any) string {
	m, ok := part.(map[string]any)
	if !ok {
		return ""
	}
	switch stringOf(m["type"]) {
	case "text":
		return stringOf(m["text"])
	case "skill":
		name := strings.TrimSpace(stringOf(m["name"]))
		if name == "" {
			return ""
		}
		return "$" + name
	case "image", "localImage":
		return imagePlaceholder
	default:
		return ""
	}
}

func buildReasoning(id string, raw map[string]any) Item {
	item := Item{ID: id, Kind: KindReasoning}
	if summary, ok := joinedText(raw["summary"]); ok {
		item.Summary = &summary
	}
	if content, ok := joinedText(raw["content"]); ok {
		item.Content = &content
	}
	return item
}

func buildCommandExecution(id string, raw map[string]any) Item {
	title := "Command"
	if argv := commandLine(raw["command"]); argv != "" {
		title = "Command: " + argv
	}
	item := toolItem(id, ToolCommandExecution, title, raw)
	if cwd := stringOf(raw["cwd"]); cwd != "" {
		item.Detail = &cwd
	}
	if output, ok := raw["aggregatedOutput"].(string); ok {
		item.Output = &output
	}
	if ms, ok := numberOf(raw["durationMs"]); ok {
		item.DurationMS = &ms
	}
	return item
}

func buildFileChange(id string, raw map[string]any) Item {
	item := toolItem(id, ToolFileChange, "File changes", raw)
	entries, present := raw["changes"].([]any)
	if !present {
		return item
	}

	changes := make([]ToolChange, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		path := strings.TrimSpace(stringOf(m["path"]))
		if path == "" {
			continue
		}
		change := ToolChange{Path: path, Kind: changeKindOf(m["kind"])}
		if diff, ok := m["diff"].(string); ok {
			change.Diff = &diff
		}
		changes = append(changes, change)
	}
	item.Changes = changes

	detail := "Pending changes"
	if len(changes) > 0 {
		detail = strings.Join(lo.Map(changes, func(c ToolChange, _ int) string {
			if prefix := changePrefix(c.Kind); prefix != "" {
				return prefix + " " + c.Path
			}
			return c.Path
		}), ", ")
	}
	item.Detail = &detail

	diffs := lo.FilterMap(changes, func(c ToolChange, _ int) (string, bool) {
		return deref(c.Diff), deref(c.Diff) != ""
	})
	if len(diffs) > 0 {
		output := strings.Join(diffs, "\n\n")
		item.Output = &output
	}
	return item
}

func buildMCPToolCall(id string, raw map[string]any) Item {
	server := strings.TrimSpace(stringOf(raw["server"]))
	tool := strings.TrimSpace(stringOf(raw["tool"]))
	title := "Tool: " + strings.Join(lo.Compact([]string{server, tool}), " / ")
	if server == "" && tool == "" {
		title = "Tool call"
	}
	item := toolItem(id, ToolMCPCall, title, raw)
	if args, ok := raw["arguments"]; ok && args != nil {
		detail := prettyJSON(args)
		item.Detail = &detail
	}
	if result, ok := raw["result"]; ok && result != nil {
		output := renderValue(result)
		item.Output = &output
	} else if errVal, ok := raw["error"]; ok && errVal != nil {
		output := renderError(errVal)
		item.Output = &output
	}
	if ms, ok := numberOf(raw["durationMs"]); ok {
		item.DurationMS = &ms
	}
	return item
}

func buildCollabToolCall(id string, raw map[string]any) Item {
	title := "Collab tool call"
	if tool := strings.TrimSpace(stringOf(raw["tool"])); tool != "" {
		title = "Collab: " + tool
	}
	item := toolItem(id, stringOf(raw["type"]), title, raw)

	sender := strings.Join(stringList(raw["senderThreadId"]), ", ")
	receivers := lo.Uniq(lo.Flatten([][]string{
		stringList(raw["receiverThreadIds"]),
		stringList(raw["receiverThreadId"]),
		stringList(raw["newThreadId"]),
	}))
	var detail string
	switch {
	case sender != "" && len(receivers) > 0:
		detail = fmt.Sprintf("From %s → %s", sender, strings.Join(receivers, ", "))
	case sender != "":
		detail = "From " + sender
	case len(receivers) > 0:
		detail = "→ " + strings.Join(receivers, ", ")
	}
	if detail != "" {
		item.Detail = &detail
	}

	sections := lo.Compact([]string{
		strings.TrimSpace(stringOf(raw["prompt"])),
		agentStatusBlock(raw["agentsStates"]),
		agentStatusBlock(raw["agentStatus"]),
	})
	if len(sections) > 0 {
		output := strings.Join(sections, "\n\n")
		item.Output = &output
	}
	return item
}

func buildWebSearch(id string, raw map[string]any) Item {
	item := toolItem(id, ToolWebSearch, "Web search", raw)
	if query := stringOf(raw["query"]); query != "" {
		item.Detail = &query
	}
	return item
}

func buildImageView(id string, raw map[string]any) Item {
	item := toolItem(id, ToolImageView, "Image view", raw)
	if path := stringOf(raw["path"]); path != "" {
		item.Detail = &path
	}
	return item
}

func buildReview(state ReviewState) itemBuilder {
	return func(id string, raw map[string]any) Item {
		item := Item{ID: id, Kind: KindReview, State: lo.ToPtr(state)}
		if text, ok := raw["review"].(string); ok {
			item.Text = &text
		}
		return item
	}
}

func toolItem(id, toolType, title string, raw map[string]any) Item {
	item := Item{ID: id, Kind: KindTool, ToolType: &toolType, Title: &title}
	if status := statusOf(raw["status"]); status != "" {
		item.Status = &status
	}
	return item
}

// ========================================
// payload 取值工具
// ========================================

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// statusOf 接受 "completed" 或 {"type": "completed"}。
func statusOf(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case map[string]any:
		return strings.TrimSpace(stringOf(s["type"]))
	}
	return ""
}

func numberOf(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// stringList 接受单个字符串或字符串数组, 返回去空白后的非空项。
func stringList(v any) []string {
	switch s := v.(type) {
	case string:
		return lo.Compact([]string{strings.TrimSpace(s)})
	case []string:
		return lo.Compact(lo.Map(s, func(x string, _ int) string { return strings.TrimSpace(x) }))
	case []any:
		return lo.Compact(lo.Map(s, func(x any, _ int) string { return strings.TrimSpace(stringOf(x)) }))
	}
	return nil
}

// joinedText 接受字符串或字符串数组 (换行连接)。字段缺失时返回 false。
func joinedText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []any:
		return strings.Join(lo.FilterMap(s, func(x any, _ int) (string, bool) {
			str, ok := x.(string)
			return str, ok
		}), "\n"), true
	case []string:
		return strings.Join(s, "\n"), true
	}
	return "", false
}

func commandLine(v any) string {
	switch c := v.(type) {
	case string:
		return strings.TrimSpace(c)
	case []any, []string:
		return strings.Join(stringList(c), " ")
	}
	return ""
}

// changeKindOf 接受 "add" 或 {"type": "add"}。
func changeKindOf(v any) *ChangeKind {
	var raw string
	switch k := v.(type) {
	case string:
		raw = k
	case map[string]any:
		raw = stringOf(k["type"])
	}
	switch ChangeKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ChangeAdd:
		return lo.ToPtr(ChangeAdd)
	case ChangeDelete:
		return lo.ToPtr(ChangeDelete)
	case ChangeModify, "update":
		return lo.ToPtr(ChangeModify)
	}
	return nil
}

func changePrefix(kind *ChangeKind) string {
	if kind == nil {
		return ""
	}
	switch *kind {
	case ChangeAdd:
		return "A"
	case ChangeDelete:
		return "D"
	case ChangeModify:
		return "M"
	}
	return ""
}

func prettyJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// renderValue 渲染 MCP result: 优先拼接 content[].text, 否则输出 JSON。
func renderValue(v any) string {
	if m, ok := v.(map[string]any); ok {
		if blocks, ok := m["content"].([]any); ok {
			texts := lo.FilterMap(blocks, func(b any, _ int) (string, bool) {
				block, ok := b.(map[string]any)
				if !ok {
					return "", false
				}
				text, ok := block["text"].(string)
				return text, ok && text != ""
			})
			if len(texts) > 0 {
				return strings.Join(texts, "\n")
			}
		}
	}
	return prettyJSON(v)
}

func renderError(v any) string {
	if m, ok := v.(map[string]any); ok {
		if msg := stringOf(m["message"]); msg != "" {
			return msg
		}
	}
	return prettyJSON(v)
}

// agentStatusBlock 渲染每个子 agent 的状态, 形如 "thr-1: running"。
// 接受 map[threadId]status|{status,message} 或 [{threadId,status,message}]。
func agentStatusBlock(v any) string {
	var lines []string
	switch s := v.(type) {
	case map[string]any:
		keys := lo.Keys(s)
		sort.Strings(keys)
		for _, threadID := range keys {
			lines = append(lines, agentStatusLine(threadID, s[threadID]))
		}
	case []any:
		for _, entry := range s {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			threadID := lo.FirstOrEmpty(lo.Compact([]string{stringOf(m["threadId"]), stringOf(m["agentId"])}))
			lines = append(lines, agentStatusLine(threadID, m))
		}
	}
	lines = lo.Compact(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func agentStatusLine(threadID string, state any) string {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ""
	}
	var status, message string
	switch st := state.(type) {
	case string:
		status = st
	case map[string]any:
		status = statusOf(st["status"])
		message = strings.TrimSpace(stringOf(st["message"]))
	}
	line := threadID + ": " + lo.Ternary(status == "", "unknown", status)
	if message != "" {
		line += " (" + message + ")"
	}
	return line
}
