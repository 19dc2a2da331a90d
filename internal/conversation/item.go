// Package conversation 把 app-server 的条目事件归并为有序、有界的会话条目列表。
//
// 组成:
//   - Item / ToolChange: 会话条目模型
//   - MergeText: 文本增量合并 (容忍重发与重叠)
//   - BuildItem: 原始 payload → Item
//   - Limits.Normalize / Limits.Prepare: 截断与积压整理
//   - Upsert / MergeItem: 按 id 的字段级合并
//
// 包内函数均为纯函数, 不加锁, 不做 I/O。
package conversation

// Kind 条目类别。
type Kind string

const (
	KindMessage   Kind = "message"
	KindReasoning Kind = "reasoning"
	KindDiff      Kind = "diff"
	KindTool      Kind = "tool"
	KindReview    Kind = "review"
)

// Role 消息角色, 仅 KindMessage 使用。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ReviewState review 条目的生命周期。
type ReviewState string

const (
	ReviewNone      ReviewState = ""
	ReviewStarted   ReviewState = "started"
	ReviewCompleted ReviewState = "completed"
)

// ChangeKind 文件变更类型。
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeDelete ChangeKind = "delete"
	ChangeModify ChangeKind = "modify"
)

// Tool sub-types carried in Item.ToolType.
const (
	ToolCommandExecution = "commandExecution"
	ToolFileChange       = "fileChange"
	ToolMCPCall          = "mcpToolCall"
	ToolCollabCall       = "collabToolCall"
	ToolWebSearch        = "webSearch"
	ToolImageView        = "imageView"
)

// ToolChange 单个文件的变更。
type ToolChange struct {
	Path string      `json:"path"`
	Kind *ChangeKind `json:"kind,omitempty"`
	Diff *string     `json:"diff,omitempty"`
}

// Item 一条会话条目。
//
// 指针字段 nil 表示"缺失", 合并时不覆盖已有值; Changes 为 nil 同理。
type Item struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	Role *Role  `json:"role,omitempty"`

	Text    *string `json:"text,omitempty"`
	Summary *string `json:"summary,omitempty"`
	Content *string `json:"content,omitempty"`
	Title   *string `json:"title,omitempty"`
	Detail  *string `json:"detail,omitempty"`
	Status  *string `json:"status,omitempty"`
	Output  *string `json:"output,omitempty"`
	Diff    *string `json:"diff,omitempty"`

	ToolType   *string      `json:"toolType,omitempty"`
	DurationMS *int64       `json:"durationMs,omitempty"`
	Changes    []ToolChange `json:"changes,omitempty"`
	State      *ReviewState `json:"state,omitempty"`
}

// IsTool reports whether the item is a tool call of the given sub-type.
func (it Item) IsTool(toolType string) bool {
	return it.Kind == KindTool && it.ToolType != nil && *it.ToolType == toolType
}

// IsAssistantMessage reports whether the item is an assistant message.
func (it Item) IsAssistantMessage() bool {
	return it.Kind == KindMessage && it.Role != nil && *it.Role == RoleAssistant
}

// TextValue 返回 Text, 缺失时为空串。
func (it Item) TextValue() string { return deref(it.Text) }

// Clone 深拷贝, 返回的条目与原条目不共享 Changes。
func (it Item) Clone() Item {
	if it.Changes != nil {
		it.Changes = append(make([]ToolChange, 0, len(it.Changes)), it.Changes...)
	}
	return it
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
