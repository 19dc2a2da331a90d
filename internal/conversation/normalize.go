// normalize.go: 按条目类别截断文本字段。
package conversation

import (
	"unicode/utf8"

	"github.com/samber/lo"
)

// truncationMarker 截断后追加的 3 字符后缀。
const truncationMarker = "..."

// Limits 截断与积压整理的上限配置。
type Limits struct {
	MaxItemText       int      `json:"maxItemText" yaml:"max_item_text"`
	MaxTitle          int      `json:"maxTitle" yaml:"max_title"`
	MaxDetail         int      `json:"maxDetail" yaml:"max_detail"`
	RecentToolWindow  int      `json:"recentToolWindow" yaml:"recent_tool_window"`
	MaxItemsPerThread int      `json:"maxItemsPerThread" yaml:"max_items_per_thread"`
	ExemptToolTypes   []string `json:"exemptToolTypes" yaml:"exempt_tool_types"`
}

// DefaultLimits 返回默认上限。
func DefaultLimits() Limits {
	return Limits{
		MaxItemText:       20000,
		MaxTitle:          200,
		MaxDetail:         2000,
		RecentToolWindow:  40,
		MaxItemsPerThread: 500,
		ExemptToolTypes:   []string{ToolFileChange, ToolCommandExecution},
	}
}

// Truncate 超过 limit 个字符时保留前 limit-3 个字符并追加 "..."。
// 长度按 rune 计算; limit <= 0 表示不截断。
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	keep := max(limit-len(truncationMarker), 0)
	if keep == 0 {
		return truncationMarker[:limit]
	}
	count := 0
	for i := range text {
		if count == keep {
			return text[:i] + truncationMarker
		}
		count++
	}
	return text
}

func truncatePtr(text *string, limit int) *string {
	if text == nil {
		return nil
	}
	out := Truncate(*text, limit)
	if out == *text {
		return text
	}
	return &out
}

// Exempt reports whether a tool sub-type keeps its full output during normalization.
func (l Limits) Exempt(toolType *string) bool {
	return toolType != nil && lo.Contains(l.ExemptToolTypes, *toolType)
}

// Normalize 返回按类别截断后的副本, 不修改入参。
func (l Limits) Normalize(item Item) Item {
	switch item.Kind {
	case KindMessage:
		item.Text = truncatePtr(item.Text, l.MaxItemText)
	case KindReasoning:
		item.Summary = truncatePtr(item.Summary, l.MaxItemText)
		item.Content = truncatePtr(item.Content, l.MaxItemText)
	case KindDiff:
		item.Diff = truncatePtr(item.Diff, l.MaxItemText)
	case KindTool:
		item.Title = truncatePtr(item.Title, l.MaxTitle)
		item.Detail = truncatePtr(item.Detail, l.MaxDetail)
		if !l.Exempt(item.ToolType) {
			item = l.truncateToolOutput(item)
		}
	}
	return item
}

// truncateToolOutput 截断 output 与每个 changes[].diff, 不动 path / kind。
func (l Limits) truncateToolOutput(item Item) Item {
	item.Output = truncatePtr(item.Output, l.MaxItemText)
	if item.Changes == nil {
		return item
	}
	changes := make([]ToolChange, len(item.Changes))
	for i, change := range item.Changes {
		change.Diff = truncatePtr(change.Diff, l.MaxItemText)
		changes[i] = change
	}
	item.Changes = changes
	return item
}
