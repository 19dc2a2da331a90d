// prepare.go: 积压条目首次展示前的整理。
package conversation

import "strings"

// Prepare 整理从存储加载的积压条目:
//
//  1. 丢弃紧跟在已完成 review 之后、文本相同的助手消息 (比较原始文本)
//  2. 逐条 Normalize
//  3. 仅保留最近 MaxItemsPerThread 条
//  4. 最近 RecentToolWindow 条之外的 tool 条目强制截断 output / changes diff
//
// 返回新切片, 不修改入参。
func (l Limits) Prepare(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for i, item := range items {
		if i > 0 && echoesReview(items[i-1], item) {
			continue
		}
		out = append(out, l.Normalize(item))
	}

	if l.MaxItemsPerThread > 0 && len(out) > l.MaxItemsPerThread {
		out = out[len(out)-l.MaxItemsPerThread:]
	}

	cutoff := len(out) - max(l.RecentToolWindow, 0)
	for i := 0; i < cutoff; i++ {
		if out[i].Kind == KindTool {
			out[i] = l.truncateToolOutput(out[i])
		}
	}
	return out
}

// echoesReview 上游会把 review 结论再作为普通助手消息发一次。
func echoesReview(prev, item Item) bool {
	if prev.Kind != KindReview || prev.State == nil || *prev.State != ReviewCompleted {
		return false
	}
	if !item.IsAssistantMessage() {
		return false
	}
	return strings.TrimSpace(prev.TextValue()) == strings.TrimSpace(item.TextValue())
}
