// timeline_tokens.go: token 用量提取与计算。
package uistate

import (
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

// tokenUsageFrom 解析 thread/tokenUsage/updated 的 params, 与 prev 合并。
func tokenUsageFrom(prev *TokenUsageSnapshot, params map[string]any) (TokenUsageSnapshot, bool) {
	var next TokenUsageSnapshot
	if prev != nil {
		next = *prev
	}

	limit, hasLimit := extractContextWindow(params)
	if hasLimit {
		next.ContextWindowTokens = limit
	}
	used, hasUsed := extractTotalUsedTokens(params)
	if hasUsed {
		next.UsedTokens = used
	}
	if !hasLimit && !hasUsed {
		return next, false
	}
	next.UsedPercent, next.LeftPercent = computeTokenPercent(next.UsedTokens, next.ContextWindowTokens)
	return next, true
}

func extractContextWindow(payload map[string]any) (int, bool) {
	if limit, ok := extractFirstIntByPaths(payload,
		[]string{"tokenUsage", "modelContextWindow"},
		[]string{"modelContextWindow"},
		[]string{"info", "modelContextWindow"},
	); ok && limit > 0 {
		return limit, true
	}
	return 0, false
}

// extractTotalUsedTokens 优先级:
//  1. tokenUsage.last.totalTokens (最近一次请求占用的上下文)
//  2. tokenUsage.total.totalTokens
//  3. last 的 input + output
func extractTotalUsedTokens(payload map[string]any) (int, bool) {
	if total, ok := extractFirstIntByPaths(payload,
		[]string{"tokenUsage", "last", "totalTokens"},
		[]string{"info", "lastTokenUsage", "totalTokens"},
	); ok {
		return max(0, total), true
	}
	if total, ok := extractFirstIntByPaths(payload,
		[]string{"tokenUsage", "total", "totalTokens"},
		[]string{"info", "totalTokenUsage", "totalTokens"},
	); ok {
		return max(0, total), true
	}
	input, hasInput := extractFirstIntByPaths(payload, []string{"tokenUsage", "last", "inputTokens"})
	output, hasOutput := extractFirstIntByPaths(payload, []string{"tokenUsage", "last", "outputTokens"})
	if hasInput || hasOutput {
		return max(0, input+output), true
	}
	return 0, false
}

// computeTokenPercent calculates used/left percentages, clamped to [0, 100].
func computeTokenPercent(usedTokens, contextWindowTokens int) (usedPct, leftPct float64) {
	if contextWindowTokens <= 0 {
		return 0, 0
	}
	usedPct = (float64(usedTokens) / float64(contextWindowTokens)) * 100
	usedPct = min(max(usedPct, 0), 100)
	return usedPct, 100 - usedPct
}

func logTokenUsage(threadID string, prev *TokenUsageSnapshot, next TokenUsageSnapshot) {
	prevUsed, prevWindow := 0, 0
	if prev != nil {
		prevUsed, prevWindow = prev.UsedTokens, prev.ContextWindowTokens
	}
	if prevUsed == next.UsedTokens && prevWindow == next.ContextWindowTokens {
		return
	}
	logger.Debug("uistate: token update",
		logger.FieldThreadID, threadID,
		"prev_used", prevUsed,
		"next_used", next.UsedTokens,
		"next_window", next.ContextWindowTokens,
		"next_pct", next.UsedPercent,
	)
}
