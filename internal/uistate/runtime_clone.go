// runtime_clone.go: threadState → 快照拷贝。
package uistate

import (
	"time"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
)

// snapshotLocked 复制线程状态。items 采用写时复制, 直接共享底层切片。
func snapshotLocked(ts *threadState) ThreadSnapshot {
	review := conversation.ReviewStateOf(ts.items)
	out := ThreadSnapshot{
		ID:          ts.id,
		Name:        ts.name,
		Items:       ts.items,
		Processing:  ts.processing,
		TurnID:      ts.turnID,
		LastError:   ts.lastError,
		Plan:        clonePlan(ts.plan),
		Diff:        ts.diff,
		ReviewState: review,
		Reviewing:   review == conversation.ReviewStarted,
		UpdatedAt:   formatTime(ts.updatedAt),
	}
	if ts.tokenUsage != nil {
		usage := *ts.tokenUsage
		out.TokenUsage = &usage
	}
	return out
}

func summaryLocked(ts *threadState) ThreadSummary {
	return ThreadSummary{
		ID:         ts.id,
		Name:       ts.name,
		Processing: ts.processing,
		Reviewing:  conversation.ReviewStateOf(ts.items) == conversation.ReviewStarted,
		ItemCount:  len(ts.items),
		LastError:  ts.lastError,
		UpdatedAt:  formatTime(ts.updatedAt),
	}
}

func clonePlan(src *PlanSnapshot) *PlanSnapshot {
	if src == nil {
		return nil
	}
	out := *src
	out.Steps = append([]PlanStep(nil), src.Steps...)
	return &out
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
