// runtime_event_handlers.go: 各 method 的处理器。
package uistate

import (
	"strings"

	"github.com/samber/lo"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

// ========================================
// 条目生命周期
// ========================================

func handleItemEvent(m *RuntimeManager, ev routedEvent) bool {
	raw, ok := nestedMap(ev.params, "item")
	if !ok {
		logger.Debug("uistate: item event without item dropped",
			logger.FieldMethod, ev.method,
			logger.FieldThreadID, ev.threadID,
		)
		return false
	}
	item, ok := conversation.BuildItem(raw)
	if !ok {
		logger.Debug("uistate: unrecognized item dropped",
			logger.FieldMethod, ev.method,
			logger.FieldThreadID, ev.threadID,
			logger.FieldItemType, extractFirstString(raw, "type"),
		)
		return false
	}
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		ts.items = m.limits.Ingest(ts.items, item)
		return true
	})
}

// ========================================
// 增量事件
// ========================================

func (m *RuntimeManager) applyDelta(ev routedEvent, seed conversation.Item, field conversation.DeltaField) bool {
	delta := extractFirstString(ev.params, "delta")
	if ev.itemID == "" || delta == "" {
		return false
	}
	seed.ID = ev.itemID
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		ts.items = m.limits.ApplyDelta(ts.items, seed, field, delta)
		return true
	})
}

func handleAgentMessageDelta(m *RuntimeManager, ev routedEvent) bool {
	seed := conversation.Item{Kind: conversation.KindMessage, Role: lo.ToPtr(conversation.RoleAssistant)}
	return m.applyDelta(ev, seed, conversation.DeltaText)
}

func handleReasoningSummaryDelta(m *RuntimeManager, ev routedEvent) bool {
	return m.applyDelta(ev, conversation.Item{Kind: conversation.KindReasoning}, conversation.DeltaSummary)
}

func handleReasoningTextDelta(m *RuntimeManager, ev routedEvent) bool {
	return m.applyDelta(ev, conversation.Item{Kind: conversation.KindReasoning}, conversation.DeltaContent)
}

func handleCommandOutputDelta(m *RuntimeManager, ev routedEvent) bool {
	seed := conversation.Item{Kind: conversation.KindTool, ToolType: lo.ToPtr(conversation.ToolCommandExecution)}
	return m.applyDelta(ev, seed, conversation.DeltaOutput)
}

func handleFileChangeOutputDelta(m *RuntimeManager, ev routedEvent) bool {
	seed := conversation.Item{Kind: conversation.KindTool, ToolType: lo.ToPtr(conversation.ToolFileChange)}
	return m.applyDelta(ev, seed, conversation.DeltaOutput)
}

// handleMCPToolCallProgress 将进度消息逐行追加到 output。
func handleMCPToolCallProgress(m *RuntimeManager, ev routedEvent) bool {
	message := strings.TrimSpace(extractFirstString(ev.params, "message"))
	if message == "" {
		return false
	}
	ev.params = map[string]any{"delta": message + "\n"}
	seed := conversation.Item{Kind: conversation.KindTool, ToolType: lo.ToPtr(conversation.ToolMCPCall)}
	return m.applyDelta(ev, seed, conversation.DeltaOutput)
}

// handleReasoningSummaryPart 新的摘要段落以空行分隔。
func handleReasoningSummaryPart(m *RuntimeManager, ev routedEvent) bool {
	if ev.itemID == "" {
		return false
	}
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		existing, _, ok := conversation.Find(ts.items, ev.itemID)
		if !ok || existing.Summary == nil || *existing.Summary == "" || strings.HasSuffix(*existing.Summary, "\n\n") {
			return false
		}
		summary := *existing.Summary + "\n\n"
		ts.items = conversation.Upsert(ts.items, conversation.Item{ID: ev.itemID, Summary: &summary})
		return true
	})
}

// ========================================
// turn 生命周期
// ========================================

func handleTurnStarted(m *RuntimeManager, ev routedEvent) bool {
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		ts.processing = true
		ts.turnID = ev.turnID
		ts.lastError = ""
		ts.diff = ""
		return true
	})
}

func handleTurnCompleted(m *RuntimeManager, ev routedEvent) bool {
	turn, _ := nestedMap(ev.params, "turn")
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		ts.processing = false
		if msg := errorMessageOf(turn["error"]); msg != "" {
			ts.lastError = msg
		}
		if ts.plan != nil && (ev.turnID == "" || ts.plan.TurnID == ev.turnID) {
			ts.plan.Done = lo.EveryBy(ts.plan.Steps, func(s PlanStep) bool { return planStatusDone(s.Status) })
		}
		return true
	})
}

func handleErrorEvent(m *RuntimeManager, ev routedEvent) bool {
	msg := errorMessageOf(ev.params["error"])
	if msg == "" {
		msg = strings.TrimSpace(extractFirstString(ev.params, "message"))
	}
	if msg == "" {
		return false
	}
	logger.Warn("uistate: agent reported error",
		logger.FieldThreadID, ev.threadID,
		logger.FieldTurnID, ev.turnID,
		logger.FieldError, msg,
	)
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		ts.lastError = msg
		return true
	})
}

func handlePlanUpdated(m *RuntimeManager, ev routedEvent) bool {
	steps := parsePlanSteps(ev.params["plan"])
	explanation := strings.TrimSpace(extractFirstString(ev.params, "explanation"))
	if len(steps) == 0 && explanation == "" {
		return false
	}
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		ts.plan = &PlanSnapshot{
			TurnID:      ev.turnID,
			Explanation: explanation,
			Steps:       steps,
			Done:        len(steps) > 0 && lo.EveryBy(steps, func(s PlanStep) bool { return planStatusDone(s.Status) }),
		}
		return true
	})
}

func handleDiffUpdated(m *RuntimeManager, ev routedEvent) bool {
	diff, ok := ev.params["diff"].(string)
	if !ok {
		return false
	}
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		if ts.diff == diff {
			return false
		}
		ts.diff = diff
		return true
	})
}

func handleTokenUsageUpdated(m *RuntimeManager, ev routedEvent) bool {
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		next, ok := tokenUsageFrom(ts.tokenUsage, ev.params)
		if !ok {
			return false
		}
		next.UpdatedAt = formatTime(m.now())
		logTokenUsage(ev.threadID, ts.tokenUsage, next)
		ts.tokenUsage = &next
		return true
	})
}

// ========================================
// 线程元信息
// ========================================

func handleThreadStarted(m *RuntimeManager, ev routedEvent) bool {
	thread, _ := nestedMap(ev.params, "thread")
	name := strings.TrimSpace(extractFirstString(thread, "name", "title"))
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		if name != "" {
			ts.name = name
		}
		return true
	})
}

func handleThreadNameUpdated(m *RuntimeManager, ev routedEvent) bool {
	name := strings.TrimSpace(extractFirstString(ev.params, "threadName", "name"))
	return m.update(ev.threadID, ev.method, func(ts *threadState) bool {
		next := lo.Ternary(name == "", ts.id, name)
		if ts.name == next {
			return false
		}
		ts.name = next
		return true
	})
}

func handleThreadArchived(m *RuntimeManager, ev routedEvent) bool {
	if m.lookup(ev.threadID) == nil {
		return false
	}
	m.RemoveThread(ev.threadID)
	if m.publisher != nil {
		m.publisher.Publish(ThreadUpdate{
			ThreadID: ev.threadID,
			Method:   ev.method,
			Snapshot: ThreadSnapshot{ID: ev.threadID, Items: []conversation.Item{}},
		})
	}
	return true
}
