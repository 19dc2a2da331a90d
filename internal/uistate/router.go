// router.go: 按 method 分发 app-server 通知。
package uistate

import (
	"encoding/json"
	"sort"

	"github.com/samber/lo"

	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

// Notification methods handled by the router.
const (
	MethodThreadStarted           = "thread/started"
	MethodThreadNameUpdated       = "thread/name/updated"
	MethodThreadArchived          = "thread/archived"
	MethodThreadTokenUsageUpdated = "thread/tokenUsage/updated"
	MethodTurnStarted             = "turn/started"
	MethodTurnCompleted           = "turn/completed"
	MethodTurnPlanUpdated         = "turn/plan/updated"
	MethodTurnDiffUpdated         = "turn/diff/updated"
	MethodItemStarted             = "item/started"
	MethodItemCompleted           = "item/completed"
	MethodAgentMessageDelta       = "item/agentMessage/delta"
	MethodReasoningSummaryDelta   = "item/reasoning/summaryTextDelta"
	MethodReasoningSummaryPart    = "item/reasoning/summaryPartAdded"
	MethodReasoningTextDelta      = "item/reasoning/textDelta"
	MethodCommandOutputDelta      = "item/commandExecution/outputDelta"
	MethodFileChangeOutputDelta   = "item/fileChange/outputDelta"
	MethodMCPToolCallProgress     = "item/mcpToolCall/progress"
	MethodError                   = "error"
)

// routedEvent 已提取公共字段的通知。params 的键已规范为 camelCase。
type routedEvent struct {
	method   string
	threadID string
	turnID   string
	itemID   string
	params   map[string]any
}

type routeHandler func(*RuntimeManager, routedEvent) bool

var routeHandlers = map[string]routeHandler{
	MethodThreadStarted:           handleThreadStarted,
	MethodThreadNameUpdated:       handleThreadNameUpdated,
	MethodThreadArchived:          handleThreadArchived,
	MethodThreadTokenUsageUpdated: handleTokenUsageUpdated,
	MethodTurnStarted:             handleTurnStarted,
	MethodTurnCompleted:           handleTurnCompleted,
	MethodTurnPlanUpdated:         handlePlanUpdated,
	MethodTurnDiffUpdated:         handleDiffUpdated,
	MethodItemStarted:             handleItemEvent,
	MethodItemCompleted:           handleItemEvent,
	MethodAgentMessageDelta:       handleAgentMessageDelta,
	MethodReasoningSummaryDelta:   handleReasoningSummaryDelta,
	MethodReasoningSummaryPart:    handleReasoningSummaryPart,
	MethodReasoningTextDelta:      handleReasoningTextDelta,
	MethodCommandOutputDelta:      handleCommandOutputDelta,
	MethodFileChangeOutputDelta:   handleFileChangeOutputDelta,
	MethodMCPToolCallProgress:     handleMCPToolCallProgress,
	MethodError:                   handleErrorEvent,
}

// RoutedMethods returns every method the router handles, sorted.
func RoutedMethods() []string {
	methods := lo.Keys(routeHandlers)
	sort.Strings(methods)
	return methods
}

// ApplyNotification applies one app-server notification.
// It returns false when the frame was dropped or changed nothing.
func (m *RuntimeManager) ApplyNotification(method string, params map[string]any) bool {
	handler, ok := routeHandlers[method]
	if !ok {
		logger.Debug("uistate: notification ignored", logger.FieldMethod, method)
		return false
	}
	canonical := canonicalizeKeys(params)
	ev := routedEvent{
		method:   method,
		threadID: threadIDOf(canonical),
		turnID:   turnIDOf(canonical),
		itemID:   itemIDOf(canonical),
		params:   canonical,
	}
	if ev.threadID == "" {
		logger.Debug("uistate: notification without thread id dropped", logger.FieldMethod, method)
		return false
	}
	return handler(m, ev)
}

// ApplyRaw decodes params and applies the notification. Undecodable params are dropped.
func (m *RuntimeManager) ApplyRaw(method string, raw json.RawMessage) bool {
	var params map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			logger.Debug("uistate: undecodable params dropped",
				logger.FieldMethod, method,
				logger.FieldError, err,
			)
			return false
		}
	}
	return m.ApplyNotification(method, params)
}
