package uistate

import (
	"sync"
	"time"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
)

// ThreadSnapshot is the render-ready state of one thread.
type ThreadSnapshot struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Items       []conversation.Item      `json:"items"`
	Processing  bool                     `json:"processing"`
	TurnID      string                   `json:"turnId,omitempty"`
	LastError   string                   `json:"lastError,omitempty"`
	Plan        *PlanSnapshot            `json:"plan,omitempty"`
	Diff        string                   `json:"diff,omitempty"`
	TokenUsage  *TokenUsageSnapshot      `json:"tokenUsage,omitempty"`
	ReviewState conversation.ReviewState `json:"reviewState,omitempty"`
	Reviewing   bool                     `json:"reviewing"`
	UpdatedAt   string                   `json:"updatedAt,omitempty"`
}

// ThreadSummary is a ThreadSnapshot without the item list.
type ThreadSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Processing bool   `json:"processing"`
	Reviewing  bool   `json:"reviewing"`
	ItemCount  int    `json:"itemCount"`
	LastError  string `json:"lastError,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

// TokenUsageSnapshot stores context-window token usage.
type TokenUsageSnapshot struct {
	UsedTokens          int     `json:"usedTokens"`
	ContextWindowTokens int     `json:"contextWindowTokens,omitempty"`
	UsedPercent         float64 `json:"usedPercent,omitempty"`
	LeftPercent         float64 `json:"leftPercent,omitempty"`
	UpdatedAt           string  `json:"updatedAt,omitempty"`
}

// PlanStep is one entry of a turn plan.
type PlanStep struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// PlanSnapshot is the latest turn/plan/updated payload.
type PlanSnapshot struct {
	TurnID      string     `json:"turnId,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
	Steps       []PlanStep `json:"steps"`
	Done        bool       `json:"done"`
}

type threadState struct {
	mu sync.Mutex // 单线程单写者

	id         string
	name       string
	items      []conversation.Item
	processing bool
	turnID     string
	lastError  string
	plan       *PlanSnapshot
	diff       string
	tokenUsage *TokenUsageSnapshot
	dirty      bool
	updatedAt  time.Time
}

func newThreadState(id string) *threadState {
	return &threadState{id: id, name: id, items: []conversation.Item{}}
}
