// Package uistate 维护每个线程的会话运行时状态。
//
// app-server 通知经 Router 分发到类型化处理器, 通过 conversation 包归并为条目列表;
// 每次归并后把线程快照交给 Publisher。
//
// 并发模型: 线程注册表由 RWMutex 保护; 每个线程一把互斥锁, 同一线程的事件串行应用,
// 不同线程互不阻塞。
package uistate

import (
	"context"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
)

// ThreadUpdate 一次归并后的输出。Items 为不可变快照, 接收方不得修改。
type ThreadUpdate struct {
	ThreadID string         `json:"threadId"`
	Method   string         `json:"method"`
	Snapshot ThreadSnapshot `json:"snapshot"`
}

// Publisher 接收线程更新。在线程锁内调用, 实现不得阻塞。
type Publisher interface {
	Publish(update ThreadUpdate)
}

// PublisherFunc 函数适配器。
type PublisherFunc func(ThreadUpdate)

// Publish 实现 Publisher。
func (f PublisherFunc) Publish(update ThreadUpdate) { f(update) }

// ItemStore 线程积压条目的持久化。
type ItemStore interface {
	LoadThreadItems(ctx context.Context, threadID string) ([]conversation.Item, error)
	SaveThreadItems(ctx context.Context, threadID string, items []conversation.Item) error
}
