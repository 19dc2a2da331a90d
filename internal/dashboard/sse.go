// sse.go: SSE 事件总线 + handler。
package dashboard

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codexmonitor/agent-monitor/internal/uistate"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

const (
	// EventThread 单个线程的快照更新。
	EventThread = "thread"
	// EventThreads 连接建立时的线程摘要列表。
	EventThreads = "threads"

	defaultSubscriberBuffer = 32
	sseKeepalive            = 30 * time.Second
)

// Event SSE 事件。
type Event struct {
	Type string
	Data any
}

type subscriber struct {
	ch       chan Event
	threadID string // 空 = 所有线程
}

// EventBus 事件总线 (SSE 推送), 实现 uistate.Publisher。
//
// 发送不阻塞: 订阅者缓冲满时丢弃该事件并计数。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	buffer      int
	closed      bool
	dropped     atomic.Int64
}

// NewEventBus 创建事件总线。buffer <= 0 时使用默认值。
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &EventBus{subscribers: make(map[string]*subscriber), buffer: buffer}
}

// Publish 实现 uistate.Publisher。
func (b *EventBus) Publish(update uistate.ThreadUpdate) {
	b.Broadcast(Event{Type: EventThread, Data: update}, update.ThreadID)
}

// Broadcast 向订阅了 threadID (或全部线程) 的客户端广播事件。
func (b *EventBus) Broadcast(event Event, threadID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		if sub.threadID != "" && sub.threadID != threadID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			n := b.dropped.Add(1)
			logger.Debug("dashboard: SSE subscriber full, event dropped",
				logger.FieldClientID, id,
				logger.FieldThreadID, threadID,
				logger.FieldDropped, n,
			)
		}
	}
}

// Subscribe 订阅; threadID 为空时接收所有线程。总线关闭后返回已关闭的 channel。
func (b *EventBus) Subscribe(threadID string) (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = &subscriber{ch: ch, threadID: threadID}
	return id, ch
}

// Unsubscribe 取消订阅并关闭其 channel。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Close 关闭所有订阅, 之后的 Subscribe 立即结束。
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Subscribers 当前订阅数。
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped 累计丢弃的事件数。
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// sseHandler Gin SSE handler。?thread=<id> 只推送该线程。
func (s *Server) sseHandler(c *gin.Context) {
	threadID := c.Query("thread")
	clientID, ch := s.bus.Subscribe(threadID)
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("dashboard: SSE client disconnected", logger.FieldClientID, clientID)
	}()
	logger.Info("dashboard: SSE client connected",
		logger.FieldClientID, clientID,
		logger.FieldThreadID, threadID,
	)

	// 先推送当前状态, 之后只推增量快照
	if threadID == "" {
		c.SSEvent(EventThreads, s.runtime.Threads())
	} else if snap, ok := s.runtime.Thread(threadID); ok {
		c.SSEvent(EventThread, uistate.ThreadUpdate{ThreadID: threadID, Snapshot: snap})
	} else {
		c.SSEvent(EventThread, uistate.ThreadUpdate{ThreadID: threadID, Snapshot: uistate.ThreadSnapshot{ID: threadID}})
	}
	c.Writer.Flush()

	keepalive := time.NewTimer(sseKeepalive)
	defer keepalive.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt.Data)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(sseKeepalive)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			keepalive.Reset(sseKeepalive)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
