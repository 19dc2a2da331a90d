package uistate

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
	pkgerr "github.com/codexmonitor/agent-monitor/pkg/errors"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

// RuntimeManager stores per-thread conversation state.
type RuntimeManager struct {
	mu      sync.RWMutex // 保护 threads 注册表
	threads map[string]*threadState

	limits    conversation.Limits
	publisher Publisher
	store     ItemStore
	now       func() time.Time
}

// Option configures a RuntimeManager.
type Option func(*RuntimeManager)

// WithLimits overrides the default truncation limits.
func WithLimits(l conversation.Limits) Option {
	return func(m *RuntimeManager) { m.limits = l }
}

// WithPublisher sets the outbound hook called after every reduce.
func WithPublisher(p Publisher) Option {
	return func(m *RuntimeManager) { m.publisher = p }
}

// WithStore enables LoadThread / SaveThread.
func WithStore(s ItemStore) Option {
	return func(m *RuntimeManager) { m.store = s }
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(m *RuntimeManager) { m.now = now }
}

// NewRuntimeManager creates an empty runtime manager.
func NewRuntimeManager(opts ...Option) *RuntimeManager {
	m := &RuntimeManager{
		threads: map[string]*threadState{},
		limits:  conversation.DefaultLimits(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limits returns the active truncation limits.
func (m *RuntimeManager) Limits() conversation.Limits { return m.limits }

// Threads returns summaries of all known threads, most recently updated first.
func (m *RuntimeManager) Threads() []ThreadSummary {
	m.mu.RLock()
	states := make([]*threadState, 0, len(m.threads))
	for _, ts := range m.threads {
		states = append(states, ts)
	}
	m.mu.RUnlock()

	out := make([]ThreadSummary, 0, len(states))
	for _, ts := range states {
		ts.mu.Lock()
		out = append(out, summaryLocked(ts))
		ts.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Thread returns a snapshot of one thread.
func (m *RuntimeManager) Thread(threadID string) (ThreadSnapshot, bool) {
	ts := m.lookup(threadID)
	if ts == nil {
		return ThreadSnapshot{}, false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return snapshotLocked(ts), true
}

// ThreadItems returns a thread's item list (read-only reference).
// Callers must NOT mutate the returned slice.
func (m *RuntimeManager) ThreadItems(threadID string) []conversation.Item {
	ts := m.lookup(threadID)
	if ts == nil {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.items
}

// RemoveThread drops a thread from the registry.
func (m *RuntimeManager) RemoveThread(threadID string) {
	id := strings.TrimSpace(threadID)
	m.mu.Lock()
	delete(m.threads, id)
	m.mu.Unlock()
}

// HydrateThread rebuilds a thread from a thread/resume or thread/read
// response ({turns:[{items:[...]}]}). Items already applied live and absent
// from the backlog are kept after it.
func (m *RuntimeManager) HydrateThread(threadID string, thread map[string]any) int {
	return m.replaceItems(threadID, "thread/hydrate", backlogItems(thread))
}

// LoadThread hydrates a thread from the item store.
func (m *RuntimeManager) LoadThread(ctx context.Context, threadID string) (int, error) {
	if m.store == nil {
		return 0, pkgerr.Wrap(pkgerr.ErrNotConfigured, "RuntimeManager.LoadThread", "item store")
	}
	id := strings.TrimSpace(threadID)
	if id == "" {
		return 0, pkgerr.Wrap(pkgerr.ErrInvalidInput, "RuntimeManager.LoadThread", "thread id is required")
	}
	items, err := m.store.LoadThreadItems(ctx, id)
	if err != nil {
		return 0, pkgerr.Wrapf(err, "RuntimeManager.LoadThread", "load %s", id)
	}
	n := m.replaceItems(id, "thread/load", items)
	logger.FromContext(ctx).Info("uistate: thread loaded",
		logger.FieldThreadID, id,
		logger.FieldItemCount, n,
	)
	return n, nil
}

// SaveThread flushes a thread's items to the item store.
func (m *RuntimeManager) SaveThread(ctx context.Context, threadID string) error {
	if m.store == nil {
		return pkgerr.Wrap(pkgerr.ErrNotConfigured, "RuntimeManager.SaveThread", "item store")
	}
	ts := m.lookup(threadID)
	if ts == nil {
		return pkgerr.Wrapf(pkgerr.ErrNotFound, "RuntimeManager.SaveThread", "thread %q", threadID)
	}
	ts.mu.Lock()
	items := ts.items
	ts.dirty = false
	ts.mu.Unlock()

	if err := m.store.SaveThreadItems(ctx, ts.id, items); err != nil {
		m.markDirty(ts)
		return pkgerr.Wrapf(err, "RuntimeManager.SaveThread", "save %s", ts.id)
	}
	return nil
}

// SaveDirty flushes every thread changed since its last save.
// It keeps going after a failure and returns the first error.
func (m *RuntimeManager) SaveDirty(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	m.mu.RLock()
	var dirty []string
	for id, ts := range m.threads {
		ts.mu.Lock()
		if ts.dirty {
			dirty = append(dirty, id)
		}
		ts.mu.Unlock()
	}
	m.mu.RUnlock()

	saved := 0
	var firstErr error
	for _, id := range dirty {
		if err := m.SaveThread(ctx, id); err != nil {
			logger.FromContext(ctx).Warn("uistate: save thread failed",
				logger.FieldThreadID, id,
				logger.FieldError, err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		saved++
	}
	return saved, firstErr
}

func (m *RuntimeManager) markDirty(ts *threadState) {
	ts.mu.Lock()
	ts.dirty = true
	ts.mu.Unlock()
}

// replaceItems 以积压为基准重建线程条目, 积压中没有的现有条目追加在后, 再整体 Prepare。
func (m *RuntimeManager) replaceItems(threadID, method string, backlog []conversation.Item) int {
	n := 0
	m.update(threadID, method, func(ts *threadState) bool {
		ts.items = m.limits.Prepare(foldLive(backlog, ts.items))
		n = len(ts.items)
		return true
	})
	return n
}

// foldLive 返回 backlog 加上 live 中 id 不在 backlog 里的条目 (保持 live 顺序)。
func foldLive(backlog, live []conversation.Item) []conversation.Item {
	merged := backlog
	for _, item := range live {
		if _, _, ok := conversation.Find(backlog, item.ID); !ok {
			merged = conversation.Upsert(merged, item)
		}
	}
	return merged
}

func (m *RuntimeManager) lookup(threadID string) *threadState {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threads[id]
}

func (m *RuntimeManager) ensureThread(id string) *threadState {
	m.mu.RLock()
	ts, ok := m.threads[id]
	m.mu.RUnlock()
	if ok {
		return ts
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok = m.threads[id]; !ok {
		ts = newThreadState(id)
		m.threads[id] = ts
	}
	return ts
}

// update 在线程锁内执行 fn; fn 返回 true 时标记 dirty 并发布快照。
func (m *RuntimeManager) update(threadID, method string, fn func(*threadState) bool) bool {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return false
	}
	ts := m.ensureThread(id)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !fn(ts) {
		return false
	}
	ts.dirty = true
	ts.updatedAt = m.now()
	if m.publisher != nil {
		m.publisher.Publish(ThreadUpdate{
			ThreadID: id,
			Method:   method,
			Snapshot: snapshotLocked(ts),
		})
	}
	return true
}
