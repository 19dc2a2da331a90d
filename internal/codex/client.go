// Package codex 连接 agent app-server 的 websocket JSON-RPC 端点,
// 把 v2 通知转交给 Notifier (通常是 uistate.RuntimeManager)。
package codex

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
)

// Notifier 接收 app-server 通知。返回值表示通知是否改变了状态。
type Notifier interface {
	ApplyRaw(method string, params json.RawMessage) bool
}

// NotifierFunc 函数适配器。
type NotifierFunc func(method string, params json.RawMessage) bool

// ApplyRaw implements Notifier.
func (f NotifierFunc) ApplyRaw(method string, params json.RawMessage) bool { return f(method, params) }

// ConnectHook 每次 (重) 连接并完成 initialize 后调用。返回错误会断开并重连。
type ConnectHook func(ctx context.Context, c *Client) error

// Config 传输层参数。
type Config struct {
	URL             string
	ClientName      string
	ClientVersion   string
	DialTimeout     time.Duration
	CallTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	ReadIdleTimeout time.Duration

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// ReconnectMaxElapsed 为 0 时无限重连。
	ReconnectMaxElapsed time.Duration
}

// DefaultConfig 返回默认参数。
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		ClientName:       "agent-monitor",
		ClientVersion:    "1.0",
		DialTimeout:      5 * time.Second,
		CallTimeout:      30 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		ReadIdleTimeout:  45 * time.Second,
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
	}
}

// Stats 传输计数。
type Stats struct {
	Connected   bool   `json:"connected"`
	ConnID      string `json:"connId,omitempty"`
	Connects    int64  `json:"connects"`
	Forwarded   int64  `json:"forwarded"`
	Applied     int64  `json:"applied"`
	LegacyDrops int64  `json:"legacyDrops"`
	Malformed   int64  `json:"malformed"`
}

// pendingCall 等待响应的 JSON-RPC 调用。
type pendingCall struct {
	result json.RawMessage
	err    error
	done   chan struct{}
}

// Client app-server JSON-RPC 客户端。
//
// 锁职责: wsMu 保护 ws 与 connID, 并串行化写入。
type Client struct {
	cfg       Config
	notifier  Notifier
	onConnect ConnectHook

	ws     *websocket.Conn
	connID string
	wsMu   sync.Mutex

	nextID  atomic.Int64
	pending sync.Map // id → *pendingCall

	connects    atomic.Int64
	forwarded   atomic.Int64
	applied     atomic.Int64
	legacyDrops atomic.Int64
	malformed   atomic.Int64
}

// Option 配置 Client。
type Option func(*Client)

// WithConnectHook 设置连接完成回调。
func WithConnectHook(h ConnectHook) Option {
	return func(c *Client) { c.onConnect = h }
}

// NewClient 创建客户端。cfg 中为零的时长取默认值。
func NewClient(cfg Config, notifier Notifier, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, apperrors.Wrap(apperrors.ErrNotConfigured, "codex.NewClient", "app-server url")
	}
	if notifier == nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "codex.NewClient", "notifier required")
	}
	def := DefaultConfig(cfg.URL)
	fillDuration(&cfg.DialTimeout, def.DialTimeout)
	fillDuration(&cfg.CallTimeout, def.CallTimeout)
	fillDuration(&cfg.WriteTimeout, def.WriteTimeout)
	fillDuration(&cfg.PingInterval, def.PingInterval)
	fillDuration(&cfg.ReadIdleTimeout, def.ReadIdleTimeout)
	fillDuration(&cfg.ReconnectInitial, def.ReconnectInitial)
	fillDuration(&cfg.ReconnectMax, def.ReconnectMax)
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = def.ClientVersion
	}

	c := &Client{cfg: cfg, notifier: notifier}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func fillDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Stats 返回当前计数快照。
func (c *Client) Stats() Stats {
	c.wsMu.Lock()
	connected, connID := c.ws != nil, c.connID
	c.wsMu.Unlock()
	return Stats{
		Connected:   connected,
		ConnID:      connID,
		Connects:    c.connects.Load(),
		Forwarded:   c.forwarded.Load(),
		Applied:     c.applied.Load(),
		LegacyDrops: c.legacyDrops.Load(),
		Malformed:   c.malformed.Load(),
	}
}
