// transport.go: WebSocket 传输层: 连接、重连、读循环、RPC 通信。
package codex

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
	"github.com/codexmonitor/agent-monitor/pkg/util"
)

// session 一次成功建立的连接。done 在 readLoop 退出时关闭。
type session struct {
	conn   *websocket.Conn
	connID string
	done   chan struct{}
}

// Run 连接 app-server 并持续转发通知, 断线后按指数退避重连。
// ctx 取消时关闭连接并返回 nil; 重连预算耗尽时返回错误。
func (c *Client) Run(ctx context.Context) error {
	b := c.newBackOff(ctx)
	attempt := 0
	for {
		var sess *session
		err := backoff.RetryNotify(func() error {
			attempt++
			s, err := c.connect(ctx)
			if err != nil {
				return err
			}
			sess = s
			return nil
		}, b, func(err error, next time.Duration) {
			logger.Warn("codex: connect failed, retrying",
				logger.FieldURL, c.cfg.URL,
				logger.FieldAttempt, attempt,
				"next", next,
				logger.FieldError, err,
			)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.Wrapf(err, "Client.Run", "connect %s", c.cfg.URL)
		}
		attempt = 0

		select {
		case <-ctx.Done():
			_ = sess.conn.Close()
			<-sess.done
			logger.Info("codex: transport stopped", logger.FieldConnID, sess.connID)
			return nil
		case <-sess.done:
			logger.Warn("codex: connection lost, reconnecting",
				logger.FieldConnID, sess.connID,
				logger.FieldURL, c.cfg.URL,
			)
		}
	}
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = c.cfg.ReconnectMaxElapsed
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// connect 建立连接, 启动 readLoop/pingLoop, 完成 initialize 与 ConnectHook。
func (c *Client) connect(ctx context.Context) (*session, error) {
	conn, err := c.dialWS(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "Client.connect", "ws connect")
	}
	sess := &session{conn: conn, connID: uuid.NewString(), done: make(chan struct{})}
	c.replaceWSConn(conn, sess.connID)
	util.SafeGo(func() { c.readLoop(sess) })
	util.SafeGo(func() { c.pingLoop(ctx, sess) })

	abort := func(err error) (*session, error) {
		_ = conn.Close()
		<-sess.done
		return nil, err
	}
	if _, err := c.Initialize(ctx); err != nil {
		return abort(err)
	}
	if c.onConnect != nil {
		if err := c.onConnect(ctx, c); err != nil {
			return abort(apperrors.Wrap(err, "Client.connect", "connect hook"))
		}
	}
	c.connects.Add(1)
	logger.Info("codex: connected",
		logger.FieldURL, c.cfg.URL,
		logger.FieldConnID, sess.connID,
	)
	return sess, nil
}

func (c *Client) dialWS(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		NetDialContext:   (&net.Dialer{Timeout: c.cfg.DialTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, apperrors.New("Client.dialWS", "dial returned nil websocket connection")
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
		return nil
	})
	return conn, nil
}

func (c *Client) replaceWSConn(conn *websocket.Conn, connID string) {
	c.wsMu.Lock()
	prev := c.ws
	c.ws, c.connID = conn, connID
	c.wsMu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

func (c *Client) clearWSConn(conn *websocket.Conn) {
	c.wsMu.Lock()
	if c.ws == conn {
		c.ws, c.connID = nil, ""
	}
	c.wsMu.Unlock()
}

// ========================================
// 读循环
// ========================================

// readLoop 读取 JSON-RPC 消息直到连接出错。
//
// 消息类型:
//   - Response (id, 无 method): 交给 pending call
//   - Server request (id + method): 回复 method not found
//   - Notification (无 id): codex/event/* 丢弃, 其余交给 Notifier
func (c *Client) readLoop(sess *session) {
	defer func() {
		c.clearWSConn(sess.conn)
		_ = sess.conn.Close()
		c.failPending(apperrors.Wrap(apperrors.ErrClosed, "Client.readLoop", "connection closed"))
		close(sess.done)
	}()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, net.ErrClosed) {
				logger.Debug("codex: read loop closed", logger.FieldConnID, sess.connID)
			} else {
				logger.Warn("codex: read failed",
					logger.FieldConnID, sess.connID,
					logger.FieldError, err,
				)
			}
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg jsonRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.malformed.Add(1)
		logger.Warn("codex: unparseable JSON-RPC message",
			logger.FieldError, err,
			logger.FieldLen, len(data),
		)
		return
	}

	switch {
	case msg.ID != nil && msg.Method == "":
		c.handleResponse(msg)
	case msg.ID != nil:
		logger.Debug("codex: server request rejected", logger.FieldMethod, msg.Method, logger.FieldID, *msg.ID)
		if err := c.respondError(*msg.ID, codeMethodNotFound, "unsupported by monitor: "+msg.Method); err != nil {
			logger.Warn("codex: respond error failed", logger.FieldMethod, msg.Method, logger.FieldError, err)
		}
	case msg.Method == "":
		c.malformed.Add(1)
		logger.Debug("codex: message without method or id dropped", logger.FieldLen, len(data))
	case isLegacyMirror(msg.Method):
		n := c.legacyDrops.Add(1)
		logger.Debug("codex: legacy mirror notification dropped",
			logger.FieldMethod, msg.Method,
			logger.FieldDropped, n,
		)
	default:
		c.forwarded.Add(1)
		if c.notifier.ApplyRaw(msg.Method, msg.Params) {
			c.applied.Add(1)
		}
	}
}

func (c *Client) handleResponse(msg jsonRPCMessage) {
	value, ok := c.pending.LoadAndDelete(*msg.ID)
	if !ok {
		logger.Warn("codex: orphan RPC response (no pending call)",
			logger.FieldID, *msg.ID,
			logger.FieldLen, len(msg.Result),
		)
		return
	}
	pc := value.(*pendingCall)
	if msg.Error != nil {
		pc.err = apperrors.WithCode(nil, "Client.readLoop", strconv.Itoa(msg.Error.Code), "rpc error: "+msg.Error.Message)
		logger.Warn("codex: RPC error response",
			logger.FieldID, *msg.ID,
			"code", msg.Error.Code,
			"message", msg.Error.Message,
		)
	} else {
		pc.result = msg.Result
	}
	close(pc.done)
}

func (c *Client) failPending(err error) {
	c.pending.Range(func(key, _ any) bool {
		if value, ok := c.pending.LoadAndDelete(key); ok {
			pc := value.(*pendingCall)
			pc.err = err
			close(pc.done)
		}
		return true
	})
}

// pingLoop 定期发送 ping, 连接被替换或关闭后退出。
func (c *Client) pingLoop(ctx context.Context, sess *session) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case <-ticker.C:
			c.wsMu.Lock()
			if c.ws != sess.conn {
				c.wsMu.Unlock()
				return
			}
			err := sess.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout))
			c.wsMu.Unlock()
			if err != nil {
				logger.Warn("codex: ping failed", logger.FieldConnID, sess.connID, logger.FieldError, err)
				_ = sess.conn.Close()
				return
			}
		}
	}
}

// ========================================
// JSON-RPC 请求/响应
// ========================================

// call 发送 JSON-RPC 请求并等待响应。
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	pc := &pendingCall{done: make(chan struct{})}
	c.pending.Store(id, pc)
	defer c.pending.Delete(id)

	if err := c.writeJSON(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case <-pc.done:
		return pc.result, pc.err
	case <-timer.C:
		return nil, apperrors.Wrapf(apperrors.ErrTimeout, "Client.call", "%s timeout", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// notify 发送 JSON-RPC 通知 (无需响应)。
func (c *Client) notify(method string, params any) error {
	return c.writeJSON(jsonRPCNotification{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) respondError(id int64, code int, message string) error {
	return c.writeJSON(jsonRPCErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonRPCError{Code: code, Message: message},
	})
}

// writeJSON 线程安全写入 WebSocket JSON。
func (c *Client) writeJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return apperrors.Wrap(apperrors.ErrClosed, "Client.writeJSON", "ws not connected")
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteJSON(v); err != nil {
		return apperrors.Wrap(err, "Client.writeJSON", "ws write")
	}
	return nil
}
