// protocol.go: JSON-RPC 2.0 帧与 app-server 协议方法。
package codex

import (
	"context"
	"encoding/json"
	"strings"

	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

// jsonRPCRequest JSON-RPC 2.0 请求。
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonRPCNotification JSON-RPC 2.0 通知 (无 id)。
type jsonRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonRPCMessage 读取侧的通用消息。
type jsonRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"` // nil = 通知
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// jsonRPCErrorResponse 回复 server request 的错误响应。
type jsonRPCErrorResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Error   *jsonRPCError `json:"error"`
}

// codeMethodNotFound JSON-RPC method not found。
const codeMethodNotFound = -32601

// legacyMirrorPrefix 旧版事件流前缀, 与 v2 item 事件一一镜像。
const legacyMirrorPrefix = "codex/event/"

func isLegacyMirror(method string) bool {
	return strings.HasPrefix(method, legacyMirrorPrefix)
}

// ========================================
// 协议方法
// ========================================

type initializeParams struct {
	ClientInfo clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Initialize 发送 initialize 请求, 返回 server 的原始响应。
func (c *Client) Initialize(ctx context.Context) (json.RawMessage, error) {
	result, err := c.call(ctx, "initialize", initializeParams{
		ClientInfo: clientInfo{Name: c.cfg.ClientName, Version: c.cfg.ClientVersion},
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "Client.Initialize", "initialize")
	}
	if err := c.notify("initialized", nil); err != nil {
		return nil, apperrors.Wrap(err, "Client.Initialize", "initialized")
	}
	return result, nil
}

type threadResumeParams struct {
	ThreadID string `json:"threadId"`
}

// ResumeThread 调用 thread/resume, 返回响应中的 thread 对象 (含 turns[].items[])。
func (c *Client) ResumeThread(ctx context.Context, threadID string) (map[string]any, error) {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Client.ResumeThread", "thread id required")
	}
	result, err := c.call(ctx, "thread/resume", threadResumeParams{ThreadID: id})
	if err != nil {
		return nil, apperrors.Wrapf(err, "Client.ResumeThread", "thread/resume %s", id)
	}
	thread, err := parseThreadResumeResult(result)
	if err != nil {
		return nil, err
	}
	logger.Info("codex: thread resumed",
		logger.FieldThreadID, id,
		logger.FieldLen, len(result),
	)
	return thread, nil
}

func parseThreadResumeResult(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "parseThreadResumeResult", "empty thread/resume response")
	}
	var resp struct {
		Thread map[string]any `json:"thread"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperrors.Wrap(err, "parseThreadResumeResult", "thread/resume decode")
	}
	if resp.Thread == nil {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "parseThreadResumeResult", "thread/resume without thread")
	}
	return resp.Thread, nil
}
