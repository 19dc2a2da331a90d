// Package dashboard 提供线程快照 HTTP API 与 SSE 推送。
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codexmonitor/agent-monitor/internal/codex"
	"github.com/codexmonitor/agent-monitor/internal/store"
	"github.com/codexmonitor/agent-monitor/internal/uistate"
	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

// Runtime 线程运行时 (由 *uistate.RuntimeManager 实现)。
type Runtime interface {
	Threads() []uistate.ThreadSummary
	Thread(threadID string) (uistate.ThreadSnapshot, bool)
	HydrateThread(threadID string, thread map[string]any) int
	LoadThread(ctx context.Context, threadID string) (int, error)
	SaveThread(ctx context.Context, threadID string) error
}

// Transport app-server 连接 (由 *codex.Client 实现)。
type Transport interface {
	Stats() codex.Stats
	ResumeThread(ctx context.Context, threadID string) (map[string]any, error)
}

// ThreadLister 已存储线程列表 (由 *store.ConversationItemStore 实现)。
type ThreadLister interface {
	ListThreads(ctx context.Context, keyword string, limit int) ([]store.ThreadRecord, error)
}

// Server Dashboard HTTP 服务。
type Server struct {
	router    *gin.Engine
	runtime   Runtime
	transport Transport
	stored    ThreadLister
	bus       *EventBus
}

// Option 配置 Server。
type Option func(*Server)

// WithTransport 启用 /api/status 传输信息与 resume 接口。
func WithTransport(t Transport) Option { return func(s *Server) { s.transport = t } }

// WithThreadLister 启用 /api/stored-threads。
func WithThreadLister(l ThreadLister) Option { return func(s *Server) { s.stored = l } }

// WithEventBus 使用外部创建的事件总线 (运行时需要先拿到 Publisher)。
func WithEventBus(b *EventBus) Option { return func(s *Server) { s.bus = b } }

// NewServer 创建 Dashboard 服务。
func NewServer(runtime Runtime, opts ...Option) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	s := &Server{router: r, runtime: runtime}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = NewEventBus(0)
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// ListenAndServe 监听 addr, ctx 取消后优雅关闭。
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("dashboard: listening", logger.FieldAddr, addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return apperrors.Wrapf(err, "Server.ListenAndServe", "listen %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.bus.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return apperrors.Wrap(err, "Server.ListenAndServe", "shutdown")
	}
	<-errCh
	logger.Info("dashboard: stopped", logger.FieldAddr, addr)
	return nil
}

// requestLogger 为每个请求注入带 method/path 的 logger, 并在结束时记录。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := logger.With(logger.FieldMethod, c.Request.Method, logger.FieldPath, c.Request.URL.Path)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), l))
		c.Next()
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Warn("dashboard: request failed", logger.FieldStatus, c.Writer.Status(), "elapsed", time.Since(start))
			return
		}
		l.Debug("dashboard: request", logger.FieldStatus, c.Writer.Status(), "elapsed", time.Since(start))
	}
}
