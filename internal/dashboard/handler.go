// handler.go: 线程快照 REST API。
package dashboard

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
	"github.com/codexmonitor/agent-monitor/internal/uistate"
	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { success(c, gin.H{"status": "ok"}) })

	api := s.router.Group("/api")
	api.GET("/status", s.status)

	api.GET("/threads", s.listThreads)
	api.GET("/threads/:id", s.getThread)
	api.GET("/threads/:id/items", s.getThreadItems)
	api.POST("/threads/:id/load", s.loadThread)
	api.POST("/threads/:id/save", s.saveThread)
	api.POST("/threads/:id/resume", s.resumeThread)

	api.GET("/stored-threads", s.listStoredThreads)

	api.GET("/events", s.sseHandler)
}

func queryLimit(c *gin.Context, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || v < 1 {
		return def
	}
	return min(v, 2000)
}

func threadParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		badRequest(c, "thread id required")
		return "", false
	}
	return id, true
}

func (s *Server) status(c *gin.Context) {
	data := gin.H{
		"threads":        len(s.runtime.Threads()),
		"sseSubscribers": s.bus.Subscribers(),
		"sseDropped":     s.bus.Dropped(),
		"itemTypes":      conversation.RecognizedTypes(),
		"routedMethods":  uistate.RoutedMethods(),
	}
	if s.transport != nil {
		data["transport"] = s.transport.Stats()
	}
	success(c, data)
}

func (s *Server) listThreads(c *gin.Context) {
	success(c, s.runtime.Threads())
}

func (s *Server) getThread(c *gin.Context) {
	id, ok := threadParam(c)
	if !ok {
		return
	}
	snap, ok := s.runtime.Thread(id)
	if !ok {
		notFound(c, "thread "+id+" not found")
		return
	}
	success(c, snap)
}

func (s *Server) getThreadItems(c *gin.Context) {
	id, ok := threadParam(c)
	if !ok {
		return
	}
	snap, ok := s.runtime.Thread(id)
	if !ok {
		notFound(c, "thread "+id+" not found")
		return
	}
	success(c, snap.Items)
}

func (s *Server) loadThread(c *gin.Context) {
	id, ok := threadParam(c)
	if !ok {
		return
	}
	n, err := s.runtime.LoadThread(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, gin.H{"threadId": id, "items": n})
}

func (s *Server) saveThread(c *gin.Context) {
	id, ok := threadParam(c)
	if !ok {
		return
	}
	if err := s.runtime.SaveThread(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	success(c, gin.H{"threadId": id})
}

// resumeThread 通过 app-server thread/resume 拉取历史并重建线程。
func (s *Server) resumeThread(c *gin.Context) {
	id, ok := threadParam(c)
	if !ok {
		return
	}
	if s.transport == nil {
		writeError(c, apperrors.Wrap(apperrors.ErrNotConfigured, "dashboard.resumeThread", "app-server transport"))
		return
	}
	thread, err := s.transport.ResumeThread(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	n := s.runtime.HydrateThread(id, thread)
	logger.FromContext(c.Request.Context()).Info("dashboard: thread resumed",
		logger.FieldThreadID, id,
		logger.FieldItemCount, n,
	)
	success(c, gin.H{"threadId": id, "items": n})
}

func (s *Server) listStoredThreads(c *gin.Context) {
	if s.stored == nil {
		writeError(c, apperrors.Wrap(apperrors.ErrNotConfigured, "dashboard.listStoredThreads", "item store"))
		return
	}
	records, err := s.stored.ListThreads(c.Request.Context(), c.Query("keyword"), queryLimit(c, 100))
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, records)
}
