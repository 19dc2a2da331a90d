package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codexmonitor/agent-monitor/internal/codex"
	"github.com/codexmonitor/agent-monitor/internal/config"
	"github.com/codexmonitor/agent-monitor/internal/dashboard"
	"github.com/codexmonitor/agent-monitor/internal/database"
	"github.com/codexmonitor/agent-monitor/internal/store"
	"github.com/codexmonitor/agent-monitor/internal/uistate"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

var (
	serveAddr      string
	serveURL       string
	serveNoMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the app-server and serve thread snapshots",
	Long: `连接 app-server 的 websocket JSON-RPC 端点, 归并通知为线程时间线,
并在 HTTP 上提供 REST 快照与 SSE 推送。配置 POSTGRES_CONNECTION_STRING 后持久化线程。`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP 监听地址 (覆盖 MONITOR_HTTP_ADDR)")
	serveCmd.Flags().StringVar(&serveURL, "url", "", "app-server websocket 地址 (覆盖 MONITOR_APP_SERVER_URL)")
	serveCmd.Flags().BoolVar(&serveNoMigrate, "no-migrate", false, "启动时不执行数据库迁移")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()
	if serveAddr != "" {
		cfg.HTTPAddr = serveAddr
	}
	if serveURL != "" {
		cfg.AppServerURL = serveURL
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := dashboard.NewEventBus(cfg.SSEBuffer)
	runtimeOpts := []uistate.Option{
		uistate.WithLimits(cfg.Limits()),
		uistate.WithPublisher(bus),
	}
	serverOpts := []dashboard.Option{dashboard.WithEventBus(bus)}

	// PostgreSQL (可选)
	if cfg.StoreEnabled() {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if !serveNoMigrate {
			if _, err := database.Migrate(ctx, pool, migrationSource(cfg.MigrationsDir)); err != nil {
				return err
			}
		}
		items := store.NewConversationItemStore(pool)
		runtimeOpts = append(runtimeOpts, uistate.WithStore(items))
		serverOpts = append(serverOpts, dashboard.WithThreadLister(items))
	} else {
		logger.Warn("serve: POSTGRES_CONNECTION_STRING not set, threads are kept in memory only")
	}

	runtime := uistate.NewRuntimeManager(runtimeOpts...)

	client, err := codex.NewClient(transportConfig(cfg), runtime, codex.WithConnectHook(resumeHook(runtime, cfg.ResumeThreads)))
	if err != nil {
		return err
	}
	serverOpts = append(serverOpts, dashboard.WithTransport(client))
	srv := dashboard.NewServer(runtime, serverOpts...)

	logger.Info("serve: starting",
		logger.FieldURL, cfg.AppServerURL,
		logger.FieldAddr, cfg.HTTPAddr,
		logger.FieldVersion, Version,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.HTTPAddr) })
	if cfg.StoreEnabled() {
		g.Go(func() error {
			flushLoop(gctx, runtime, cfg.FlushInterval())
			return nil
		})
	}
	err = g.Wait()

	// 退出前最后一次落盘, ctx 已取消, 使用独立超时
	if cfg.StoreEnabled() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer flushCancel()
		if n, ferr := runtime.SaveDirty(flushCtx); ferr != nil {
			logger.Error("serve: final flush failed", logger.FieldError, ferr, logger.FieldCount, n)
		}
	}
	logger.Info("serve: stopped")
	return err
}

func transportConfig(cfg *config.Config) codex.Config {
	tc := codex.DefaultConfig(cfg.AppServerURL)
	tc.PingInterval = cfg.PingInterval()
	tc.ReadIdleTimeout = cfg.ReadIdleTimeout()
	tc.CallTimeout = cfg.CallTimeout()
	tc.ReconnectMax = cfg.ReconnectMax()
	tc.ClientVersion = Version
	return tc
}

// resumeHook 每次连接后恢复配置的线程。单个线程失败只记录日志。
func resumeHook(runtime *uistate.RuntimeManager, threadIDs []string) codex.ConnectHook {
	return func(ctx context.Context, c *codex.Client) error {
		for _, id := range threadIDs {
			thread, err := c.ResumeThread(ctx, id)
			if err != nil {
				logger.Warn("serve: resume thread failed", logger.FieldThreadID, id, logger.FieldError, err)
				continue
			}
			n := runtime.HydrateThread(id, thread)
			logger.Info("serve: thread hydrated", logger.FieldThreadID, id, logger.FieldItemCount, n)
		}
		return nil
	}
}

// flushLoop 定期持久化有变更的线程。
func flushLoop(ctx context.Context, runtime *uistate.RuntimeManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := runtime.SaveDirty(ctx)
			if err != nil {
				logger.Warn("serve: flush failed", logger.FieldError, err, logger.FieldCount, n)
				continue
			}
			if n > 0 {
				logger.Debug("serve: threads flushed", logger.FieldCount, n)
			}
		}
	}
}
