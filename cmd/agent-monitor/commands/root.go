// Package commands 提供 agent-monitor 的 CLI 子命令。
package commands

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codexmonitor/agent-monitor/internal/config"
	"github.com/codexmonitor/agent-monitor/migrations"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

var (
	// Version 构建时注入。
	Version   = "0.1.0"
	BuildTime = "dev"
)

// 全局 flags
var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "agent-monitor",
	Short: "Agent session monitor",
	Long: `agent-monitor 连接 agent app-server, 把通知流归并为每个线程的会话时间线,
并通过 HTTP/SSE 提供快照。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML 配置文件 (覆盖 "+config.ConfigFileEnv+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agent-monitor %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// Execute 运行根命令。
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig 读取配置并初始化日志。返回的 cleanup 关闭日志文件。
func loadConfig() (*config.Config, func(), error) {
	if configFile != "" {
		if err := os.Setenv(config.ConfigFileEnv, configFile); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = strings.ToUpper(logLevel)
	}

	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir, cfg.LogLevel); err != nil {
			return nil, nil, err
		}
		return cfg, logger.ShutdownFileHandler, nil
	}
	logger.InitLevel(cfg.LogEnv, cfg.LogLevel)
	return cfg, func() {}, nil
}

// migrationSource 目录存在时用磁盘上的迁移文件, 否则用内置文件。
func migrationSource(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}
