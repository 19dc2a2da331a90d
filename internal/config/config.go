// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 先用反射填充环境变量与默认值, 再用 MONITOR_CONFIG_FILE 指向的
// YAML 文件覆盖文件中出现的键。
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
	"github.com/codexmonitor/agent-monitor/pkg/util"
)

// ConfigFileEnv YAML 覆盖文件路径的环境变量。
const ConfigFileEnv = "MONITOR_CONFIG_FILE"

// Config 应用全局配置。
type Config struct {
	// App-server 传输
	AppServerURL            string   `env:"MONITOR_APP_SERVER_URL" default:"ws://127.0.0.1:4500" yaml:"app_server_url"`
	AppServerPingSec        int      `env:"MONITOR_APP_SERVER_PING_SEC" default:"15" min:"1" yaml:"app_server_ping_sec"`
	AppServerIdleSec        int      `env:"MONITOR_APP_SERVER_IDLE_SEC" default:"45" min:"1" yaml:"app_server_idle_sec"`
	AppServerCallTimeoutSec int      `env:"MONITOR_APP_SERVER_CALL_TIMEOUT_SEC" default:"30" min:"1" yaml:"app_server_call_timeout_sec"`
	ReconnectMaxSec         int      `env:"MONITOR_RECONNECT_MAX_SEC" default:"30" min:"1" yaml:"reconnect_max_sec"`
	ResumeThreads           []string `env:"MONITOR_RESUME_THREADS" yaml:"resume_threads"`

	// 会话限额
	MaxItemText       int      `env:"MONITOR_MAX_ITEM_TEXT" default:"20000" min:"0" yaml:"max_item_text"`
	MaxTitle          int      `env:"MONITOR_MAX_TITLE" default:"200" min:"0" yaml:"max_title"`
	MaxDetail         int      `env:"MONITOR_MAX_DETAIL" default:"2000" min:"0" yaml:"max_detail"`
	RecentToolWindow  int      `env:"MONITOR_RECENT_TOOL_WINDOW" default:"40" min:"0" yaml:"recent_tool_window"`
	MaxItemsPerThread int      `env:"MONITOR_MAX_ITEMS_PER_THREAD" default:"500" min:"1" yaml:"max_items_per_thread"`
	ExemptToolTypes   []string `env:"MONITOR_EXEMPT_TOOL_TYPES" default:"fileChange,commandExecution" yaml:"exempt_tool_types"`

	// PostgreSQL
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING" yaml:"postgres_connection_string"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public" yaml:"postgres_schema"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1" yaml:"postgres_pool_min_size"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1" yaml:"postgres_pool_max_size"`
	MigrationsDir       string `env:"MONITOR_MIGRATIONS_DIR" default:"./migrations" yaml:"migrations_dir"`
	FlushIntervalSec    int    `env:"MONITOR_FLUSH_INTERVAL_SEC" default:"10" min:"1" yaml:"flush_interval_sec"`

	// HTTP
	HTTPAddr  string `env:"MONITOR_HTTP_ADDR" default:"127.0.0.1:4600" yaml:"http_addr"`
	SSEBuffer int    `env:"MONITOR_SSE_BUFFER" default:"64" min:"1" yaml:"sse_buffer"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO" yaml:"log_level"`
	LogEnv   string `env:"MONITOR_ENV" default:"production" yaml:"log_env"`
	LogDir   string `env:"MONITOR_LOG_DIR" yaml:"log_dir"`
}

// Load 加载环境变量, 并在设置了 MONITOR_CONFIG_FILE 时叠加 YAML 文件。
func Load() (*Config, error) {
	var cfg Config
	util.LoadFromEnv(&cfg)
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrapf(err, "config.Load", "read %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrapf(err, "config.Load", "parse %s", path)
	}
	return nil
}

// Validate 校验 YAML 覆盖后可能越界的字段。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppServerURL) == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Config.Validate", "app_server_url is empty")
	}
	if c.MaxItemText < 0 || c.MaxTitle < 0 || c.MaxDetail < 0 || c.RecentToolWindow < 0 {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Config.Validate", "limits must not be negative")
	}
	if c.MaxItemsPerThread < 1 {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "Config.Validate", "max_items_per_thread = %d", c.MaxItemsPerThread)
	}
	if c.PostgresPoolMaxSize < c.PostgresPoolMinSize {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "Config.Validate",
			"postgres pool max %d < min %d", c.PostgresPoolMaxSize, c.PostgresPoolMinSize)
	}
	c.FlushIntervalSec = max(c.FlushIntervalSec, 1)
	c.SSEBuffer = max(c.SSEBuffer, 1)
	return nil
}

// Limits 转换为会话限额。
func (c *Config) Limits() conversation.Limits {
	return conversation.Limits{
		MaxItemText:       c.MaxItemText,
		MaxTitle:          c.MaxTitle,
		MaxDetail:         c.MaxDetail,
		RecentToolWindow:  c.RecentToolWindow,
		MaxItemsPerThread: c.MaxItemsPerThread,
		ExemptToolTypes:   append([]string(nil), c.ExemptToolTypes...),
	}
}

// StoreEnabled 是否配置了 PostgreSQL。
func (c *Config) StoreEnabled() bool { return strings.TrimSpace(c.PostgresConnStr) != "" }

// FlushInterval 脏线程落库周期。
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSec) * time.Second
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// PingInterval app-server ping 周期。
func (c *Config) PingInterval() time.Duration { return seconds(c.AppServerPingSec) }

// ReadIdleTimeout app-server 读空闲超时。
func (c *Config) ReadIdleTimeout() time.Duration { return seconds(c.AppServerIdleSec) }

// CallTimeout app-server RPC 超时。
func (c *Config) CallTimeout() time.Duration { return seconds(c.AppServerCallTimeoutSec) }

// ReconnectMax 重连退避上限。
func (c *Config) ReconnectMax() time.Duration { return seconds(c.ReconnectMaxSec) }
