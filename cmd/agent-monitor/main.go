// cmd/agent-monitor: 会话监控服务入口。
package main

import (
	"fmt"
	"os"

	"github.com/codexmonitor/agent-monitor/cmd/agent-monitor/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
