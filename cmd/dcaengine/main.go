package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dcaengine/internal/logger"
)

// 入口程序：
// 1) 解析子命令与 --config
// 2) 加载配置并通过 wire 组装依赖
// 3) 执行导入、模拟、状态查询或状态服务
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
