package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"theo-quoter/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		_ = c.Stop()
		log.Fatalf("启动失败: %v", err)
	}

	wd := newWatchdog(c.Logger())
	c.Engine().Register(wd)
	wd.ready()

	runErr := c.Run(ctx)
	wd.stopping()
	if err := c.Stop(); err != nil {
		c.Logger().Warn("shutdown incomplete", zap.Error(err))
	}
	if runErr != nil {
		log.Fatalf("运行异常退出: %v", runErr)
	}
}
