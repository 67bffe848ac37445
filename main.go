package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"merchant-guard/config"
	"merchant-guard/core/appbootstrap"
	"merchant-guard/core/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := utils.NewLoggerWithLevel(cfg.LogLevel)
	rt, err := appbootstrap.InitRuntime(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalf("init: %v", err)
	}
	defer rt.Close()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if err := rt.StartBackground(bgCtx); err != nil {
		logger.Fatalf("background: %v", err)
	}

	go func() {
		if err := rt.Server.Start(); err != nil {
			logger.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Server.Stop(ctx); err != nil {
		logger.Errorf("graceful shutdown: %v", err)
	}
	if err := rt.StopBackground(ctx); err != nil {
		logger.Errorf("background shutdown: %v", err)
	}
}
