package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chapel-auth/cli"
	"chapel-auth/config"
	"chapel-auth/core/appbootstrap"
	"chapel-auth/core/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := utils.NewLoggerWithOptions(utils.LogOptions{
		File:       cfg.Log.File,
		ErrorFile:  cfg.Log.ErrorFile,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer logger.Close()

	if len(os.Args) > 1 && cli.IsCommand(os.Args[1]) {
		if err := appbootstrap.RunCommand(context.Background(), cfg, logger, os.Args[1:], os.Stdout); err != nil {
			logger.Fatalf("%s: %v", os.Args[1], err)
		}
		return
	}

	rt, err := appbootstrap.InitRuntime(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	rt.StartBackground(context.Background())

	go func() {
		if err := rt.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Server.Stop(ctx); err != nil {
		logger.Errorf("graceful shutdown: %v", err)
	}
	if err := rt.StopBackground(ctx); err != nil {
		logger.Errorf("background shutdown: %v", err)
	}
	if err := rt.Close(); err != nil {
		logger.Errorf("close: %v", err)
	}
}
