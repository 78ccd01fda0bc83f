// Package main API Server 入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chemsim/internal/apiserver/auth"
	"chemsim/internal/apiserver/experiment"
	"chemsim/internal/apiserver/openapi"
	"chemsim/internal/apiserver/server"
	"chemsim/internal/config"
	"chemsim/internal/dispatch"
	"chemsim/internal/shared/infra"
	"chemsim/pkg/logging"
)

func main() {
	configDir := flag.String("config", "", "配置文件目录")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	// 加载配置（自动加载 .env，按 APP_ENV 选择 YAML）
	cfg := config.Load()

	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		File:      cfg.Log.File,
		Component: "api-server",
	})
	defer logger.Close()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化登记表、事件总线、队列和对象存储
	inf, err := infra.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure: %v", err)
	}
	defer inf.Close()

	p, mat, err := infra.NewPipeline(cfg, inf, logger)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := dispatch.NewMetrics(reg, "chemsim")

	exec := dispatch.NewExecutor(inf.Store, inf.EventBus, p, metrics)
	var dispatcher dispatch.Dispatcher
	if cfg.QueueMode() {
		dispatcher = dispatch.NewQueueDispatcher(inf.Queue)
		log.Println("Dispatch mode: queue (runs are executed by cmd/worker)")
	} else {
		dispatcher = dispatch.NewLocalDispatcher(exec)
		log.Println("Dispatch mode: local")
	}
	service := dispatch.NewService(inf.Store, inf.EventBus, dispatcher, metrics)

	// 本地模式下上次进程未完成的 Run 不会再有人执行
	if !cfg.QueueMode() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := service.RecoverInterrupted(ctx, time.Now())
		cancel()
		if err != nil {
			log.Printf("[startup.recover] error: %v", err)
		} else if n > 0 {
			log.Printf("[startup.recover] marked %d interrupted runs as failed", n)
		}
	}

	validator, err := openapi.LoadEmbedded()
	if err != nil {
		log.Fatalf("Failed to load OpenAPI document: %v", err)
	}

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = cfg.Auth.JWTSecret
	authCfg.AdminPasswordHash = cfg.Auth.AdminPasswordHash
	authCfg.AccessTokenTTL = cfg.Auth.AccessTokenDuration()
	if cfg.Auth.AdminUser != "" {
		authCfg.AdminUser = cfg.Auth.AdminUser
	}
	if authCfg.Enabled() {
		log.Printf("Auth enabled: POST /api/experiments requires a bearer token (admin=%s)", authCfg.AdminUser)
	}

	h := server.NewHandler(server.Options{
		Experiments:  experiment.NewHandler(service, inf.Store, mat, validator),
		Auth:         authCfg,
		OpenAPI:      validator,
		ProjectsRoot: mat.Root(),
		Runs:         inf.Store,
		EventBus:     inf.EventBus,
		Registry:     reg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭：先停止接收请求，再等待进行中的生成任务
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownGrace)
		defer waitCancel()
		if err := service.Wait(waitCtx); err != nil {
			log.Printf("Runs still in flight after %s: %v", cfg.Dispatch.ShutdownGrace, err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	<-done

	fmt.Println("Server stopped")
}
