// Package main 队列模式 Worker 入口
//
// 从 Redis Streams 消费 API Server 登记的 Run 并执行生成流水线。
// 需要 DISPATCH_MODE=queue，且与 API Server 共用数据库、Redis 和项目目录。
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chemsim/internal/config"
	"chemsim/internal/dispatch"
	"chemsim/internal/shared/infra"
	"chemsim/internal/worker"
	"chemsim/pkg/logging"
)

func main() {
	configDir := flag.String("config", "", "配置文件目录")
	metricsAddr := flag.String("metrics-addr", ":9101", "Prometheus 指标监听地址，为空时不启动")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	cfg := config.Load()
	if !cfg.QueueMode() {
		log.Fatalf("Worker requires dispatch mode queue (set DISPATCH_MODE=queue), got %q", cfg.Dispatch.Mode)
	}

	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		File:      cfg.Log.File,
		Component: "worker",
	})
	defer logger.Close()

	log.Printf("Starting Worker... [env=%s consumer=%s]", cfg.Env, cfg.Dispatch.ConsumerID)
	log.Printf("Config: %s", cfg.String())

	inf, err := infra.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure: %v", err)
	}
	defer inf.Close()

	p, _, err := infra.NewPipeline(cfg, inf, logger)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exec := dispatch.NewExecutor(inf.Store, inf.EventBus, p, dispatch.NewMetrics(reg, "chemsim_worker"))

	w := worker.New(inf.Queue, exec, worker.Config{
		ConsumerID:   cfg.Dispatch.ConsumerID,
		BlockTimeout: cfg.Dispatch.BlockTimeout,
	})

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("GET /health", func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			rw.Write([]byte(`{"status":"ok"}`))
		})
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: mux, ReadTimeout: 15 * time.Second}
		go func() {
			log.Printf("Worker metrics listening on %s", *metricsAddr)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down Worker (finishing current run)...")
		cancel()
	}()

	if err := w.Run(ctx); err != nil {
		log.Fatalf("Worker error: %v", err)
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	log.Printf("Worker stopped (processed=%d skipped=%d)", w.Processed(), w.Skipped())
}
