// 程序入口：读取配置，执行一次汇总流程或进入每日定时模式；METRICS_ADDR 配置时暴露 /metrics
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paxtrack/internal/config"
	"paxtrack/internal/ingest"
	"paxtrack/internal/logger"
	"paxtrack/internal/metrics"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")

	cfg, err := config.FromEnv()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(2)
	}
	l.Debug("config_loaded", "archive", cfg.ArchiveURL, "min_date", cfg.MinDate.Format("2006-01-02"), "dimensions", cfg.Dimensions,
		"cache_backend", cfg.GeocodeCacheBackend, "output", cfg.OutputDir, "pg", cfg.PGEnable, "schedule", cfg.ScheduleEnable)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: logger.AccessMiddleware(l)(mux), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			l.Info("metrics_listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Error("metrics_listen_error", "err", err)
			}
		}()
	}

	code := run(ctx, cfg)

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}
	os.Exit(code)
}

// run：定时模式先立即执行一次，再按日调度直到收到退出信号
func run(ctx context.Context, cfg config.Config) int {
	l := logger.L()
	res, err := ingest.Run(ctx, cfg)
	switch {
	case res == nil:
		l.Error("pipeline_failed", "err", err)
		if !cfg.ScheduleEnable {
			return 1
		}
	case err != nil:
		l.Warn("pipeline_partial", "failed_days", res.FailedDays, "err", err)
	}
	if !cfg.ScheduleEnable {
		return 0
	}
	if err := ingest.StartDaily(ctx, cfg); err != nil {
		l.Error("schedule_error", "tz", cfg.IngestTZ, "err", err)
		return 2
	}
	<-ctx.Done()
	l.Info("shutdown")
	return 0
}
