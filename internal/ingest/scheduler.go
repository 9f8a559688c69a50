package ingest

import (
	"context"
	"time"

	"paxtrack/internal/config"
	"paxtrack/internal/logger"
)

// nextRunAt：计算 now 之后下一次整点 hour 的时间点（按 now 所在时区）
// 约束：当天该时刻已过则顺延到次日
func nextRunAt(now time.Time, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !t.After(now) {
		t = time.Date(now.Year(), now.Month(), now.Day()+1, hour, 0, 0, 0, now.Location())
	}
	return t
}

// StartDaily：在 INGEST_TZ 时区每天 INGEST_HOUR 点执行一次完整流程
// 背景：上游每日发布，定时刷新汇总页面；错误由日志记录，任务继续调度
// 约束：运行于后台协程，ctx 取消后退出；同一时刻只有一次运行
func StartDaily(ctx context.Context, cfg config.Config) error {
	loc, err := time.LoadLocation(cfg.IngestTZ)
	if err != nil {
		return err
	}
	go schedule(ctx, loc, cfg.IngestHour, func(ctx context.Context) error {
		_, err := Run(ctx, cfg)
		return err
	})
	return nil
}

func schedule(ctx context.Context, loc *time.Location, hour int, job func(context.Context) error) {
	l := logger.L()
	for {
		next := nextRunAt(time.Now().In(loc), hour)
		l.Info("ingest_scheduled", "next", next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			l.Info("ingest_scheduler_stopped")
			return
		case <-timer.C:
		}
		l.Info("ingest_start")
		if err := job(ctx); err != nil {
			l.Error("ingest_error", "err", err)
		} else {
			l.Info("ingest_done")
		}
	}
}
