// 包 ingest：串联快照加载、汇总、发布与可选落库的完整流程，并提供每日定时调度
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"paxtrack/internal/archive"
	"paxtrack/internal/config"
	"paxtrack/internal/geocode"
	"paxtrack/internal/identity"
	"paxtrack/internal/logger"
	"paxtrack/internal/metrics"
	"paxtrack/internal/migrate"
	"paxtrack/internal/publish"
	"paxtrack/internal/snapshot"
	"paxtrack/internal/store"
	"paxtrack/internal/summary"
	"paxtrack/internal/utils"
)

// Redis 后端中存放地理编码缓存的 hash 键
const redisGeocodeKey = "paxtrack:geocode"

// Deps：外部依赖；Run 按配置构建，测试可直接注入
type Deps struct {
	Source snapshot.Source
	// 为 nil 表示未配置凭据，按缺失凭据策略处理
	Provider   geocode.Provider
	CacheStore geocode.Store
	// 为 nil 表示不落库
	Sink *store.Store
}

// Result：一次运行的摘要
type Result struct {
	Days       int
	FailedDays int
	Rows       int
	Pages      int
	Locations  int
	Root       *summary.Node
}

// 文档注释：按配置构建依赖并执行一次完整流程
// 背景：与入口解耦，定时任务与单次运行共用；Redis 与 PostgreSQL 连接在本次运行结束时关闭。
func Run(ctx context.Context, cfg config.Config) (*Result, error) {
	l := logger.L()
	deps := Deps{Source: archive.NewClient(cfg.ArchiveURL, cfg.HTTPTimeout)}
	if cfg.GoogleAPIKey != "" {
		deps.Provider = geocode.NewClient(cfg.GeocodeBaseURL, cfg.GoogleAPIKey, cfg.HTTPTimeout, cfg.GeocodeRatePerMin)
	} else {
		l.Warn("geocode_key_missing", "policy", cfg.GeocodeOnMissingKey)
	}
	switch cfg.GeocodeCacheBackend {
	case "redis":
		rc := utils.OpenRedisFromEnv()
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		deps.CacheStore = geocode.RedisStore{Client: rc, Key: redisGeocodeKey}
	default:
		deps.CacheStore = geocode.FileStore{Path: cfg.GeocodeCacheFile()}
	}
	if cfg.PGEnable {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		deps.Sink = store.AttachDB(db)
	}
	return RunWith(ctx, cfg, deps)
}

// 文档注释：执行一次完整流程
// 步骤：打开地理编码缓存 → 加载全部快照日期 → 构建汇总表 → 汇总树 → 发布页面 → 可选落库。
// 约束：缓存在返回前一定写回，即使后续步骤失败；部分日期失败时仍以成功的日期完成汇总，同时返回错误。
// 返回：没有任何可用日期或发布失败时 Result 为 nil。
func RunWith(ctx context.Context, cfg config.Config, deps Deps) (res *Result, err error) {
	l := logger.L()
	start := time.Now()
	defer func() {
		metrics.PipelineDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	}()

	policy, err := geocode.ParsePolicy(cfg.GeocodeOnMissingKey)
	if err != nil {
		return nil, err
	}

	reg := identity.New()
	if deps.Sink != nil {
		keys, err := deps.Sink.LoadIdentities(ctx)
		if err != nil {
			return nil, fmt.Errorf("load identities: %w", err)
		}
		reg.Preload(keys)
		l.Info("identities_preloaded", "count", len(keys))
	}

	var cache *geocode.Cache
	if deps.Provider != nil {
		cache, err = geocode.Open(ctx, deps.Provider, deps.CacheStore)
		if err != nil {
			return nil, fmt.Errorf("open geocode cache: %w", err)
		}
		defer func() {
			if cerr := cache.Close(context.WithoutCancel(ctx)); cerr != nil {
				err = errors.Join(err, fmt.Errorf("save geocode cache: %w", cerr))
			}
		}()
	}

	snaps := snapshot.New(filepath.Join(cfg.CacheDir, "snapshots"), deps.Source, geocode.NewGeocoder(cache, policy), reg, snapshot.Options{
		MinDate:   cfg.MinDate,
		BatchSize: cfg.GeocodeBatchSize,
	})
	days, loadErr := snaps.LoadAll(ctx)
	if len(days) == 0 && loadErr != nil {
		return nil, loadErr
	}

	rows := summary.BuildTable(days)
	root := summary.Summarize(rows, cfg.Dimensions, cfg.MaxLocations)
	pages, err := publish.Write(cfg.OutputDir, root)
	if err != nil {
		return nil, errors.Join(loadErr, fmt.Errorf("publish: %w", err))
	}
	res = &Result{
		Days:       len(days),
		FailedDays: countDayErrors(loadErr),
		Rows:       len(rows),
		Pages:      pages,
		Locations:  reg.Len(),
		Root:       root,
	}

	if deps.Sink != nil {
		if serr := persist(ctx, deps.Sink, days, root, reg, res); serr != nil {
			l.Error("db_persist_error", "err", serr)
			loadErr = errors.Join(loadErr, fmt.Errorf("persist: %w", serr))
		}
	}
	l.Info("pipeline_done", "days", res.Days, "failed_days", res.FailedDays, "rows", res.Rows, "pages", res.Pages, "locations", res.Locations, "elapsed", time.Since(start))
	return res, loadErr
}

func persist(ctx context.Context, sink *store.Store, days []snapshot.Day, root *summary.Node, reg *identity.Registry, res *Result) error {
	run, err := sink.BeginRun(ctx)
	if err != nil {
		return err
	}
	if err := sink.SaveIdentities(ctx, reg.Keys()); err != nil {
		return err
	}
	if err := sink.SaveDays(ctx, run, days); err != nil {
		return err
	}
	if _, err := sink.SaveRollups(ctx, run, root); err != nil {
		return err
	}
	return sink.FinishRun(ctx, run, res.Days, res.Rows, res.FailedDays)
}

// countDayErrors：合并错误中 *snapshot.DayError 的个数
func countDayErrors(err error) int {
	if err == nil {
		return 0
	}
	var de *snapshot.DayError
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range u.Unwrap() {
			n += countDayErrors(e)
		}
		return n
	}
	if errors.As(err, &de) {
		return 1
	}
	return 0
}
