// 包 snapshot：按日去重上游发布，规范化、地理编码并落盘，后续运行直接从磁盘复用
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"paxtrack/internal/archive"
	"paxtrack/internal/geocode"
	"paxtrack/internal/identity"
	"paxtrack/internal/logger"
	"paxtrack/internal/metrics"
	"paxtrack/internal/record"
)

// Source：上游索引与行数据
type Source interface {
	FetchIndex(ctx context.Context) ([]archive.Update, error)
	FetchBody(ctx context.Context, u archive.Update) ([]byte, error)
}

// Day：某个日历日的最终快照（当天最后一次发布）
type Day struct {
	Date       time.Time
	UpdateTime time.Time
	Locations  []record.Location
}

// DayKey：汇总中使用的日期键
func (d Day) DayKey() string { return d.Date.Format("2006/01/02") }

// DayError：单日构建失败，其他日期不受影响
type DayError struct {
	Date   time.Time
	Update time.Time
	Err    error
}

func (e *DayError) Error() string {
	return fmt.Sprintf("snapshot %s (update %s): %v", e.Date.Format("2006-01-02"), e.Update.Format(time.RFC3339), e.Err)
}

func (e *DayError) Unwrap() error { return e.Err }

// 落盘格式：字段名与上游表头一致，缺失字段省略
type fileDay struct {
	UpdateTime time.Time         `json:"update_time"`
	Locations  []record.Location `json:"locations"`
}

type Options struct {
	// 早于该日历日的发布丢弃
	MinDate time.Time
	// 地理编码每批并发数
	BatchSize int
	// 不访问上游索引，仅使用磁盘上已有的快照
	Offline bool
}

// 文档注释：快照存储
// 背景：上游每天可能发布多次，只保留当天时间戳最大的一次；已落盘的日期直接读文件，不再拉取行数据也不再地理编码。
// 约束：文件名由获胜发布的精确时间戳生成；只有规范化与地理编码全部成功后才写盘，失败的日期下次运行自动重试。
// 索引在同一个 Store 实例内只拉取一次，重复调用 LoadAll 不产生新的外部请求。
type Store struct {
	dir      string
	src      Source
	geocoder geocode.Locator
	registry *identity.Registry
	opts     Options

	index []archive.Update
}

func New(dir string, src Source, g geocode.Locator, reg *identity.Registry, opts Options) *Store {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if reg == nil {
		reg = identity.New()
	}
	return &Store{dir: dir, src: src, geocoder: g, registry: reg, opts: opts}
}

// 文档注释：加载全部日期
// 返回：按日期升序、每日一份的快照；部分日期失败时同时返回成功的日期与合并后的错误（元素为 *DayError）。
// 异常：索引拉取失败时退回磁盘已有快照，并返回该错误。
func (s *Store) LoadAll(ctx context.Context) ([]Day, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	var errs []error
	updates, err := s.updates(ctx)
	if err != nil {
		logger.L().Error("snapshot_index_error", "err", err)
		errs = append(errs, err)
		if updates, err = s.updatesFromDisk(); err != nil {
			return nil, errors.Join(append(errs, err)...)
		}
	}

	winners := latestPerDay(updates, s.opts.MinDate)
	days := make([]Day, 0, len(winners))
	for _, u := range winners {
		d, err := s.loadDay(ctx, u)
		if err != nil {
			metrics.SnapshotDayFailTotal.Inc()
			logger.L().Error("snapshot_day_error", "day", u.Day().Format("2006-01-02"), "update", u.UpdateDate, "err", err)
			errs = append(errs, &DayError{Date: u.Day(), Update: u.UpdateDate, Err: err})
			continue
		}
		days = append(days, d)
	}
	s.identify(days)
	logger.L().Info("snapshot_load_done", "days", len(days), "failed", len(errs), "locations", s.registry.Len())
	return days, errors.Join(errs...)
}

func (s *Store) updates(ctx context.Context) ([]archive.Update, error) {
	if s.index != nil {
		return s.index, nil
	}
	if s.opts.Offline || s.src == nil {
		return s.updatesFromDisk()
	}
	ups, err := s.src.FetchIndex(ctx)
	if err != nil {
		return nil, err
	}
	if ups == nil {
		ups = []archive.Update{}
	}
	s.index = ups
	return ups, nil
}

// updatesFromDisk：由已有快照文件名还原发布记录
func (s *Store) updatesFromDisk() ([]archive.Update, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []archive.Update
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		t, err := time.Parse("2006_01_02_15_04_05", strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, archive.Update{UpdateDate: t})
	}
	return out, nil
}

// 文档注释：按日历日分组并取时间戳最大的发布
// 返回：按日期升序排列的获胜发布；早于 minDate 的日期被丢弃。
func latestPerDay(updates []archive.Update, minDate time.Time) []archive.Update {
	byDay := map[time.Time]archive.Update{}
	for _, u := range updates {
		day := u.Day()
		if day.Before(minDate) {
			continue
		}
		if cur, ok := byDay[day]; !ok || u.UpdateDate.After(cur.UpdateDate) {
			byDay[day] = u
		}
	}
	out := make([]archive.Update, 0, len(byDay))
	for _, u := range byDay {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdateDate.Before(out[j].UpdateDate) })
	return out
}

func (s *Store) loadDay(ctx context.Context, u archive.Update) (Day, error) {
	path := filepath.Join(s.dir, u.Path())
	if b, err := os.ReadFile(path); err == nil {
		var fd fileDay
		if err := json.Unmarshal(b, &fd); err != nil {
			return Day{}, fmt.Errorf("decode %s: %w", path, err)
		}
		metrics.SnapshotDaysTotal.WithLabelValues("file").Inc()
		logger.L().Debug("snapshot_day_cached", "path", path, "locations", len(fd.Locations))
		return Day{Date: u.Day(), UpdateTime: u.UpdateDate, Locations: fd.Locations}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Day{}, err
	}
	if s.opts.Offline || s.src == nil {
		return Day{}, fmt.Errorf("%s not cached and source unavailable", path)
	}

	body, err := s.src.FetchBody(ctx, u)
	if err != nil {
		return Day{}, fmt.Errorf("fetch body: %w", err)
	}
	rows, err := record.ParseCSV(bytes.NewReader(body))
	if err != nil {
		return Day{}, fmt.Errorf("parse body: %w", err)
	}
	locs, rowErrs := record.NormalizeAll(rows)
	for _, re := range rowErrs {
		metrics.InvalidRowsTotal.WithLabelValues(re.Field).Inc()
		logger.L().Warn("row_invalid", "update", u.UpdateDate, "row", re.Row, "field", re.Field, "value", re.Value, "err", re.Err)
	}
	if err := geocode.GeocodeAll(ctx, s.geocoder, locs, s.opts.BatchSize); err != nil {
		return Day{}, fmt.Errorf("geocode: %w", err)
	}
	if err := writeDay(path, fileDay{UpdateTime: u.UpdateDate, Locations: locs}); err != nil {
		return Day{}, fmt.Errorf("persist: %w", err)
	}
	metrics.SnapshotDaysTotal.WithLabelValues("fetched").Inc()
	logger.L().Info("snapshot_day_built", "path", path, "rows", len(rows), "locations", len(locs), "invalid", len(rowErrs))
	return Day{Date: u.Day(), UpdateTime: u.UpdateDate, Locations: locs}, nil
}

func writeDay(path string, fd fileDay) error {
	b, err := json.Marshal(fd)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// identify：按日期顺序登记站点并回填标识
func (s *Store) identify(days []Day) {
	for i := range days {
		for j := range days[i].Locations {
			l := &days[i].Locations[j]
			l.ID = s.registry.IdentityFor(l.IdentityKey())
		}
	}
}
