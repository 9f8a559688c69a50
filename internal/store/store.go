// 包 store: 可选的 PostgreSQL 落库层，记录运行、快照日期、节点汇总与站点标识
package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"paxtrack/internal/identity"
	"paxtrack/internal/logger"
	"paxtrack/internal/snapshot"
	"paxtrack/internal/summary"
)

// Store: 数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// BeginRun: 登记一次运行并返回其标识
func (s *Store) BeginRun(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	if _, err := s.db.ExecContext(ctx, "INSERT INTO _tx_runs(id, started_at) VALUES($1, $2)", id.String(), time.Now().UTC()); err != nil {
		return uuid.Nil, err
	}
	logger.L().Debug("db_run_begin", "run", id)
	return id, nil
}

// FinishRun: 回写运行结果
func (s *Store) FinishRun(ctx context.Context, run uuid.UUID, days, rows, failedDays int) error {
	_, err := s.db.ExecContext(ctx, "UPDATE _tx_runs SET finished_at=$2, days=$3, rows=$4, failed_days=$5 WHERE id=$1",
		run.String(), time.Now().UTC(), days, rows, failedDays)
	return err
}

// SaveDays: 每个快照日期一行，重复运行时覆盖为最新一次
func (s *Store) SaveDays(ctx context.Context, run uuid.UUID, days []snapshot.Day) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO _tx_snapshot_days(day, update_time, locations, run_id) VALUES($1,$2,$3,$4)
        ON CONFLICT (day) DO UPDATE SET update_time=EXCLUDED.update_time, locations=EXCLUDED.locations, run_id=EXCLUDED.run_id`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, d := range days {
		if _, err := stmt.ExecContext(ctx, d.Date, d.UpdateTime, len(d.Locations), run.String()); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Debug("db_days_saved", "run", run, "days", len(days))
	return nil
}

// RollupRecord: 节点某日期某标签的一行汇总
type RollupRecord struct {
	Path             string
	Day              string
	OrderLabel       string
	TotalCourses     int
	CoursesDelivered int
	CoursesAvailable int
}

// 文档注释：把汇总树展开为行
// 返回：按路径、日期、标签排序的行；三个汇总共享同一组（日期, 标签）键。
func RollupRecords(root *summary.Node) []RollupRecord {
	var out []RollupRecord
	_ = summary.Walk(root, func(n *summary.Node) error {
		p := summary.StoragePath(n)
		for day, labels := range n.TotalCourses {
			for label, total := range labels {
				out = append(out, RollupRecord{
					Path:             p,
					Day:              day,
					OrderLabel:       label,
					TotalCourses:     total,
					CoursesDelivered: n.CoursesDelivered[day][label],
					CoursesAvailable: n.CoursesAvailable[day][label],
				})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.OrderLabel < b.OrderLabel
	})
	return out
}

// SaveRollups: 单事务写入整棵树的汇总，返回写入行数
func (s *Store) SaveRollups(ctx context.Context, run uuid.UUID, root *summary.Node) (int, error) {
	recs := RollupRecords(root)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO _tx_rollups(run_id, path, day, order_label, total_courses, courses_delivered, courses_available) VALUES($1,$2,$3,$4,$5,$6,$7)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, run.String(), r.Path, r.Day, r.OrderLabel, r.TotalCourses, r.CoursesDelivered, r.CoursesAvailable); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logger.L().Debug("db_rollups_saved", "run", run, "rows", len(recs))
	return len(recs), nil
}

// 文档注释：保存站点标识表
// 背景：keys 的下标即标识；已存在的标识不覆盖，下次运行经 LoadIdentities 预载后标识跨进程保持不变。
func (s *Store) SaveIdentities(ctx context.Context, keys []identity.Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO _tx_identities(id, provider_name, address1, address2, zip_code) VALUES($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for id, k := range keys {
		if _, err := stmt.ExecContext(ctx, id, k.ProviderName, k.Address1, k.Address2, k.ZipCode); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Debug("db_identities_saved", "count", len(keys))
	return nil
}

// LoadIdentities: 按标识升序读出自然键，用于预载登记表
func (s *Store) LoadIdentities(ctx context.Context) ([]identity.Key, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT provider_name, address1, address2, zip_code FROM _tx_identities ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []identity.Key
	for rows.Next() {
		var k identity.Key
		if err := rows.Scan(&k.ProviderName, &k.Address1, &k.Address2, &k.ZipCode); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
