// 包 migrate：可选 PostgreSQL 落库的表结构
package migrate

import (
	"context"
	"database/sql"

	"paxtrack/internal/logger"
)

// Statements：建表语句，按顺序执行
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS _tx_runs (
            id UUID PRIMARY KEY,
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ,
            days INT NOT NULL DEFAULT 0,
            rows INT NOT NULL DEFAULT 0,
            failed_days INT NOT NULL DEFAULT 0
        )`,
	`CREATE TABLE IF NOT EXISTS _tx_identities (
            id INT PRIMARY KEY,
            provider_name TEXT NOT NULL,
            address1 TEXT NOT NULL,
            address2 TEXT NOT NULL,
            zip_code TEXT NOT NULL
        )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_tx_identity ON _tx_identities(provider_name, address1, address2, zip_code)`,
	`CREATE TABLE IF NOT EXISTS _tx_snapshot_days (
            day DATE PRIMARY KEY,
            update_time TIMESTAMP NOT NULL,
            locations INT NOT NULL,
            run_id UUID NOT NULL REFERENCES _tx_runs(id)
        )`,
	`CREATE TABLE IF NOT EXISTS _tx_rollups (
            run_id UUID NOT NULL REFERENCES _tx_runs(id),
            path TEXT NOT NULL,
            day TEXT NOT NULL,
            order_label TEXT NOT NULL,
            total_courses BIGINT NOT NULL,
            courses_delivered BIGINT NOT NULL,
            courses_available BIGINT NOT NULL,
            PRIMARY KEY (run_id, path, day, order_label)
        )`,
	`CREATE INDEX IF NOT EXISTS idx_tx_rollups_path ON _tx_rollups(path, day)`,
}

// 背景：首次运行自动创建所需表与索引
// 约束：使用 IF NOT EXISTS，重复执行无副作用
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range Statements {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
