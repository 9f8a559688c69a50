// 包 summary：汇总表构建、按维度递归切分的汇总树与树遍历
package summary

import (
	"paxtrack/internal/logger"
	"paxtrack/internal/record"
	"paxtrack/internal/snapshot"
)

// Row：汇总表中的一行，带所属快照日期键（YYYY/MM/DD）
type Row struct {
	Date     string
	Location record.Location
}

// 文档注释：展开全部快照日期为一张汇总表
// 背景：每行标记其快照日期键，随后统一计算派生指标；输入快照中的记录不被修改。
// 返回：按快照顺序排列的行。
func BuildTable(days []snapshot.Day) []Row {
	n := 0
	for _, d := range days {
		n += len(d.Locations)
	}
	rows := make([]Row, 0, n)
	for _, d := range days {
		key := d.DayKey()
		for _, l := range d.Locations {
			record.Derive(&l)
			rows = append(rows, Row{Date: key, Location: l})
		}
	}
	logger.L().Debug("summary_table_built", "days", len(days), "rows", len(rows))
	return rows
}
