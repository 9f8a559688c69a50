package geocode

import (
	"context"

	"golang.org/x/sync/errgroup"

	"paxtrack/internal/logger"
	"paxtrack/internal/record"
)

// Locator：单条记录的地理编码能力
type Locator interface {
	Locate(ctx context.Context, l record.Location) (*Result, error)
}

// 文档注释：分批为一天的全部记录补齐坐标
// 背景：每批内并发发起查询，整批完成后才开始下一批，外部并发数不超过 batchSize，批边界固定便于上层叠加重试与退避。
// 约束：已有坐标的记录（来自 POINT 解析）不再查询；未命中保持坐标缺失，不视为错误；原地修改 locs。
// 异常：任一查询失败时等待当前批结束后返回首个错误，不再开始后续批次。
func GeocodeAll(ctx context.Context, g Locator, locs []record.Location, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 10
	}
	misses := 0
	for start := 0; start < len(locs); start += batchSize {
		end := min(start+batchSize, len(locs))
		eg, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			if locs[i].HasCoordinates() {
				continue
			}
			eg.Go(func() error {
				res, err := g.Locate(gctx, locs[i])
				if err != nil {
					return err
				}
				if res == nil {
					return nil
				}
				lat, lng := res.Lat, res.Lng
				locs[i].Lat, locs[i].Lng = &lat, &lng
				locs[i].Synthetic = res.Synthetic
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		logger.L().Debug("geocode_batch_done", "start", start, "end", end, "total", len(locs))
	}
	for i := range locs {
		if !locs[i].HasCoordinates() {
			misses++
		}
	}
	if misses > 0 {
		logger.L().Info("geocode_unresolved", "count", misses, "total", len(locs))
	}
	return nil
}
