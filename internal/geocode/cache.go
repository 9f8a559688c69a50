// 包 geocode：地理编码服务调用、原始响应缓存与分批编排
package geocode

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"paxtrack/internal/logger"
	"paxtrack/internal/metrics"
)

// Store：缓存的持久化后端，整体加载、整体写回
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, entries map[string]string) error
}

// 文档注释：地理编码原始响应缓存
// 背景：同一地址在每日快照中反复出现，服务商按次计费；以查询串为键缓存响应原文，跨运行复用。
// 约束：会话开始时由 Open 整体加载，结束时由 Close 整体写回；同一键的并发未命中通过 singleflight 合并为一次外部调用。
// 失败的调用不写入缓存，下次运行会重试。
type Cache struct {
	provider Provider
	store    Store

	mu      sync.RWMutex
	entries map[string]string
	flight  singleflight.Group
}

// Open：从后端加载缓存；后端为 nil 时仅在进程内缓存
func Open(ctx context.Context, provider Provider, store Store) (*Cache, error) {
	entries := map[string]string{}
	if store != nil {
		m, err := store.Load(ctx)
		if err != nil {
			return nil, err
		}
		if m != nil {
			entries = m
		}
	}
	logger.L().Debug("geocode_cache_open", "entries", len(entries))
	return &Cache{provider: provider, store: store, entries: entries}, nil
}

// 文档注释：按查询串取原始响应
// 背景：命中直接返回，不访问服务商；未命中时调用服务商并记录原文。
// 异常：服务商调用失败返回错误，不缓存。
func (c *Cache) Resolve(ctx context.Context, key string) (string, error) {
	if v, ok := c.get(key); ok {
		metrics.GeocodeCacheHitsTotal.Inc()
		return v, nil
	}
	v, err, shared := c.flight.Do(key, func() (any, error) {
		if v, ok := c.get(key); ok {
			return v, nil
		}
		metrics.GeocodeCacheMissesTotal.Inc()
		raw, err := c.provider.Fetch(ctx, key)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = raw
		c.mu.Unlock()
		return raw, nil
	})
	if shared {
		metrics.GeocodeSharedTotal.Inc()
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Forget：移除一条缓存，用于响应原文无法解析的情况，下次查询重新调用服务商
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.flight.Forget(key)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close：写回后端；调用方应在 defer 中调用，保证中途失败时已获取的响应不丢失
func (c *Cache) Close(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.RLock()
	snap := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		snap[k] = v
	}
	c.mu.RUnlock()
	if err := c.store.Save(ctx, snap); err != nil {
		logger.L().Error("geocode_cache_save_error", "err", err)
		return err
	}
	logger.L().Debug("geocode_cache_saved", "entries", len(snap))
	return nil
}
