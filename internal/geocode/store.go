package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// FileStore：单个 JSON 文件保存整张缓存表
type FileStore struct {
	Path string
}

// Load：文件不存在视为空缓存
func (s FileStore) Load(ctx context.Context) (map[string]string, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Save：先写临时文件再改名，避免进程中断留下半截文件
func (s FileStore) Save(ctx context.Context, entries map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// 文档注释：Redis 哈希后端
// 背景：多台机器轮流执行采集时共享同一份缓存，避免各自重复计费；整张表存为一个 hash，字段为查询串。
// 约束：写回按批 HSET，已存在字段覆盖；不设置过期时间。
type RedisStore struct {
	Client *redis.Client
	Key    string
}

const redisSaveChunk = 500

func (s RedisStore) Load(ctx context.Context) (map[string]string, error) {
	m, err := s.Client.HGetAll(ctx, s.Key).Result()
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s RedisStore) Save(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.Client.Pipeline()
	batch := make(map[string]any, redisSaveChunk)
	for k, v := range entries {
		batch[k] = v
		if len(batch) == redisSaveChunk {
			pipe.HSet(ctx, s.Key, batch)
			batch = make(map[string]any, redisSaveChunk)
		}
	}
	if len(batch) > 0 {
		pipe.HSet(ctx, s.Key, batch)
	}
	_, err := pipe.Exec(ctx)
	return err
}
