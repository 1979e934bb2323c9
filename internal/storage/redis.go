package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-link-funnel/internal/funnel"
)

// RedisCache Redis 快取層實現（V3 架構）
//
// 快取策略：Cache-Aside（旁路快取）
//  1. 讀取：
//     → 先查 Redis
//     → Cache Miss：查日誌存儲 + 回填 Redis
//     → Cache Hit：直接返回
//  2. 寫入：
//     → 寫日誌存儲（主存儲，持久性在此保證）
//     → 回填 Redis（失敗不影響主流程）
//
// 系統設計考量：
//
// 1. 漏斗是不可變實體 → 快取永不過時
//    - 沒有更新操作，不存在「DB 改了快取還是舊值」的一致性問題
//    - TTL 只用於控制內存佔用，不用於一致性
//
// 2. 快取穿透（Cache Penetration）：
//    - 閘門協議下，攻擊者可以構造大量不存在的 slug
//    - 防護：空結果也快取（"null"，短 TTL）
//
// 3. 降級語義：
//    - Redis 的「任何」錯誤都只記告警並穿透到後端
//    - 快取永遠不是正確性的一部分（同 01-counter-service 的降級思路）
type RedisCache struct {
	client    RedisClient
	backend   funnel.Store
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// RedisClient Redis 客戶端接口
//
// 為什麼定義接口？
//   - 便於測試（可用 Mock 替代真實 Redis）
//   - 只暴露需要的兩個操作
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// ErrCacheMiss 當鍵不存在於快取時返回
var ErrCacheMiss = errors.New("cache miss")

// NewRedisCache 創建 Redis 快取層
//
// 參數：
//   - client：Redis 客戶端（見 NewGoRedis）
//   - backend：後端存儲（通常是 *LogFile）
//   - ttl：快取過期時間（0 表示默認 1 小時）
func NewRedisCache(client RedisClient, backend funnel.Store, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &RedisCache{
		client:    client,
		backend:   backend,
		ttl:       ttl,
		keyPrefix: "funnel:",
		logger:    logger,
	}
}

// Create 保存漏斗
//
// 先寫主存儲（持久性契約在那裡），成功後回填快取
func (r *RedisCache) Create(ctx context.Context, f *funnel.Funnel) error {
	if err := r.backend.Create(ctx, f); err != nil {
		return err
	}

	data, _ := json.Marshal(f)
	if err := r.client.Set(ctx, r.keyPrefix+f.Slug, string(data), r.ttl); err != nil {
		// 快取失敗不影響創建（下次 Lookup 會回填）
		r.logger.Warn("redis cache fill failed", "slug", f.Slug, "error", err)
	}
	return nil
}

// Lookup 查詢漏斗（Cache-Aside 模式）
func (r *RedisCache) Lookup(ctx context.Context, slug string) (*funnel.Funnel, error) {
	key := r.keyPrefix + slug

	data, err := r.client.Get(ctx, key)
	switch {
	case err == nil:
		// 空結果快取：防止不存在的 slug 重複打到後端
		if data == "null" {
			return nil, funnel.ErrNotFound
		}
		var f funnel.Funnel
		if jsonErr := json.Unmarshal([]byte(data), &f); jsonErr == nil {
			return &f, nil
		}
		// 反序列化失敗：視同 miss，穿透到後端重建
	case errors.Is(err, ErrCacheMiss):
		// 正常 miss，往下走
	default:
		// Redis 故障：記告警並降級到後端（快取不參與正確性）
		r.logger.Warn("redis lookup degraded", "slug", slug, "error", err)
	}

	f, err := r.backend.Lookup(ctx, slug)
	if err != nil {
		if errors.Is(err, funnel.ErrNotFound) {
			// 快取穿透防護：空結果短 TTL
			_ = r.client.Set(ctx, key, "null", time.Minute)
		}
		return nil, err
	}

	if data, jsonErr := json.Marshal(f); jsonErr == nil {
		_ = r.client.Set(ctx, key, string(data), r.ttl)
	}
	return f, nil
}

var _ funnel.Store = (*RedisCache)(nil)

// === go-redis 適配器 ===

// goRedisClient 以 go-redis/v9 實現 RedisClient
type goRedisClient struct {
	c *redis.Client
}

// NewGoRedis 連接 Redis 並返回客戶端接口
//
// 連接驗證：啟動時 Ping（快速失敗優於運行期才發現配置錯誤）
func NewGoRedis(ctx context.Context, addr, password string, db int) (RedisClient, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &goRedisClient{c: c}, nil
}

func (g *goRedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := g.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (g *goRedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return g.c.Set(ctx, key, value, ttl).Err()
}
