package catalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/internal/cache"
)

const (
	generationKey = "catalog:gen"
	listCacheName = "catalog_list"
)

// Observer 接收列表缓存的命中事件
type Observer interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

// CachedStore 在 Store 之上为图像列表加一层 Redis 缓存。
// 任何写操作都会递增代数键，使旧的列表缓存失效。
type CachedStore struct {
	*Store
	cache    *cache.Manager
	ttl      time.Duration
	observer Observer
}

var _ Catalog = (*CachedStore)(nil)

// NewCachedStore 创建带列表缓存的目录
func NewCachedStore(store *Store, manager *cache.Manager, ttl time.Duration, observer Observer) *CachedStore {
	return &CachedStore{Store: store, cache: manager, ttl: ttl, observer: observer}
}

func listKey(gen int64, isUpload *bool, limit int) string {
	filter := "all"
	if isUpload != nil {
		filter = strconv.FormatBool(*isUpload)
	}
	return fmt.Sprintf("catalog:images:%d:%s:%d", gen, filter, limit)
}

// ListImages 优先读取缓存。Redis 不可用时直接查库。
func (c *CachedStore) ListImages(ctx context.Context, isUpload *bool, limit int) ([]Image, error) {
	gen, err := c.cache.GetInt(ctx, generationKey)
	if err != nil {
		c.logger.Warn("list cache unavailable", zap.Error(err))
		return c.Store.ListImages(ctx, isUpload, limit)
	}

	key := listKey(gen, isUpload, limit)
	var out []Image
	if err := c.cache.GetJSON(ctx, key, &out); err == nil {
		c.recordHit()
		return out, nil
	} else if !cache.IsCacheMiss(err) {
		c.logger.Warn("list cache read failed", zap.String("key", key), zap.Error(err))
	}
	c.recordMiss()

	out, err = c.Store.ListImages(ctx, isUpload, limit)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, key, out, c.ttl); err != nil {
		c.logger.Warn("list cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

// AddImage 写入后使列表缓存失效
func (c *CachedStore) AddImage(ctx context.Context, img *Image) error {
	if err := c.Store.AddImage(ctx, img); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// AddImageFile 写入后使列表缓存失效
func (c *CachedStore) AddImageFile(ctx context.Context, rel, alt, referenceSrc string) (*Image, error) {
	img, err := c.Store.AddImageFile(ctx, rel, alt, referenceSrc)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx)
	return img, nil
}

// DeleteBySrc 删除后使列表缓存失效
func (c *CachedStore) DeleteBySrc(ctx context.Context, src string) error {
	if err := c.Store.DeleteBySrc(ctx, src); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// Import 导入后使列表缓存失效
func (c *CachedStore) Import(ctx context.Context, rels []string, alt string) (int, error) {
	n, err := c.Store.Import(ctx, rels, alt)
	if n > 0 {
		c.invalidate(ctx)
	}
	return n, err
}

// invalidate 递增代数；上一代的不限量列表随即删除，其余条目等待 TTL 过期
func (c *CachedStore) invalidate(ctx context.Context) {
	gen, err := c.cache.Incr(ctx, generationKey)
	if err != nil {
		c.logger.Warn("list cache invalidation failed", zap.Error(err))
		return
	}
	uploads, outputs := true, false
	prev := gen - 1
	stale := []string{listKey(prev, nil, 0), listKey(prev, &uploads, 0), listKey(prev, &outputs, 0)}
	if err := c.cache.Delete(ctx, stale...); err != nil {
		c.logger.Warn("stale list cleanup failed", zap.Int64("generation", prev), zap.Error(err))
	}
}

func (c *CachedStore) recordHit() {
	if c.observer != nil {
		c.observer.RecordCacheHit(listCacheName)
	}
}

func (c *CachedStore) recordMiss() {
	if c.observer != nil {
		c.observer.RecordCacheMiss(listCacheName)
	}
}
