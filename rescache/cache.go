package rescache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🧩 核心类型
// =============================================================================

// ErrInvalidKey 键不属于缓存实例的合法键集合
var ErrInvalidKey = errors.New("invalid resource key")

// Builder 在缓存未命中时构建资源。
// ctx 不随发起调用方取消而取消，但保留其值（trace 等）。
type Builder[V any] func(ctx context.Context) (V, error)

// Observer 接收缓存事件，由 metrics.Collector 实现
type Observer interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	RecordResourceBuild(cache string, duration time.Duration, err error)
}

// Options 缓存实例配置
type Options[K comparable] struct {
	// Validate 拒绝不在已知键集合中的键，返回的错误会被包装为 KeyError
	Validate func(K) error
	Logger   *zap.Logger
	Observer Observer
}

// KeyError 非法键错误，errors.Is(err, ErrInvalidKey) 为 true
type KeyError struct {
	Cache  string
	Key    any
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("rescache %s: invalid key %v: %s", e.Cache, e.Key, e.Reason)
}

// Is 使 KeyError 匹配 ErrInvalidKey
func (e *KeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// ConstructionError 构建函数失败（返回错误或 panic）
type ConstructionError struct {
	Cache string
	Key   any
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("rescache %s: build %v: %v", e.Cache, e.Key, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

type entry[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Cache 按配置键惰性构建并永久保留资源，每个键最多构建一次
type Cache[K comparable, V any] struct {
	name     string
	validate func(K) error
	logger   *zap.Logger
	observer Observer

	mu      sync.RWMutex
	entries map[K]*entry[V]
}

// New 创建缓存实例
func New[K comparable, V any](name string, opts Options[K]) *Cache[K, V] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Cache[K, V]{
		name:     name,
		validate: opts.Validate,
		logger:   logger.With(zap.String("component", "rescache"), zap.String("cache", name)),
		observer: observer,
		entries:  make(map[K]*entry[V]),
	}
}

// Name 返回缓存名称
func (c *Cache[K, V]) Name() string {
	return c.name
}

// =============================================================================
// 🎯 Get-or-create
// =============================================================================

// GetOrCreate 返回 key 对应的资源，未命中时调用 build 构建。
//
// 同一 key 的并发首次访问只会触发一次构建，其余调用方等待同一结果，
// 等待者与已完成条目的读取一样记为命中。
// 构建失败时错误返回给所有等待者，且不会留下条目，后续调用可重新构建。
// 调用方可通过 ctx 放弃等待，构建本身会继续完成并写入缓存。
func (c *Cache[K, V]) GetOrCreate(ctx context.Context, key K, build Builder[V]) (V, error) {
	var zero V

	if err := c.checkKey(key); err != nil {
		return zero, err
	}
	if build == nil {
		return zero, fmt.Errorf("rescache %s: nil builder for key %v", c.name, key)
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		select {
		case <-e.done:
			if e.err == nil {
				c.observer.RecordCacheHit(c.name)
				return e.val, nil
			}
		default:
			// 加入进行中的构建
			c.observer.RecordCacheHit(c.name)
		}
	} else {
		c.mu.Lock()
		e, ok = c.entries[key]
		if !ok {
			e = &entry[V]{done: make(chan struct{})}
			c.entries[key] = e
		}
		c.mu.Unlock()

		if ok {
			c.observer.RecordCacheHit(c.name)
		} else {
			c.observer.RecordCacheMiss(c.name)
			go c.build(context.WithoutCancel(ctx), key, e, build)
		}
	}

	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Cache[K, V]) build(ctx context.Context, key K, e *entry[V], build Builder[V]) {
	ctx, span := otel.Tracer("imageflow/rescache").Start(ctx, "rescache.build")
	span.SetAttributes(
		attribute.String("cache", c.name),
		attribute.String("key", fmt.Sprint(key)),
	)
	defer span.End()

	c.logger.Info("building resource", zap.Any("key", key))
	start := time.Now()
	val, err := safeBuild(ctx, build)
	elapsed := time.Since(start)

	c.mu.Lock()
	if err != nil {
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		e.err = &ConstructionError{Cache: c.name, Key: key, Err: err}
	} else {
		e.val = val
	}
	c.mu.Unlock()
	close(e.done)

	c.observer.RecordResourceBuild(c.name, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("resource build failed",
			zap.Any("key", key),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return
	}
	c.logger.Info("resource ready", zap.Any("key", key), zap.Duration("duration", elapsed))
}

func safeBuild[V any](ctx context.Context, build Builder[V]) (val V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("builder panicked: %v", r)
		}
	}()
	return build(ctx)
}

func (c *Cache[K, V]) checkKey(key K) error {
	if c.validate == nil {
		return nil
	}
	if err := c.validate(key); err != nil {
		return &KeyError{Cache: c.name, Key: key, Reason: err.Error()}
	}
	return nil
}

// =============================================================================
// 🔥 预热
// =============================================================================

// Prefetch 为一组固定键预先构建资源，每个键都走 GetOrCreate。
// 返回第一个失败的错误。
func (c *Cache[K, V]) Prefetch(ctx context.Context, keys []K, builderFor func(K) Builder[V]) error {
	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			_, err := c.GetOrCreate(ctx, key, builderFor(key))
			return err
		})
	}
	return g.Wait()
}

// =============================================================================
// 🔍 只读视图
// =============================================================================

// Peek 返回已就绪的资源，不会触发构建
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	select {
	case <-e.done:
		if e.err != nil {
			return zero, false
		}
		return e.val, true
	default:
		return zero, false
	}
}

// Keys 返回所有已就绪资源的键，顺序不定
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, len(c.entries))
	for k, e := range c.entries {
		select {
		case <-e.done:
			if e.err == nil {
				keys = append(keys, k)
			}
		default:
		}
	}
	return keys
}

// Len 返回已就绪资源数量
func (c *Cache[K, V]) Len() int {
	return len(c.Keys())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// OneOf 返回只接受给定键集合的校验函数
func OneOf[K comparable](allowed ...K) func(K) error {
	set := make(map[K]struct{}, len(allowed))
	for _, k := range allowed {
		set[k] = struct{}{}
	}
	return func(key K) error {
		if _, ok := set[key]; ok {
			return nil
		}
		return fmt.Errorf("want one of %v", allowed)
	}
}

type nopObserver struct{}

func (nopObserver) RecordCacheHit(string) {}
func (nopObserver) RecordCacheMiss(string) {}
func (nopObserver) RecordResourceBuild(string, time.Duration, error) {}
