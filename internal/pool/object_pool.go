package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// =============================================================================
// ♻️ 对象池
// =============================================================================

// Pool 基于 sync.Pool 的泛型对象池，附带命中统计
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)

	gets atomic.Int64
	news atomic.Int64
}

// NewPool 创建对象池；reset 在归还时调用，可为 nil
func NewPool[T any](newFunc func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get 取出一个对象
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put 归还对象
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.pool.Put(obj)
}

// Stats 返回统计
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{Gets: p.gets.Load(), News: p.news.Load()}
}

// PoolStats 对象池统计
type PoolStats struct {
	Gets int64 `json:"gets"`
	News int64 `json:"news"`
}

// HitRate 复用率
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// maxPooledBuffer 超过此容量的缓冲不归还，避免一张大图长期占住内存
const maxPooledBuffer = 16 << 20

// BufferPool PNG 编码与线路传输用的字节缓冲池
var BufferPool = NewPool(
	func() *bytes.Buffer {
		return bytes.NewBuffer(make([]byte, 0, 256<<10))
	},
	func(b *bytes.Buffer) {
		b.Reset()
	},
)

// GetBuffer 取出一个空缓冲
func GetBuffer() *bytes.Buffer {
	return BufferPool.Get()
}

// PutBuffer 归还缓冲；过大的缓冲直接丢弃
func PutBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledBuffer {
		return
	}
	BufferPool.Put(b)
}
