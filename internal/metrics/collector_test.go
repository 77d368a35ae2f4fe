package metrics

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/internal/pool"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.inferenceRunsTotal)
	assert.NotNil(t, collector.resourceBuildsTotal)
	assert.NotNil(t, collector.weightDownloadsTotal)
	assert.NotNil(t, collector.dbConnectionsOpen)
}

func TestNewCollector_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() { NewCollector(nextTestNamespace(), nil) })
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/api/images", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/api/images", 204, 50*time.Millisecond, 512, 1024)
	collector.RecordHTTPRequest("POST", "/api/generate", 503, 50*time.Millisecond, 512, 64)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/images", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/generate", "5xx")))
}

func TestCollector_RecordInference(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordInference("generate", 2*time.Second, nil)
	collector.RecordInference("generate", time.Second, errors.New("boom"))
	collector.RecordInference("upscale", time.Second, nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.inferenceRunsTotal.WithLabelValues("generate", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.inferenceRunsTotal.WithLabelValues("generate", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.inferenceRunDuration))
}

func TestCollector_RecordResourceBuild(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordResourceBuild("upscale", 3*time.Second, nil)
	collector.RecordResourceBuild("upscale", time.Second, errors.New("oom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.resourceBuildsTotal.WithLabelValues("upscale", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.resourceBuildsTotal.WithLabelValues("upscale", "error")))
}

func TestCollector_RecordWeightDownload(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordWeightDownload("GFPGANv1.3.pth", 2048, time.Second, nil)
	collector.RecordWeightDownload("GFPGANv1.3.pth", 0, time.Second, errors.New("404"))

	assert.Equal(t, float64(2048), testutil.ToFloat64(collector.weightDownloadBytes.WithLabelValues("GFPGANv1.3.pth")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.weightDownloadsTotal.WithLabelValues("GFPGANv1.3.pth", "error")))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("catalog_list")
	collector.RecordCacheHit("catalog_list")
	collector.RecordCacheMiss("catalog_list")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.cacheHits.WithLabelValues("catalog_list")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.cacheMisses.WithLabelValues("catalog_list")))
}

func TestCollector_RecordDBPoolStats(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBPoolStats("catalog", sql.DBStats{OpenConnections: 10, Idle: 5, InUse: 5, WaitCount: 3})

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("catalog")))
	assert.Equal(t, float64(5), testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("catalog")))
	assert.Equal(t, float64(5), testutil.ToFloat64(collector.dbConnectionsInUse.WithLabelValues("catalog")))
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.dbWaitCount.WithLabelValues("catalog")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordInference("generate", 500*time.Millisecond, nil)
			collector.RecordCacheHit("generate")
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.inferenceRunsTotal.WithLabelValues("generate", "success")))
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.cacheHits.WithLabelValues("generate")))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	// 已注册到默认 registry 的向量也可以注册到自定义 registry
	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)

	count, err := testutil.GatherAndCount(registry)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(201))
	assert.Equal(t, "3xx", statusCode(304))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(502))
	assert.Equal(t, "unknown", statusCode(101))
}

// =============================================================================
// 🧪 池指标
// =============================================================================

// gathered 从默认 registry 读取带 pool 标签的指标值
func gathered(t *testing.T, name, poolName string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() != "pool" || lp.GetValue() != poolName {
					continue
				}
				if m.Gauge != nil {
					return m.GetGauge().GetValue()
				}
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{pool=%q} not gathered", name, poolName)
	return 0
}

func TestCollector_WatchWorkerPool(t *testing.T) {
	ns := nextTestNamespace()
	collector := NewCollector(ns, zap.NewNop())
	workers := pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 4}, zap.NewNop())
	t.Cleanup(workers.Close)
	collector.WatchWorkerPool("inference", workers.Stats)

	ctx := context.Background()
	require.NoError(t, workers.SubmitWait(ctx, func(context.Context) error { return nil }))
	require.Error(t, workers.SubmitWait(ctx, func(context.Context) error { return errors.New("boom") }))

	assert.Equal(t, float64(2), gathered(t, ns+"_worker_pool_tasks_submitted_total", "inference"))
	assert.Eventually(t, func() bool {
		return gathered(t, ns+"_worker_pool_tasks_failed_total", "inference") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, gathered(t, ns+"_worker_pool_queued", "inference"))
	assert.Zero(t, gathered(t, ns+"_worker_pool_tasks_rejected_total", "inference"))
	assert.Positive(t, gathered(t, ns+"_worker_pool_workers", "inference"))
}

func TestCollector_WatchBufferPool(t *testing.T) {
	ns := nextTestNamespace()
	collector := NewCollector(ns, zap.NewNop())
	buffers := pool.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, func(b *bytes.Buffer) { b.Reset() })
	collector.WatchBufferPool("png", buffers.Stats)

	b := buffers.Get()
	buffers.Put(b)
	buffers.Put(buffers.Get())

	gets := gathered(t, ns+"_buffer_pool_gets_total", "png")
	news := gathered(t, ns+"_buffer_pool_allocations_total", "png")
	assert.Equal(t, float64(2), gets)
	assert.GreaterOrEqual(t, news, float64(1))
	assert.InDelta(t, (gets-news)/gets, gathered(t, ns+"_buffer_pool_reuse_ratio", "png"), 1e-9)
}
