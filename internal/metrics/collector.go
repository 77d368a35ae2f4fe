// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/internal/pool"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 推理指标
	inferenceRunsTotal   *prometheus.CounterVec
	inferenceRunDuration *prometheus.HistogramVec

	// 资源缓存指标
	resourceBuildsTotal   *prometheus.CounterVec
	resourceBuildDuration *prometheus.HistogramVec

	// 权重下载指标
	weightDownloadsTotal *prometheus.CounterVec
	weightDownloadBytes  *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen  *prometheus.GaugeVec
	dbConnectionsIdle  *prometheus.GaugeVec
	dbConnectionsInUse *prometheus.GaugeVec
	dbWaitCount        *prometheus.GaugeVec

	namespace string
	logger    *zap.Logger
}

// NewCollector 创建指标收集器。指标注册到默认 Registry，同一 namespace 只能创建一次。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 推理指标
	c.inferenceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_runs_total",
			Help:      "Total number of inference runs",
		},
		[]string{"operation", "status"},
	)

	c.inferenceRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_run_duration_seconds",
			Help:      "Inference run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)

	// 资源缓存指标
	c.resourceBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_builds_total",
			Help:      "Total number of model session builds",
		},
		[]string{"cache", "status"},
	)

	c.resourceBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resource_build_duration_seconds",
			Help:      "Model session build duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"cache"},
	)

	// 权重下载指标
	c.weightDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weight_downloads_total",
			Help:      "Total number of model weight downloads",
		},
		[]string{"weight", "status"},
	)

	c.weightDownloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weight_download_bytes_total",
			Help:      "Total bytes of model weights downloaded",
		},
		[]string{"weight"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_in_use",
			Help:      "Number of database connections in use",
		},
		[]string{"database"},
	)

	c.dbWaitCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_wait_count",
			Help:      "Total number of connections waited for",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🖼️ 推理与资源指标记录
// =============================================================================

// RecordInference 记录一次推理（generate / upscale / restore）
func (c *Collector) RecordInference(operation string, duration time.Duration, err error) {
	c.inferenceRunsTotal.WithLabelValues(operation, outcome(err)).Inc()
	c.inferenceRunDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordResourceBuild 记录一次模型会话构建
func (c *Collector) RecordResourceBuild(cache string, duration time.Duration, err error) {
	c.resourceBuildsTotal.WithLabelValues(cache, outcome(err)).Inc()
	c.resourceBuildDuration.WithLabelValues(cache).Observe(duration.Seconds())
}

// RecordWeightDownload 记录一次权重下载
func (c *Collector) RecordWeightDownload(name string, bytes int64, duration time.Duration, err error) {
	c.weightDownloadsTotal.WithLabelValues(name, outcome(err)).Inc()
	if bytes > 0 {
		c.weightDownloadBytes.WithLabelValues(name).Add(float64(bytes))
	}
	c.logger.Debug("weight download recorded",
		zap.String("weight", name),
		zap.Duration("duration", duration),
		zap.Bool("success", err == nil),
	)
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBPoolStats 记录连接池统计
func (c *Collector) RecordDBPoolStats(database string, stats sql.DBStats) {
	c.RecordDBConnections(database, stats.OpenConnections, stats.Idle)
	c.dbConnectionsInUse.WithLabelValues(database).Set(float64(stats.InUse))
	c.dbWaitCount.WithLabelValues(database).Set(float64(stats.WaitCount))
}

// =============================================================================
// ♻️ 池指标
// =============================================================================

// WatchWorkerPool 导出 worker 池状态，抓取时读取 stats。同一 name 只能注册一次。
func (c *Collector) WatchWorkerPool(name string, stats func() pool.GoroutinePoolStats) {
	labels := prometheus.Labels{"pool": name}
	gauge := func(metric, help string, value func(pool.GoroutinePoolStats) int) {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(value(stats())) })
	}
	counter := func(metric, help string, value func(pool.GoroutinePoolStats) int64) {
		promauto.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   c.namespace,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(value(stats())) })
	}

	gauge("worker_pool_workers", "Number of live pool workers",
		func(s pool.GoroutinePoolStats) int { return s.Workers })
	gauge("worker_pool_active", "Number of tasks currently running",
		func(s pool.GoroutinePoolStats) int { return s.Active })
	gauge("worker_pool_queued", "Number of tasks waiting in the queue",
		func(s pool.GoroutinePoolStats) int { return s.Queued })
	counter("worker_pool_tasks_submitted_total", "Total number of tasks submitted",
		func(s pool.GoroutinePoolStats) int64 { return s.Submitted })
	counter("worker_pool_tasks_failed_total", "Total number of tasks that returned an error",
		func(s pool.GoroutinePoolStats) int64 { return s.Failed })
	counter("worker_pool_tasks_rejected_total", "Total number of tasks rejected by a full queue or cancelled while queued",
		func(s pool.GoroutinePoolStats) int64 { return s.Rejected })
}

// WatchBufferPool 导出对象池的取用次数与复用率
func (c *Collector) WatchBufferPool(name string, stats func() pool.PoolStats) {
	labels := prometheus.Labels{"pool": name}
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   c.namespace,
		Name:        "buffer_pool_gets_total",
		Help:        "Total number of buffers taken from the pool",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Gets) })
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   c.namespace,
		Name:        "buffer_pool_allocations_total",
		Help:        "Total number of buffers allocated because the pool was empty",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().News) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.namespace,
		Name:        "buffer_pool_reuse_ratio",
		Help:        "Fraction of gets served by a reused buffer",
		ConstLabels: labels,
	}, func() float64 { return stats().HitRate() })
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
