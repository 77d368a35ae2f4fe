/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、推理、
模型会话构建、权重下载、缓存与数据库连接池。

# 概述

Collector 使用 promauto 注册到默认 Registry，所有指标按 namespace 隔离。
它同时实现 rescache.Observer、weights.Observer、catalog.Observer 与
database.StatsObserver，由 serve 命令在启动时注入各组件。

# 主要指标

  - http_requests_total / http_request_duration_seconds：按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - inference_runs_total / inference_run_duration_seconds：按 operation 分组。
  - resource_builds_total / resource_build_duration_seconds：按缓存实例分组。
  - weight_downloads_total / weight_download_bytes_total：按权重文件分组。
  - cache_hits_total / cache_misses_total：按 cache_type 分组。
  - db_connections_open / idle / in_use、db_wait_count：连接池 Gauge。
*/
package metrics
