// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 ImageFlow 服务端与命令行入口。

# 概述

cmd/imageflow 基于 cobra 组织子命令：serve 启动 HTTP API 与独立的
Prometheus metrics 端口；generate、upscale、fix-faces 在本地直接运行
三种变换；prefetch 预热模型；import 登记已有图片；migrate 管理数据库
迁移；health 与 version 用于运维检查。启动时会加载 .env（joho/godotenv），
随后按 YAML 文件与 IMAGEFLOW_ 前缀的环境变量加载配置。

# 核心类型

  - App       ：按配置组装存储、目录、推理后端、worker 池与三种变换
  - Server    ：注册路由与中间件链，通过 internal/server.Manager 管理两个端点
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 中间件链

Recovery → RequestID → SecurityHeaders → RequestLogger → Metrics →
OTelTracing → CORS → RateLimiter（按 IP）→ Auth。Auth 在配置了 JWT
时校验 Bearer 令牌（HS256 / RS256），否则在配置了 API Key 时校验
X-API-Key；健康检查与静态文件路径不需要认证。

# 构建注入

Version、BuildTime、GitCommit 通过 ldflags 设置。
*/
package main
