// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，支持键前缀、连接池、
健康检查与 JSON 序列化。

# 概述

本包封装 go-redis 客户端，为图像目录的列表缓存提供统一的读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。
支持可选 TLS 加密连接。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete/Incr 等基础操作，
    以及 GetJSON/SetJSON 便捷序列化方法。
  - Config：缓存配置，包含地址、键前缀、连接池大小、默认 TTL、
    TLS 开关与健康检查间隔等参数。

# 失效

调用方通过 Incr 维护一个代数键，把代数拼进列表缓存的键名中；
写入时递增代数即可让旧的列表缓存全部失效，无需扫描键空间。
*/
package cache
