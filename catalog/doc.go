// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 catalog 记录生成与上传的图像，以及 prompt 历史。

# 核心类型

  - Store：基于 gorm 的实现，支持 SQLite、PostgreSQL 与 MySQL。
    表结构由 internal/migration 中的 SQL 迁移创建。
  - CachedStore：在 Store 之上用 Redis 缓存图像列表，写操作递增代数键使缓存失效。

src 始终是相对存储根目录的 slash 路径；reference_image 为 -1 表示没有参考图。
*/
package catalog
