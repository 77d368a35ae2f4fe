// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 提供数据库 Schema 迁移管理能力，支持 PostgreSQL、
MySQL 与 SQLite 三种数据库，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各方言的 SQL 迁移文件（images 与 history 两张表），
结合 golang-migrate 引擎实现版本化的 Schema 变更管理。迁移器使用与 gorm
方言相同的 database/sql 驱动打开独立连接，用完即关。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。
  - Config：数据库类型、连接串、迁移表名与锁超时。
  - CLI：migrate 子命令的格式化输出层，Execute 按动作名分派。

# 辅助函数

  - ParseDatabaseType 解析类型字符串，BuildDatabaseURL 按方言拼接连接串。
  - DatabaseURL / NewMigratorFromConfig 从应用配置创建迁移器。
*/
package migration
