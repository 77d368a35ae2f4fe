// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 打开图像目录所用的数据库，并管理 GORM 连接池，
支持健康检查、统计上报与事务重试。

# 核心类型

  - Open / Dialector：按驱动名（sqlite、postgres、mysql）选择 gorm 方言。
  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、Close()。
    后台健康检查定时探活，并把 sql.DBStats 交给 StatsObserver。
  - PoolConfig：最大空闲与打开连接数、生命周期、空闲超时与健康检查间隔。

# 事务

WithTransaction 执行单次事务；RetryTransaction 在死锁、序列化失败、
SQLite busy 等可重试错误上用 cenkalti/backoff 指数退避重试。
*/
package database
