// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 ImageFlow 的 HTTP 端点生命周期。

Manager 持有多个命名端点（API 与 Prometheus metrics 各占一个端口），
Start 一次性绑定所有监听，Run 在 errgroup 中服务直到 ctx 结束或任一端点
失败，随后在 shutdownTimeout 内优雅关闭全部端点。
*/
package server
