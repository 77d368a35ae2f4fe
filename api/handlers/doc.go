// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 ImageFlow HTTP API 的请求处理器实现。

# 核心类型

  - TransformHandler：三种变换接口，以及模型列表与预热
  - FilesHandler    ：上传、列出、删除图像文件，同步维护目录条目
  - HistoryHandler  ：prompt 历史
  - HealthHandler   ：/health、/ready 与 /version；就绪检查并发执行
  - Response        ：统一 JSON 响应结构（success + data + error + timestamp）

# 错误映射

WriteErr 在 HTTP 边界把各包的哨兵错误转换为 types.Error：非法资源键为
INVALID_KEY，模型构建失败为 CONSTRUCTION_FAILED，目录或文件缺失为
NOT_FOUND，越出存储根目录的路径为 INVALID_REQUEST。
*/
package handlers
