// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package types 提供 imageflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 rescache、transform、
catalog、api 等上层模块提供统一的错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Backend 标记
  - StatusFor        ：错误码到默认 HTTP 状态码的映射

# 主要能力

  - 错误链查询：GetErrorCode / IsRetryable 基于 errors.As，支持 %w 包装
  - AsError：把任意错误归一为 *Error，供 HTTP 边界输出
*/
package types
