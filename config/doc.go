// 版权所有 2024 ImageFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 ImageFlow 的配置加载功能。
//
// 配置按 默认值 → YAML 文件 → IMAGEFLOW_ 前缀环境变量 的顺序合并，
// Validate 一次性返回全部问题。
package config
