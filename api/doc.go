// Package api 定义 ImageFlow HTTP API 的请求与响应结构。
//
// # API 概览
//
//   - POST /transforms/stable-diffusion  文生图 / 图生图 / 局部重绘
//   - POST /transforms/real-esrgan       超分（/transforms/real-ersgan 为别名）
//   - POST /transforms/gfpgan            人脸修复
//   - GET  /files, POST /files/upload, DELETE /files/delete
//   - GET  /api/v1/models, POST /api/v1/models/prefetch
//   - GET  /api/v1/history
//
// # 认证
//
// 配置了 server.api_keys 时通过 X-API-Key 头认证；配置了 jwt 时使用
// Authorization: Bearer <token>。健康检查与静态文件不需要认证。
//
// 所有 JSON 响应都包在 handlers.Response 信封中：
//
//	{"success": true, "data": {...}, "timestamp": "..."}
package api
