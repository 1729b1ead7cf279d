// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package api 定义 MoeChat HTTP 接口的请求与响应结构。
//
// # 接口概览
//
//   - POST /api/chat         对话，返回 text/event-stream
//   - POST /api/asr          整段 WAV 识别，返回纯文本
//   - GET  /api/asr_ws       websocket 流式识别
//   - POST /api/get_context  当前会话历史
//   - POST /api/get_config   脱敏后的配置
//
// # 认证
//
// 配置了 api_keys 时需携带 X-API-Key；配置了 jwt.secret 时需携带
// Authorization: Bearer <token>。两者都未配置时不做认证。
//
// # 会话
//
// 请求头 X-Session-ID 指定会话，缺省为 "default"。
package api
