// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 MoeChat HTTP 接口的请求处理器实现。

# 核心类型

  - ChatHandler    对话（SSE）与会话历史查询
  - ASRHandler     整段 WAV 识别与 websocket 流式识别
  - ConfigHandler  脱敏后的当前配置
  - HealthHandler  /health、/healthz、/ready、/version
  - Response       统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter 包装 http.ResponseWriter 以捕获状态码，透传 Flush 与 Hijack

# 错误处理

处理器把 types.Error 按错误码映射为 HTTP 状态码。对话接口在首帧写出
之前出错时返回 JSON 错误；首帧之后的错误由终止帧表达，只记录日志。
*/
package handlers
