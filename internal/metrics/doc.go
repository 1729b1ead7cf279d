// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、远端后端（LLM / TTS / ASR / Embedding / 声纹）、对话轮次、
情绪引擎、检索、缓存与 ASR 会话七大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。
Collector 的所有 Record 方法对 nil 接收者安全，组件在测试中可以不注入。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 后端指标：按 backend/status 分组的调用次数与耗时。
  - 轮次指标：整轮耗时、首帧延迟、逐句合成结果。
  - 情绪指标：状态转换计数与 valence / arousal / frustration 当前值。
  - ASR 指标：活跃会话数、语音段处理结果。
*/
package metrics
