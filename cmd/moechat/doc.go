// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 MoeChat 服务端程序入口。

# 概述

cmd/moechat 把所有组件装配成一个进程：向量网关、日记 / 核心记忆 /
世界书三种检索存储、情绪引擎、提示词组装、ASR、生成流水线与编排器，
并通过 HTTP（SSE）、WebSocket 和 TCP 三种入口对外提供服务。

# 子命令

  - serve    启动服务（--config 指定 YAML 配置）
  - version  显示版本信息
  - health   请求 /health 做存活探测

# 中间件链

Recovery → RequestID → SecurityHeaders → OTelTracing → RequestLogger →
Metrics → CORS → RateLimiter → APIKeyAuth / JWTAuth。认证在未配置密钥时不启用。

# 关闭顺序

收到信号后依次停止配置监听、HTTP、TCP、定时任务，等待编排器完成
记忆回写，再关闭合成池、缓存与遥测。
*/
package main
