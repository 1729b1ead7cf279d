// Copyright (c) MoeChat Authors.
// Licensed under the MIT License.

/*
Package types 提供 moechat 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、memory、affect、
pipeline、orchestrator、api 等上层模块提供统一的类型契约。

# 核心类型

  - Role / Message：对话消息（system / user / assistant）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Backend 标记

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 历史校验：ValidateHistory 检查 user / assistant 严格交替
*/
package types
