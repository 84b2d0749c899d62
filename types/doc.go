// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 a2abridge 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 a2a 协议、生命周期引擎、
投递执行器与消息客户端提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - TaskState：任务生命周期的封闭状态枚举
  - Priority：任务优先级枚举（默认 medium）

# 主要能力

  - 错误工具链：AsError / IsCode / GetErrorCode / IsRetryable
  - 错误码默认语义：DefaultRetryable / HTTPStatusFor
*/
package types
