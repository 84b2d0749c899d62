// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 a2abridge HTTP 接口的请求处理器。

# 概述

handlers 包含两类端点：面向其他 Agent 的 A2A 协议端点，以及面向运维的管理接口。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - MessageHandler：POST /a2a/messages，校验并处理入站报文，返回确认或 error 载荷
  - SenderLimiter：按发送方的令牌桶限流，超限返回 429 RATE_LIMITED
  - CardHandler：在 /agent-card.json 等路径返回本 Agent 的代理卡
  - TaskHandler：/api/v1/tasks 任务查询、创建、委派与取消
  - AgentHandler：/api/v1/agents 目录查询、按地址发现与 ping
  - HealthHandler：/health 附带节点概况，/healthz 存活探针，/ready 并发执行关键与可选检查
  - Response：管理接口统一 JSON 响应结构（success + data + error + timestamp）

# 错误映射

管理接口与 A2A 端点共用 types.HTTPStatusFor：校验错误 400，未找到 404，
生命周期冲突 409，能力不匹配 422，限流 429，其余 500。
*/
package handlers
