// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 a2abridge 的命令行入口。

# 概述

cmd/a2abridge 把一个 A2A Agent 节点打包成可执行程序：serve 启动报文端点、
代理卡发布与任务/Agent 管理接口，其余子命令用于离线处理代理卡和探测对端。
程序支持 YAML 配置文件与 A2A_ 环境变量、结构化日志（zap）、
Prometheus 指标、OpenTelemetry 追踪以及配置热重载。

# 核心类型

  - Server：组装存储、目录、生命周期引擎、投递执行器与报文客户端，管理 HTTP、Metrics 双端口
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、card validate、card create、send ping、health、version
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、RequestLogger、
    MetricsMiddleware、RateLimiter（基于 IP）
  - 热重载：日志级别、对端列表、过期阈值与发送方限流参数
  - 后台维护：定期刷新远端代理卡并清理过期 Agent
  - 优雅关闭：信号监听 → 停止热重载 → 关闭 HTTP → 关闭 Metrics → 关闭存储 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
