// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、A2A 报文、
投递重试、任务生命周期与数据库连接池。

# 核心类型

  - Collector：指标收集器，同时实现 delivery.Observer、
    lifecycle.Observer 与 messaging.Recorder，直接挂到对应组件上即可。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为
    2xx/3xx/4xx/5xx，429 单独成组。
  - 报文指标：按 direction/message_type/outcome 计数，去重命中的
    outcome 为 duplicate。
  - 投递指标：每次尝试的结果码、退避等待时长、最终结果与尝试次数。
  - 任务指标：按 event/from_state/to_state/outcome 统计转换请求。
  - 数据库指标：活跃/空闲连接数 Gauge。

NewCollector 注册到默认 Registry；测试中使用 NewCollectorWith
传入独立的 Registry。
*/
package metrics
