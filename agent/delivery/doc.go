// Package delivery 实现 A2A 报文的可靠投递: 指数退避重试、按报文类型的确认期限
// 以及 fire-and-forget 投递.
//
// 退避序列由纯函数 Schedule 生成, 默认依次等待 1, 2, 4 个时间单位, 累计等待不超过
// 15 个单位. 时间单位可配置, 测试中通常缩短为毫秒并注入 Sleeper.
//
// 可重试的错误码为 TIMEOUT、INTERNAL_ERROR、TRANSPORT_ERROR 与 RATE_LIMITED,
// 其余错误立即返回; 预算耗尽时返回 *ExhaustedError, 其 Unwrap 给出最后一次失败.
package delivery
