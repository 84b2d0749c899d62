// Package discovery 维护已知 Agent 的代理卡, 为消息客户端解析接收方.
//
// # Registry
//
// Registry 是对 AgentStore 的薄封装, 提供按 ID 查找、按能力与任务类型过滤以及
// 基于 a2a.SelectAgent 的接收方选择:
//
//	registry := discovery.NewRegistry(nil, logger)
//	_ = registry.Register(ctx, card)
//	card, err := registry.LookupAgent(ctx, "research-agent")
//
// # Remote Discovery
//
// Discover 依次尝试 /agent-card.json、/.well-known/agent-card.json 与 /a2a/agent-card,
// 抓取结果在 CardFetcher 中按 TTL 缓存, 同一地址的并发请求只发出一次:
//
//	cards, err := registry.DiscoverAll(ctx, []string{"http://peer-a:8080", "http://peer-b:8080"})
//
// Refresh 重新抓取全部远端 Agent, CleanupStale 移除长时间未刷新的远端 Agent.
//
// # Storage
//
// MemoryAgentStore 适用于单进程与测试; 持久化实现见 agent/persistence.
package discovery
