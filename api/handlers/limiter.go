package handlers

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
)

// LimiterConfig 入站报文限流配置.
type LimiterConfig struct {
	// RequestsPerMinute 每个发送方的稳态速率, <= 0 表示不限流
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`

	// Burst 允许的突发量, <= 0 时取 RequestsPerMinute
	Burst int `json:"burst" yaml:"burst"`

	// MaxSenders 同时跟踪的发送方数量, 超出后淘汰最久未出现的
	MaxSenders int `json:"max_senders" yaml:"max_senders"`
}

// LimiterConfigFromCard 以代理卡声明的 requests_per_minute 为准, 未声明时使用 fallback.
func LimiterConfigFromCard(card *a2a.AgentCard, fallback LimiterConfig) LimiterConfig {
	cfg := fallback
	if card != nil && card.RateLimit != nil && card.RateLimit.RequestsPerMinute != nil {
		cfg.RequestsPerMinute = *card.RateLimit.RequestsPerMinute
	}
	return cfg
}

// SenderLimiter 按发送方 (from 或对端 IP) 分别限流的令牌桶集合.
type SenderLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewSenderLimiter creates a SenderLimiter. 配置不限流时返回 nil.
func NewSenderLimiter(cfg LimiterConfig) *SenderLimiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	size := cfg.MaxSenders
	if size <= 0 {
		size = 10000
	}
	// size > 0 时 lru.New 不会失败
	cache, _ := lru.New[string, *rate.Limiter](size)
	return &SenderLimiter{
		limiters: cache,
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:    burst,
	}
}

// Allow 报告 key 此刻是否还有配额. nil 接收者总是放行.
func (l *SenderLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Update 调整速率与突发量, 已跟踪的发送方立即生效. 接收者为 nil 或 rpm <= 0 时返回 false,
// 开启或关闭限流需要重建 handler.
func (l *SenderLimiter) Update(cfg LimiterConfig) bool {
	if l == nil || cfg.RequestsPerMinute <= 0 {
		return false
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	limit := rate.Limit(float64(cfg.RequestsPerMinute) / 60)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit, l.burst = limit, burst
	for _, key := range l.limiters.Keys() {
		if limiter, ok := l.limiters.Peek(key); ok {
			limiter.SetLimit(limit)
			limiter.SetBurst(burst)
		}
	}
	return true
}

// Len 当前跟踪的发送方数量.
func (l *SenderLimiter) Len() int {
	if l == nil {
		return 0
	}
	return l.limiters.Len()
}
