package config

import (
	"fmt"
	"os"

	"github.com/BaSui01/a2abridge/agent/delivery"
	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/messaging"
	"github.com/BaSui01/a2abridge/agent/persistence"
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
)

// =============================================================================
// 🔩 配置到组件配置的转换
// =============================================================================

// Card 构造本 Agent 的代理卡. 设置了 CardFile 时从文件读取并校验.
// SupportedTasks 为空时使用 Capabilities.
func (a *AgentConfig) Card() (*a2a.AgentCard, error) {
	if a.CardFile != "" {
		data, err := os.ReadFile(a.CardFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read agent card: %w", err)
		}
		return a2a.ParseAgentCard(data)
	}

	opts := a2a.CardOptions{
		ID:                 a.ID,
		Description:        a.Description,
		MaxConcurrentTasks: a.MaxConcurrentTasks,
	}
	if a.RequestsPerMinute > 0 {
		rpm := a.RequestsPerMinute
		opts.RateLimit = &a2a.RateLimit{RequestsPerMinute: &rpm}
	}
	tasks := a.SupportedTasks
	if len(tasks) == 0 {
		// 未声明任务类型时, 每个能力即一种任务类型
		tasks = append([]string(nil), a.Capabilities...)
	}
	return a2a.NewAgentCard(a.Name, a.Version, a.Endpoint, a.capabilities(), tasks, opts)
}

// Policy 转换为投递策略
func (d DeliveryConfig) Policy() *delivery.Policy {
	p := delivery.DefaultPolicy()
	p.Unit = d.TimeUnit
	p.InitialWait = d.InitialWait
	p.Multiplier = d.Multiplier
	p.MaxRetries = d.MaxRetries
	p.MaxTotalWait = d.MaxTotalWait

	deadlines := map[a2a.MessageType]float64{
		a2a.MessageTypeTaskAssignment: d.AssignmentDeadline,
		a2a.MessageTypeStatusUpdate:   d.StatusDeadline,
		a2a.MessageTypeTaskCompletion: d.CompletionDeadline,
		a2a.MessageTypePing:           d.PingDeadline,
		a2a.MessageTypeError:          d.ErrorDeadline,
	}
	for mt, v := range deadlines {
		if v > 0 {
			p.AckDeadlines[mt] = v
		}
	}
	p.FireAndForget = map[a2a.MessageType]bool{
		a2a.MessageTypeStatusUpdate: d.StatusFireAndForget,
	}
	return p
}

// StoreConfig 汇总 store/redis/database 三段为存储工厂配置
func (c *Config) StoreConfig() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type: persistence.StoreType(c.Store.Type),
		Redis: persistence.RedisStoreConfig{
			Addr:        c.Redis.Addr,
			Password:    c.Redis.Password,
			DB:          c.Redis.DB,
			PoolSize:    c.Redis.PoolSize,
			KeyPrefix:   c.Store.KeyPrefix,
			DialTimeout: c.Redis.DialTimeout,
		},
		Database: persistence.DatabaseStoreConfig{
			Driver:          c.Database.Driver,
			DSN:             c.Database.DSN(),
			MaxIdleConns:    c.Database.MaxIdleConns,
			MaxOpenConns:    c.Database.MaxOpenConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
	}
}

// RegistryConfig 转换为注册表配置
func (d DiscoveryConfig) RegistryConfig() *discovery.RegistryConfig {
	return &discovery.RegistryConfig{
		StaleAfter:           d.StaleAfter,
		DiscoveryConcurrency: d.Concurrency,
	}
}

// FetcherConfig 转换为代理卡抓取配置
func (d DiscoveryConfig) FetcherConfig() *discovery.FetcherConfig {
	return &discovery.FetcherConfig{
		Timeout:   d.FetchTimeout,
		CacheSize: d.CacheSize,
		CacheTTL:  d.CacheTTL,
	}
}

// ClientConfig 转换为消息客户端配置
func (m MessagingConfig) ClientConfig() *messaging.Config {
	return &messaging.Config{
		DedupSize: m.DedupSize,
		DedupTTL:  m.DedupTTL,
	}
}
