// =============================================================================
// 📦 a2abridge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Agent:     DefaultAgentConfig(),
		Delivery:  DefaultDeliveryConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Discovery: DefaultDiscoveryConfig(),
		Limiter:   DefaultLimiterConfig(),
		Messaging: DefaultMessagingConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultAgentConfig 返回默认代理卡配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Name:               "a2abridge-agent",
		Version:            "1.0.0",
		Description:        "A2A agent",
		Endpoint:           "http://localhost:8080",
		Capabilities:       []string{"custom"},
		SupportedTasks:     []string{"custom"},
		MaxConcurrentTasks: 1,
	}
}

// DefaultDeliveryConfig 返回默认投递策略: 等待 1, 2, 4 个单位, 累计不超过 15 个单位
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		TimeUnit:            time.Second,
		InitialWait:         1,
		Multiplier:          2,
		MaxRetries:          3,
		MaxTotalWait:        15,
		AssignmentDeadline:  30,
		StatusDeadline:      10,
		CompletionDeadline:  10,
		PingDeadline:        5,
		ErrorDeadline:       10,
		StatusFireAndForget: true,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      "memory",
		KeyPrefix: "a2a:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		Password:    "",
		DB:          0,
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "a2abridge",
		Password:        "",
		Name:            "a2abridge.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultDiscoveryConfig 返回默认发现配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Peers:           []string{},
		FetchTimeout:    5 * time.Second,
		CacheSize:       256,
		CacheTTL:        5 * time.Minute,
		StaleAfter:      10 * time.Minute,
		RefreshInterval: 0,
		Concurrency:     8,
	}
}

// DefaultLimiterConfig 返回默认限流配置
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RequestsPerMinute: 600,
		Burst:             60,
		MaxSenders:        10000,
	}
}

// DefaultMessagingConfig 返回默认消息客户端配置
func DefaultMessagingConfig() MessagingConfig {
	return MessagingConfig{
		DedupSize: 4096,
		DedupTTL:  10 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "a2abridge",
		SampleRate:   0.1,
	}
}
