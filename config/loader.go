// =============================================================================
// 📦 a2abridge 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("a2abridge.yaml").
//	    WithEnvPrefix("A2A").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/a2abridge/agent/persistence"
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
)

// DefaultEnvPrefix 环境变量前缀, 例如 A2A_SERVER_HTTP_PORT
const DefaultEnvPrefix = "A2A"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 a2abridge 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Agent 本 Agent 的代理卡
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Delivery 投递重试策略
	Delivery DeliveryConfig `yaml:"delivery" env:"DELIVERY"`

	// Store 存储后端选择
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Redis 存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Discovery 对端发现配置
	Discovery DiscoveryConfig `yaml:"discovery" env:"DISCOVERY"`

	// Limiter 入站报文按发送方限流
	Limiter LimiterConfig `yaml:"limiter" env:"LIMITER"`

	// Messaging 消息客户端配置
	Messaging MessagingConfig `yaml:"messaging" env:"MESSAGING"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口, 0 表示不单独启动 metrics 服务
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的请求速率 (每秒)
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 每个客户端 IP 的突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// TLS 证书与私钥, 都设置时以 HTTPS 提供报文端点
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// AgentConfig 本 Agent 的代理卡配置
type AgentConfig struct {
	// CardFile 代理卡 JSON 文件, 设置时忽略下面的字段
	CardFile string `yaml:"card_file" env:"CARD_FILE"`
	// ID 留空时生成 UUID
	ID string `yaml:"id" env:"ID"`
	// 名称
	Name string `yaml:"name" env:"NAME"`
	// 版本
	Version string `yaml:"version" env:"VERSION"`
	// 描述
	Description string `yaml:"description" env:"DESCRIPTION"`
	// Endpoint 对端访问本 Agent 的基地址
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// 能力列表
	Capabilities []string `yaml:"capabilities" env:"CAPABILITIES"`
	// 支持的任务类型
	SupportedTasks []string `yaml:"supported_tasks" env:"SUPPORTED_TASKS"`
	// 最大并发任务数
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" env:"MAX_CONCURRENT_TASKS"`
	// 对外公布的每分钟请求上限, 0 表示不公布
	RequestsPerMinute int `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

// DeliveryConfig 投递重试策略, 等待与期限以 TimeUnit 为单位
type DeliveryConfig struct {
	// 一个时间单位
	TimeUnit time.Duration `yaml:"time_unit" env:"TIME_UNIT"`
	// 首次重试前等待的单位数
	InitialWait float64 `yaml:"initial_wait" env:"INITIAL_WAIT"`
	// 等待倍增因子
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 最大重试次数 (不含首次尝试)
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 累计等待上限 (单位数)
	MaxTotalWait float64 `yaml:"max_total_wait" env:"MAX_TOTAL_WAIT"`
	// 各类报文单次尝试的确认期限 (单位数)
	AssignmentDeadline float64 `yaml:"assignment_deadline" env:"ASSIGNMENT_DEADLINE"`
	StatusDeadline     float64 `yaml:"status_deadline" env:"STATUS_DEADLINE"`
	CompletionDeadline float64 `yaml:"completion_deadline" env:"COMPLETION_DEADLINE"`
	PingDeadline       float64 `yaml:"ping_deadline" env:"PING_DEADLINE"`
	ErrorDeadline      float64 `yaml:"error_deadline" env:"ERROR_DEADLINE"`
	// status_update 只尝试一次
	StatusFireAndForget bool `yaml:"status_fire_and_forget" env:"STATUS_FIRE_AND_FORGET"`
}

// StoreConfig 存储后端选择
type StoreConfig struct {
	// 类型: memory, redis, database
	Type string `yaml:"type" env:"TYPE"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 建连超时
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名, sqlite 下为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时自动建表
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// DiscoveryConfig 对端发现配置
type DiscoveryConfig struct {
	// 启动时发现的对端基地址
	Peers []string `yaml:"peers" env:"PEERS"`
	// 抓取代理卡的超时
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	// 代理卡缓存数量
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// 代理卡缓存有效期
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 远端 Agent 超过该时长未刷新即清理
	StaleAfter time.Duration `yaml:"stale_after" env:"STALE_AFTER"`
	// 后台刷新周期, 0 表示不刷新
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`
	// 并发发现上限
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

// LimiterConfig 入站报文限流
type LimiterConfig struct {
	// 每个发送方每分钟的请求数, 0 表示不限流; 代理卡的 rate_limit 优先
	RequestsPerMinute int `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	// 突发量
	Burst int `yaml:"burst" env:"BURST"`
	// 跟踪的发送方上限
	MaxSenders int `yaml:"max_senders" env:"MAX_SENDERS"`
}

// MessagingConfig 消息客户端配置
type MessagingConfig struct {
	// 入站去重缓存容量
	DedupSize int `yaml:"dedup_size" env:"DEDUP_SIZE"`
	// 去重保留时间
	DedupTTL time.Duration `yaml:"dedup_ttl" env:"DEDUP_TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.Getenv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup 替换环境变量来源
func (l *Loader) WithEnvLookup(lookup func(string) string) *Loader {
	l.lookupEnv = lookup
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// ConfigPath 返回配置文件路径
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := l.lookupEnv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按 Go duration 语法解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}

	if c.Agent.CardFile == "" {
		if c.Agent.Name == "" {
			errs = append(errs, "agent.name is required")
		}
		if c.Agent.Endpoint == "" {
			errs = append(errs, "agent.endpoint is required")
		}
		if len(c.Agent.Capabilities) == 0 {
			errs = append(errs, "agent.capabilities must not be empty")
		}
	}

	d := c.Delivery
	if d.TimeUnit <= 0 {
		errs = append(errs, "delivery.time_unit must be positive")
	}
	if d.InitialWait <= 0 {
		errs = append(errs, "delivery.initial_wait must be positive")
	}
	if d.Multiplier < 1 {
		errs = append(errs, "delivery.multiplier must be at least 1")
	}
	if d.MaxRetries < 0 {
		errs = append(errs, "delivery.max_retries must not be negative")
	}
	if d.MaxTotalWait < 0 {
		errs = append(errs, "delivery.max_total_wait must not be negative")
	}

	switch persistence.StoreType(c.Store.Type) {
	case persistence.StoreTypeMemory, persistence.StoreTypeRedis, persistence.StoreTypeDatabase:
	default:
		errs = append(errs, fmt.Sprintf("unsupported store type %q", c.Store.Type))
	}

	if c.Limiter.RequestsPerMinute < 0 {
		errs = append(errs, "limiter.requests_per_minute must not be negative")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// capabilities 转换为协议能力列表
func (a *AgentConfig) capabilities() []a2a.Capability {
	out := make([]a2a.Capability, 0, len(a.Capabilities))
	for _, c := range a.Capabilities {
		out = append(out, a2a.Capability(c))
	}
	return out
}
