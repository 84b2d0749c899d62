package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/a2abridge/agent/delivery"
	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/agent/messaging"
	"github.com/BaSui01/a2abridge/agent/persistence"
	"github.com/BaSui01/a2abridge/agent/transport"
	"github.com/BaSui01/a2abridge/api/handlers"
	"github.com/BaSui01/a2abridge/config"
	"github.com/BaSui01/a2abridge/internal/metrics"
	"github.com/BaSui01/a2abridge/internal/server"
	"github.com/BaSui01/a2abridge/internal/telemetry"
	"github.com/BaSui01/a2abridge/internal/tlsutil"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 a2abridge 的主服务器: 一个 A2A Agent 节点及其 HTTP 与 Metrics 端点
type Server struct {
	cfg       *config.Config
	loader    *config.Loader
	logger    *zap.Logger
	level     zap.AtomicLevel
	telemetry *telemetry.Providers

	// 覆盖监听地址, 为空时使用配置的端口
	httpAddr    string
	metricsAddr string

	registry  *prometheus.Registry
	collector *metrics.Collector
	store     persistence.Store
	directory *discovery.Registry
	client    *messaging.Client
	limiter   *handlers.SenderLimiter

	httpManager    *server.Manager
	metricsManager *server.Manager
	watcher        *config.Watcher

	mu         sync.RWMutex
	peers      []string
	staleAfter time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建新的服务器实例. loader 设置了配置文件时启用热重载.
func NewServer(cfg *config.Config, loader *config.Loader, logger *zap.Logger, level zap.AtomicLevel, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:         cfg,
		loader:      loader,
		logger:      logger,
		level:       level,
		telemetry:   providers,
		httpAddr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		metricsAddr: fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		peers:       append([]string(nil), cfg.Discovery.Peers...),
		staleAfter:  cfg.Discovery.StaleAfter,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 组装 Agent 并启动所有服务
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// 1. 指标
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.collector = metrics.NewCollectorWith(s.registry, "a2abridge", s.logger)

	// 2. Agent 组件
	if err := s.initAgent(ctx); err != nil {
		return fmt.Errorf("failed to init agent: %w", err)
	}

	// 3. HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. Metrics 服务器
	if s.cfg.Server.MetricsPort != 0 {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// 5. 配置热重载
	if err := s.initWatcher(ctx); err != nil {
		return fmt.Errorf("failed to init config watcher: %w", err)
	}

	// 6. 对端发现与维护
	s.discoverPeers(ctx, s.peerList())
	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	s.logger.Info("a2abridge agent started",
		zap.String("agent_id", s.client.Self().ID),
		zap.String("endpoint", s.client.Self().Endpoint),
		zap.String("http_addr", s.httpManager.ListenAddr()),
		zap.String("store", s.cfg.Store.Type),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
	)
	return nil
}

// initAgent 构建存储、目录、生命周期引擎、投递执行器与报文客户端
func (s *Server) initAgent(ctx context.Context) error {
	card, err := s.cfg.Agent.Card()
	if err != nil {
		return err
	}

	store, err := persistence.New(s.cfg.StoreConfig(), s.logger)
	if err != nil {
		return err
	}
	s.store = store

	fetcher := discovery.NewCardFetcher(s.cfg.Discovery.FetcherConfig(),
		tlsutil.SecureHTTPClient(s.cfg.Discovery.FetchTimeout), s.logger)
	s.directory = discovery.NewRegistry(store, s.logger,
		discovery.WithFetcher(fetcher),
		discovery.WithRegistryConfig(s.cfg.Discovery.RegistryConfig()),
	)
	if err := s.directory.Register(ctx, card); err != nil {
		return fmt.Errorf("register own card: %w", err)
	}

	engine := lifecycle.NewEngine(store, s.logger, lifecycle.WithObserver(s.collector))
	executor := newExecutor(s.cfg, s.logger, delivery.WithObserver(s.collector))

	httpCfg := transport.DefaultHTTPConfig()
	httpCfg.UserAgent = "a2abridge/" + Version
	tr := transport.NewHTTPTransport(httpCfg, nil, s.logger)

	s.client, err = messaging.NewClient(card, s.directory, engine, tr, s.logger,
		messaging.WithExecutor(executor),
		messaging.WithRecorder(s.collector),
		messaging.WithConfig(s.cfg.Messaging.ClientConfig()),
		messaging.WithTracer(s.telemetry.Tracer("a2abridge/messaging")),
	)
	if err != nil {
		return err
	}

	s.limiter = handlers.NewSenderLimiter(handlers.LimiterConfigFromCard(card, limiterConfig(s.cfg.Limiter)))
	return nil
}

// newExecutor 按配置的投递策略创建执行器
func newExecutor(cfg *config.Config, logger *zap.Logger, opts ...delivery.Option) *delivery.Executor {
	return delivery.NewExecutor(cfg.Delivery.Policy(), logger, opts...)
}

func limiterConfig(c config.LimiterConfig) handlers.LimiterConfig {
	return handlers.LimiterConfig{
		RequestsPerMinute: c.RequestsPerMinute,
		Burst:             c.Burst,
		MaxSenders:        c.MaxSenders,
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册报文、代理卡、任务、Agent 与健康检查路由
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(transport.MessagesPath, handlers.NewMessageHandler(s.client, s.limiter, s.logger))

	card := handlers.NewCardHandler(s.client.Self, s.logger)
	for _, path := range discovery.CardPaths {
		mux.Handle(path, card)
	}

	handlers.NewTaskHandler(s.client.Engine(), s.client, s.logger).Register(mux)
	handlers.NewAgentHandler(s.directory, s.client, s.logger).Register(mux)

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingHealthCheck("store", s.store.Ping))
	health.RegisterOptionalCheck(handlers.NewPingHealthCheck("peers", s.checkPeers))
	health.SetSnapshot(s.snapshot)
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealthz)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

// snapshot 汇总目录中的 Agent 数与本地活跃任务数
func (s *Server) snapshot(ctx context.Context) (handlers.AgentSnapshot, error) {
	agents, err := s.directory.ListAgents(ctx, discovery.AgentFilter{})
	if err != nil {
		return handlers.AgentSnapshot{}, err
	}
	active, err := s.client.Engine().Active(ctx)
	if err != nil {
		return handlers.AgentSnapshot{}, err
	}
	return handlers.AgentSnapshot{
		AgentID:     s.client.Self().ID,
		KnownAgents: len(agents),
		ActiveTasks: len(active),
	}, nil
}

// checkPeers 配置了对端但目录中只有自己时报告失败
func (s *Server) checkPeers(ctx context.Context) error {
	if len(s.peerList()) == 0 {
		return nil
	}
	agents, err := s.directory.ListAgents(ctx, discovery.AgentFilter{})
	if err != nil {
		return err
	}
	if len(agents) <= 1 {
		return fmt.Errorf("none of %d configured peers discovered", len(s.peerList()))
	}
	return nil
}

func (s *Server) managerConfig(addr string) server.Config {
	return server.Config{
		Addr:            addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
}

// startHTTPServer 启动报文端点, 配置了证书时使用 HTTPS
func (s *Server) startHTTPServer() error {
	s.httpManager = server.NewManager("a2a", s.routes(), s.managerConfig(s.httpAddr), s.logger)
	if s.cfg.Server.TLSCertFile != "" {
		return s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	}
	return s.httpManager.Start()
}

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	s.metricsManager = server.NewManager("metrics", mux, s.managerConfig(s.metricsAddr), s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("metrics server started", zap.String("addr", s.metricsManager.ListenAddr()))
	return nil
}

// =============================================================================
// 🔄 热重载与维护
// =============================================================================

// initWatcher 在有配置文件时启动 Watcher
func (s *Server) initWatcher(ctx context.Context) error {
	if s.loader == nil || s.loader.ConfigPath() == "" {
		return nil
	}
	w, err := config.NewWatcher(s.loader, s.cfg, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnReload(func(_, next *config.Config, changes []config.Change) {
		s.applyReload(ctx, next, changes)
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// applyReload 只应用可热重载的字段
func (s *Server) applyReload(ctx context.Context, next *config.Config, changes []config.Change) {
	for _, c := range changes {
		if c.RequiresRestart {
			continue
		}
		switch c.Path {
		case "log.level":
			if lvl, err := zapcore.ParseLevel(next.Log.Level); err == nil {
				s.level.SetLevel(lvl)
			}
		case "discovery.peers":
			s.mu.Lock()
			added := make([]string, 0, len(next.Discovery.Peers))
			for _, p := range next.Discovery.Peers {
				if !slices.Contains(s.peers, p) {
					added = append(added, p)
				}
			}
			s.peers = append([]string(nil), next.Discovery.Peers...)
			s.mu.Unlock()
			s.discoverPeers(ctx, added)
		case "discovery.stale_after":
			s.mu.Lock()
			s.staleAfter = next.Discovery.StaleAfter
			s.mu.Unlock()
		case "limiter.requests_per_minute", "limiter.burst":
			cfg := handlers.LimiterConfigFromCard(s.client.Self(), limiterConfig(next.Limiter))
			if !s.limiter.Update(cfg) {
				s.logger.Warn("enabling or disabling the message limiter requires restart")
			}
		}
	}
}

func (s *Server) peerList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.peers...)
}

// discoverPeers 并发抓取对端代理卡, 失败只记录日志
func (s *Server) discoverPeers(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}
	cards, err := s.directory.DiscoverAll(ctx, urls)
	for _, card := range cards {
		s.logger.Info("peer discovered", zap.String("agent_id", card.ID), zap.String("endpoint", card.Endpoint))
	}
	if err != nil {
		s.logger.Warn("peer discovery incomplete", zap.Int("found", len(cards)), zap.Int("peers", len(urls)), zap.Error(err))
	}
}

// maintenanceLoop 定期刷新远端卡片、清理过期 Agent 并记录连接池指标
func (s *Server) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.Discovery.RefreshInterval
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maintain(ctx)
		}
	}
}

func (s *Server) maintain(ctx context.Context) {
	if n, err := s.directory.Refresh(ctx); err != nil {
		s.logger.Warn("agent card refresh failed", zap.Int("refreshed", n), zap.Error(err))
	}
	s.mu.RLock()
	staleAfter := s.staleAfter
	s.mu.RUnlock()
	if staleAfter > 0 {
		if n, err := s.directory.CleanupStale(ctx, staleAfter); err != nil {
			s.logger.Warn("stale agent cleanup failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("stale agents removed", zap.Int("count", n))
		}
	}
	if sp, ok := s.store.(interface{ Stats() sql.DBStats }); ok {
		stats := sp.Stats()
		s.collector.RecordDBConnections(s.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞到 ctx 结束或任一服务器异常退出
func (s *Server) Wait(ctx context.Context) error {
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("HTTP server: %w", err)
	case err := <-metricsErrs:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 优雅关闭所有服务: 停止热重载 → 关闭 HTTP → 关闭 Metrics → 关闭存储 → 刷新遥测
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("starting graceful shutdown")
	var errs []error

	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("shutdown completed with errors", zap.Error(err))
	} else {
		s.logger.Info("graceful shutdown completed")
	}
	return err
}
