package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/types"
)

// AgentFilter 列举 Agent 时的过滤条件, 零值表示不过滤.
type AgentFilter struct {
	Capabilities  []a2a.Capability // 必须全部具备
	TaskType      string           // 必须在 supported_tasks 中
	Status        a2a.AgentStatus
	AvailableOnly bool
}

// Match 判断卡片是否满足过滤条件.
func (f AgentFilter) Match(card *a2a.AgentCard) bool {
	if card == nil {
		return false
	}
	if f.Status != "" && card.Status != f.Status {
		return false
	}
	if f.AvailableOnly && !card.Available() {
		return false
	}
	if f.TaskType != "" && !a2a.SupportsTask(f.TaskType, card) {
		return false
	}
	return a2a.Matches(f.Capabilities, card)
}

// RegistryConfig holds configuration for the agent registry.
type RegistryConfig struct {
	// StaleAfter 超过该时长未刷新的远端 Agent 由 CleanupStale 移除
	StaleAfter time.Duration `json:"stale_after"`

	// DiscoveryConcurrency 并发发现的上限
	DiscoveryConcurrency int `json:"discovery_concurrency"`
}

// DefaultRegistryConfig returns a RegistryConfig with sensible defaults.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		StaleAfter:           10 * time.Minute,
		DiscoveryConcurrency: 8,
	}
}

// Registry 维护已知 Agent 的代理卡, 是消息客户端解析接收方的唯一入口.
type Registry struct {
	store   AgentStore
	fetcher *CardFetcher
	config  *RegistryConfig
	now     func() time.Time
	logger  *zap.Logger

	// mu 串行化同一进程内的注册写入
	mu sync.Mutex
}

// RegistryOption 配置 Registry.
type RegistryOption func(*Registry)

// WithFetcher 设置远端代理卡抓取器.
func WithFetcher(f *CardFetcher) RegistryOption {
	return func(r *Registry) { r.fetcher = f }
}

// WithRegistryConfig 设置注册表配置.
func WithRegistryConfig(c *RegistryConfig) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.config = c
		}
	}
}

// WithRegistryClock 替换时钟.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a new agent registry. store 为 nil 时使用内存存储.
func NewRegistry(store AgentStore, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if store == nil {
		store = NewMemoryAgentStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		store:  store,
		config: DefaultRegistryConfig(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(zap.String("component", "agent_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fetcher == nil {
		r.fetcher = NewCardFetcher(nil, nil, logger)
	}
	return r
}

// Register 校验并登记代理卡, 已存在时覆盖.
func (r *Registry) Register(ctx context.Context, card *a2a.AgentCard) error {
	return r.register(ctx, card, "")
}

func (r *Registry) register(ctx context.Context, card *a2a.AgentCard, sourceURL string) error {
	if card == nil {
		return types.NewError(types.ErrInvalidAgentCard, "agent card is nil")
	}
	if err := card.Validate(); err != nil {
		return err
	}
	record := &AgentRecord{
		Card:      card.Clone(),
		SourceURL: sourceURL,
		LastSeen:  r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.SaveAgent(ctx, record); err != nil {
		return types.Errorf(types.ErrInternalError, "save agent %s", card.ID).WithCause(err)
	}
	r.logger.Info("agent registered",
		zap.String("agent_id", card.ID),
		zap.String("name", card.Name),
		zap.String("source", sourceURL),
	)
	return nil
}

// Unregister 移除 Agent.
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.DeleteAgent(ctx, agentID); err != nil {
		return r.mapStoreErr(agentID, err)
	}
	r.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	return nil
}

// LookupAgent 按 ID 返回代理卡副本, 不存在时返回 AGENT_NOT_FOUND.
func (r *Registry) LookupAgent(ctx context.Context, agentID string) (*a2a.AgentCard, error) {
	record, err := r.store.LoadAgent(ctx, agentID)
	if err != nil {
		return nil, r.mapStoreErr(agentID, err)
	}
	return record.Card, nil
}

// Record 返回完整记录.
func (r *Registry) Record(ctx context.Context, agentID string) (*AgentRecord, error) {
	record, err := r.store.LoadAgent(ctx, agentID)
	if err != nil {
		return nil, r.mapStoreErr(agentID, err)
	}
	return record, nil
}

// ListAgents 返回满足过滤条件的代理卡, 按 ID 排序.
func (r *Registry) ListAgents(ctx context.Context, filter AgentFilter) ([]*a2a.AgentCard, error) {
	records, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "list agents").WithCause(err)
	}
	cards := make([]*a2a.AgentCard, 0, len(records))
	for _, record := range records {
		if filter.Match(record.Card) {
			cards = append(cards, record.Card)
		}
	}
	return cards, nil
}

// FindByCapability 返回具备某项能力的 Agent.
func (r *Registry) FindByCapability(ctx context.Context, capability a2a.Capability) ([]*a2a.AgentCard, error) {
	return r.ListAgents(ctx, AgentFilter{Capabilities: []a2a.Capability{capability}})
}

// FindByCapabilities 返回同时具备全部能力的 Agent.
func (r *Registry) FindByCapabilities(ctx context.Context, capabilities []a2a.Capability) ([]*a2a.AgentCard, error) {
	return r.ListAgents(ctx, AgentFilter{Capabilities: capabilities})
}

// FindByTask 返回支持某任务类型的 Agent.
func (r *Registry) FindByTask(ctx context.Context, taskType string) ([]*a2a.AgentCard, error) {
	return r.ListAgents(ctx, AgentFilter{TaskType: taskType})
}

// SelectAgent 在已登记的 Agent 中选出合格接收方.
func (r *Registry) SelectAgent(ctx context.Context, required []a2a.Capability, taskType string) (*a2a.AgentCard, error) {
	cards, err := r.ListAgents(ctx, AgentFilter{})
	if err != nil {
		return nil, err
	}
	return a2a.SelectAgent(cards, required, taskType)
}

// Discover 抓取 baseURL 处的代理卡并登记.
func (r *Registry) Discover(ctx context.Context, baseURL string) (*a2a.AgentCard, error) {
	card, err := r.fetcher.Fetch(ctx, baseURL)
	if err != nil {
		r.logger.Warn("agent discovery failed", zap.String("url", baseURL), zap.Error(err))
		return nil, err
	}
	if err := r.register(ctx, card, baseURL); err != nil {
		return nil, err
	}
	return card, nil
}

// DiscoverAll 并发发现多个地址. 单个地址失败不影响其他地址, 返回成功的卡片与合并后的错误.
func (r *Registry) DiscoverAll(ctx context.Context, urls []string) ([]*a2a.AgentCard, error) {
	cards := make([]*a2a.AgentCard, len(urls))
	errs := make([]error, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	if r.config.DiscoveryConcurrency > 0 {
		g.SetLimit(r.config.DiscoveryConcurrency)
	}
	for i, url := range urls {
		g.Go(func() error {
			card, err := r.Discover(gctx, url)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", url, err)
				return nil
			}
			cards[i] = card
			return nil
		})
	}
	_ = g.Wait()

	found := make([]*a2a.AgentCard, 0, len(urls))
	for _, card := range cards {
		if card != nil {
			found = append(found, card)
		}
	}
	return found, errors.Join(errs...)
}

// Refresh 重新抓取所有远端 Agent 的代理卡, 返回刷新成功的数量.
func (r *Registry) Refresh(ctx context.Context) (int, error) {
	records, err := r.store.ListAgents(ctx)
	if err != nil {
		return 0, types.NewError(types.ErrInternalError, "list agents").WithCause(err)
	}
	var urls []string
	for _, record := range records {
		if record.SourceURL == "" {
			continue
		}
		r.fetcher.Invalidate(record.SourceURL)
		urls = append(urls, record.SourceURL)
	}
	cards, err := r.DiscoverAll(ctx, urls)
	r.logger.Info("agent registry refreshed",
		zap.Int("remote", len(urls)),
		zap.Int("refreshed", len(cards)),
	)
	return len(cards), err
}

// CleanupStale 移除超过 maxAge 未刷新的远端 Agent, maxAge <= 0 时使用配置值. 本地注册的 Agent 不受影响.
func (r *Registry) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = r.config.StaleAfter
	}
	records, err := r.store.ListAgents(ctx)
	if err != nil {
		return 0, types.NewError(types.ErrInternalError, "list agents").WithCause(err)
	}

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for _, record := range records {
		if record.SourceURL == "" || !record.LastSeen.Before(cutoff) {
			continue
		}
		if err := r.Unregister(ctx, record.ID()); err != nil && !types.IsCode(err, types.ErrAgentNotFound) {
			return removed, err
		}
		r.fetcher.Invalidate(record.SourceURL)
		removed++
	}
	if removed > 0 {
		r.logger.Info("stale agents removed", zap.Int("count", removed), zap.Duration("max_age", maxAge))
	}
	return removed, nil
}

func (r *Registry) mapStoreErr(agentID string, err error) error {
	if errors.Is(err, ErrAgentNotFound) {
		return types.Errorf(types.ErrAgentNotFound, "agent %s not found", agentID).
			WithDetail("agent_id", agentID)
	}
	return types.Errorf(types.ErrInternalError, "agent store failure for %s", agentID).WithCause(err)
}
