package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/types"
)

// CardPaths 按顺序尝试的代理卡路径.
var CardPaths = []string{
	"/agent-card.json",
	"/.well-known/agent-card.json",
	"/a2a/agent-card",
}

// maxCardBytes 代理卡响应体上限.
const maxCardBytes = 1 << 20

// FetcherConfig 代理卡抓取配置.
type FetcherConfig struct {
	// Timeout 单次 HTTP 请求超时
	Timeout time.Duration `json:"timeout"`

	// CacheSize 缓存的卡片数量上限
	CacheSize int `json:"cache_size"`

	// CacheTTL 缓存有效期, 0 表示不过期
	CacheTTL time.Duration `json:"cache_ttl"`
}

// DefaultFetcherConfig returns a FetcherConfig with sensible defaults.
func DefaultFetcherConfig() *FetcherConfig {
	return &FetcherConfig{
		Timeout:   5 * time.Second,
		CacheSize: 256,
		CacheTTL:  5 * time.Minute,
	}
}

// CardFetcher 通过 HTTP 抓取远端代理卡, 带过期缓存并合并同一地址的并发请求.
type CardFetcher struct {
	client *http.Client
	cache  *expirable.LRU[string, *a2a.AgentCard]
	group  singleflight.Group
	logger *zap.Logger
}

// NewCardFetcher creates a new CardFetcher. client 为 nil 时使用带超时的默认客户端.
func NewCardFetcher(config *FetcherConfig, client *http.Client, logger *zap.Logger) *CardFetcher {
	if config == nil {
		config = DefaultFetcherConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	size := config.CacheSize
	if size <= 0 {
		size = DefaultFetcherConfig().CacheSize
	}
	return &CardFetcher{
		client: client,
		cache:  expirable.NewLRU[string, *a2a.AgentCard](size, nil, config.CacheTTL),
		logger: logger.With(zap.String("component", "card_fetcher")),
	}
}

// Fetch 返回 baseURL 处的代理卡. 命中缓存时不发请求.
func (f *CardFetcher) Fetch(ctx context.Context, baseURL string) (*a2a.AgentCard, error) {
	key := strings.TrimRight(baseURL, "/")
	if card, ok := f.cache.Get(key); ok {
		return card.Clone(), nil
	}

	v, err, shared := f.group.Do(key, func() (interface{}, error) {
		card, err := f.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		f.cache.Add(key, card)
		return card, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		f.logger.Debug("card fetch shared", zap.String("url", key))
	}
	return v.(*a2a.AgentCard).Clone(), nil
}

// Invalidate 移除 baseURL 的缓存.
func (f *CardFetcher) Invalidate(baseURL string) {
	f.cache.Remove(strings.TrimRight(baseURL, "/"))
}

// Purge 清空缓存.
func (f *CardFetcher) Purge() {
	f.cache.Purge()
}

func (f *CardFetcher) fetch(ctx context.Context, baseURL string) (*a2a.AgentCard, error) {
	var errs []error
	for _, path := range CardPaths {
		card, err := f.fetchPath(ctx, baseURL+path)
		if err == nil {
			f.logger.Debug("agent card fetched",
				zap.String("url", baseURL+path),
				zap.String("agent_id", card.ID),
			)
			return card, nil
		}
		// 卡片内容非法时不再尝试其他路径
		if types.IsCode(err, types.ErrInvalidAgentCard) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch agent card from %s: %w", baseURL, ctx.Err())
		}
		errs = append(errs, err)
	}
	return nil, types.Errorf(types.ErrAgentNotFound, "no agent card found at %s", baseURL).
		WithCause(errors.Join(errs...)).
		WithDetail("url", baseURL)
}

func (f *CardFetcher) fetchPath(ctx context.Context, url string) (*a2a.AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCardBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return a2a.ParseAgentCard(body)
}
