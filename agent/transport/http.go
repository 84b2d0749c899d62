package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/internal/tlsutil"
	"github.com/BaSui01/a2abridge/types"
)

// maxResponseBytes 响应体读取上限.
const maxResponseBytes = 4 << 20

// HTTPConfig HTTP 传输配置.
type HTTPConfig struct {
	// DialTimeout 建立 TCP 连接的超时
	DialTimeout time.Duration `json:"dial_timeout"`

	// MaxIdleConnsPerHost 每个对端保留的空闲连接
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`

	// UserAgent 请求头
	UserAgent string `json:"user_agent"`
}

// DefaultHTTPConfig returns an HTTPConfig with sensible defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		DialTimeout:         5 * time.Second,
		MaxIdleConnsPerHost: 16,
		UserAgent:           "a2abridge/1.0",
	}
}

// HTTPTransport 通过 POST {endpoint}/a2a/messages 投递报文.
// 整体超时由调用方 context 控制 (delivery 为每次尝试设置确认期限).
type HTTPTransport struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewHTTPTransport creates a new HTTPTransport. client 为 nil 时按配置创建.
func NewHTTPTransport(config *HTTPConfig, client *http.Client, logger *zap.Logger) *HTTPTransport {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{
			Transport: tlsutil.SecureTransport(config.DialTimeout, config.MaxIdleConnsPerHost),
		}
	}
	return &HTTPTransport{
		client:    client,
		userAgent: config.UserAgent,
		logger:    logger.With(zap.String("component", "http_transport")),
	}
}

// MessagesURL 返回 endpoint 的报文接收地址.
func MessagesURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + MessagesPath
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, envelope []byte) (*Response, error) {
	url := MessagesURL(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return nil, types.Errorf(types.ErrTransport, "invalid endpoint %q", endpoint).WithCause(err).WithRetryable(false)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, url, fmt.Errorf("read response: %w", err))
	}

	t.logger.Debug("message sent",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func transportError(ctx context.Context, url string, err error) *types.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return types.Errorf(types.ErrTimeout, "no response from %s before deadline", url).WithCause(err)
	}
	return types.Errorf(types.ErrTransport, "cannot reach %s", url).WithCause(err)
}
