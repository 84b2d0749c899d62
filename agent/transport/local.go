package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/a2abridge/types"
)

// LocalTransport 在进程内把报文直接交给已挂载的 Processor, 不经过网络.
// 用于同进程内的多个 Agent 以及测试.
type LocalTransport struct {
	mu     sync.RWMutex
	routes map[string]Processor

	// Intercept 在投递前调用, 返回非 nil 错误时模拟传输失败
	Intercept func(endpoint string, envelope []byte) error
}

// NewLocalTransport creates an empty LocalTransport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{routes: make(map[string]Processor)}
}

// Mount 把 endpoint 路由到 p.
func (t *LocalTransport) Mount(endpoint string, p Processor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[normalizeEndpoint(endpoint)] = p
}

// Unmount 移除 endpoint.
func (t *LocalTransport) Unmount(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, normalizeEndpoint(endpoint))
}

// Send implements Transport.
func (t *LocalTransport) Send(ctx context.Context, endpoint string, envelope []byte) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(ctx, endpoint, err)
	}
	if t.Intercept != nil {
		if err := t.Intercept(endpoint, envelope); err != nil {
			return nil, err
		}
	}

	t.mu.RLock()
	p, ok := t.routes[normalizeEndpoint(endpoint)]
	t.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrTransport, "no local route to %s", endpoint)
	}

	// 复制一份, 处理方不能修改发送方的缓冲区
	raw := append([]byte(nil), envelope...)
	ack, err := p.Process(ctx, raw)
	status, body := EncodeResult(raw, ack, err)
	return &Response{StatusCode: status, Body: body}, nil
}

func normalizeEndpoint(endpoint string) string {
	return strings.TrimRight(endpoint, "/")
}
