// MockTransport 的传输层测试模拟实现。
//
// 支持按顺序编排响应与错误注入, 编排用尽后交给下游 Transport 处理.
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/a2abridge/agent/transport"
	"github.com/BaSui01/a2abridge/types"
)

// --- MockTransport 结构 ---

// MockTransportCall 记录单次发送
type MockTransportCall struct {
	Endpoint string
	Envelope []byte
	Response *transport.Response
	Error    error
}

type scripted struct {
	resp *transport.Response
	err  error
}

// MockTransport 是 transport.Transport 的模拟实现
type MockTransport struct {
	mu     sync.Mutex
	next   transport.Transport
	script []scripted
	calls  []MockTransportCall
}

var _ transport.Transport = (*MockTransport)(nil)

// NewMockTransport 创建 MockTransport. next 为 nil 时编排用尽后返回 TRANSPORT_ERROR.
func NewMockTransport(next transport.Transport) *MockTransport {
	return &MockTransport{next: next}
}

// --- Builder 方法 ---

// Respond 追加编排的响应
func (m *MockTransport) Respond(responses ...*transport.Response) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range responses {
		m.script = append(m.script, scripted{resp: r})
	}
	return m
}

// Fail 追加编排的错误
func (m *MockTransport) Fail(errs ...error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, err := range errs {
		m.script = append(m.script, scripted{err: err})
	}
	return m
}

// --- Transport 实现 ---

// Send 优先返回编排的结果, 否则交给下游
func (m *MockTransport) Send(ctx context.Context, endpoint string, envelope []byte) (*transport.Response, error) {
	m.mu.Lock()
	var step *scripted
	if len(m.script) > 0 {
		step = &m.script[0]
		m.script = m.script[1:]
	}
	next := m.next
	m.mu.Unlock()

	var (
		resp *transport.Response
		err  error
	)
	switch {
	case step != nil:
		resp, err = step.resp, step.err
	case next != nil:
		resp, err = next.Send(ctx, endpoint, envelope)
	default:
		err = types.Errorf(types.ErrTransport, "no response scripted for %s", endpoint)
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockTransportCall{
		Endpoint: endpoint,
		Envelope: append([]byte(nil), envelope...),
		Response: resp,
		Error:    err,
	})
	m.mu.Unlock()
	return resp, err
}

// --- 调用记录 ---

// Calls 返回所有调用记录
func (m *MockTransport) Calls() []MockTransportCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockTransportCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockTransport) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
