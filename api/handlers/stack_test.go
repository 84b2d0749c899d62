package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/delivery"
	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/agent/messaging"
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/agent/transport"
	"github.com/BaSui01/a2abridge/testutil/fixtures"
)

// stack 是同进程内的委派方与一个受托方.
type stack struct {
	registry     *discovery.Registry
	transport    *transport.LocalTransport
	orchestrator *messaging.Client
	worker       *messaging.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{
		registry:  discovery.NewRegistry(nil, zap.NewNop()),
		transport: transport.NewLocalTransport(),
	}
	s.orchestrator = s.join(t, "orchestrator", []string{"planning"}, a2a.CapabilityPlanning)
	s.worker = s.join(t, "worker", []string{"research"}, a2a.CapabilityResearch)
	return s
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func (s *stack) join(t *testing.T, id string, tasks []string, caps ...a2a.Capability) *messaging.Client {
	t.Helper()
	card := fixtures.AgentCardWithTasks(id, tasks, caps...)
	require.NoError(t, s.registry.Register(context.Background(), card))

	executor := delivery.NewExecutor(nil, zap.NewNop(), delivery.WithSleeper(delivery.SleeperFunc(noSleep)))
	engine := lifecycle.NewEngine(lifecycle.NewMemoryTaskStore(), zap.NewNop())
	client, err := messaging.NewClient(card, s.registry, engine, s.transport, zap.NewNop(), messaging.WithExecutor(executor))
	require.NoError(t, err)
	s.transport.Mount(card.Endpoint, client)
	return client
}

// do 通过 handler 执行一次请求.
func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, target, reader)
	if reader != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// decodeData 解出 Response.Data.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var resp struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if dst != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, dst))
	}
	return resp.Response
}
