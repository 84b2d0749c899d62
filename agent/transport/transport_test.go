package transport

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/types"
)

func TestHTTPTransport_Send(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, MessagesPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a2a.NewAck("m-1"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(nil, nil, zap.NewNop())
	resp, err := tr.Send(context.Background(), srv.URL+"/", []byte(`{"hello":"world"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"hello":"world"}`, string(gotBody))

	ack, err := a2a.InterpretResponse(resp.StatusCode, resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "m-1", ack.MessageID)
}

func TestHTTPTransport_ErrorStatusIsReturnedAsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"original_message_id":"m-1","error_code":"CAPABILITY_MISMATCH","error_message":"nope"}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPTransport(nil, nil, nil).Send(context.Background(), srv.URL, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	_, err = a2a.InterpretResponse(resp.StatusCode, resp.Body)
	assert.True(t, types.IsCode(err, types.ErrCapabilityMismatch))
	assert.False(t, types.IsRetryable(err))
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = NewHTTPTransport(nil, nil, nil).Send(context.Background(), "http://"+addr, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTransport))
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPTransport_DeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPTransport(nil, nil, nil).Send(ctx, srv.URL, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTimeout))
}

func TestHTTPTransport_InvalidEndpoint(t *testing.T) {
	_, err := NewHTTPTransport(nil, nil, nil).Send(context.Background(), "http://bad host", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTransport))
	assert.False(t, types.IsRetryable(err))
}

func TestLocalTransport(t *testing.T) {
	tr := NewLocalTransport()
	tr.Mount("http://agent-b:8080/", ProcessorFunc(func(ctx context.Context, raw []byte) (*a2a.Ack, error) {
		if PeekSender(raw) == "blocked" {
			return nil, types.NewError(types.ErrRateLimited, "slow down")
		}
		return a2a.NewAck(PeekMessageID(raw)), nil
	}))

	resp, err := tr.Send(context.Background(), "http://agent-b:8080", []byte(`{"message_id":"m-1","from":"a"}`))
	require.NoError(t, err)
	ack, err := a2a.InterpretResponse(resp.StatusCode, resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "m-1", ack.MessageID)

	resp, err = tr.Send(context.Background(), "http://agent-b:8080", []byte(`{"message_id":"m-2","from":"blocked"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var payload a2a.ErrorPayload
	require.NoError(t, json.Unmarshal(resp.Body, &payload))
	assert.Equal(t, "m-2", payload.OriginalMessageID)
	assert.Equal(t, types.ErrRateLimited, payload.ErrorCode)

	_, err = tr.Send(context.Background(), "http://unknown", []byte(`{}`))
	assert.True(t, types.IsCode(err, types.ErrTransport))

	tr.Intercept = func(string, []byte) error { return types.NewError(types.ErrTransport, "link down") }
	_, err = tr.Send(context.Background(), "http://agent-b:8080", []byte(`{}`))
	assert.True(t, types.IsCode(err, types.ErrTransport))
}

func TestEncodeResult_UnknownErrorIsInternal(t *testing.T) {
	status, body := EncodeResult([]byte(`not json`), nil, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	var payload a2a.ErrorPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, types.ErrInternalError, payload.ErrorCode)
	assert.Empty(t, payload.OriginalMessageID)
}
