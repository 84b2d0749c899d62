package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/types"
)

// MessagesPath 接收报文的 HTTP 路径.
const MessagesPath = "/a2a/messages"

// Response 对端返回的原始响应.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport 把编码后的报文送达对端. 网络层失败返回 TRANSPORT_ERROR 或 TIMEOUT,
// 对端返回的任何 HTTP 状态都作为 Response 返回, 由调用方解释.
type Transport interface {
	Send(ctx context.Context, endpoint string, envelope []byte) (*Response, error)
}

// Processor 处理一条入站报文, 成功时返回确认.
type Processor interface {
	Process(ctx context.Context, raw []byte) (*a2a.Ack, error)
}

// ProcessorFunc 适配普通函数为 Processor.
type ProcessorFunc func(ctx context.Context, raw []byte) (*a2a.Ack, error)

func (f ProcessorFunc) Process(ctx context.Context, raw []byte) (*a2a.Ack, error) { return f(ctx, raw) }

// EncodeResult 把处理结果编码为 HTTP 状态与响应体.
// 失败时响应体为 error 消息的载荷 {original_message_id, error_code, error_message, details}.
func EncodeResult(raw []byte, ack *a2a.Ack, err error) (int, []byte) {
	if err == nil {
		body, mErr := json.Marshal(ack)
		if mErr != nil {
			return EncodeResult(raw, nil, types.NewError(types.ErrInternalError, "encode acknowledgment").WithCause(mErr))
		}
		return http.StatusOK, body
	}
	payload := a2a.NewErrorResponse(PeekMessageID(raw), err)
	body, mErr := json.Marshal(payload)
	if mErr != nil {
		return http.StatusInternalServerError, []byte(`{"error_code":"INTERNAL_ERROR","error_message":"encode error response"}`)
	}
	return payload.StatusCode(), body
}

// envelopeHeader 只解析信封中用于路由与限流的字段.
type envelopeHeader struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
}

// PeekMessageID 尽力读取原始报文的 message_id, 解析失败时返回空串.
func PeekMessageID(raw []byte) string {
	var h envelopeHeader
	if json.Unmarshal(raw, &h) != nil {
		return ""
	}
	return h.MessageID
}

// PeekSender 尽力读取原始报文的 from.
func PeekSender(raw []byte) string {
	var h envelopeHeader
	if json.Unmarshal(raw, &h) != nil {
		return ""
	}
	return h.From
}
