package a2a

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BaSui01/a2abridge/types"
)

// AckStatusSuccess 成功响应的 status 字段取值.
const AckStatusSuccess = "success"

// Ack 接收方对一条报文的确认 (HTTP 200 响应体).
// ping 的确认额外携带 nonce 与 echo.
type Ack struct {
	Status      string    `json:"status"`
	MessageID   string    `json:"message_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Nonce       string    `json:"nonce,omitempty"`
	Echo        any       `json:"echo,omitempty"`
}

// NewAck 为已处理的报文创建确认.
func NewAck(messageID string) *Ack {
	return &Ack{
		Status:      AckStatusSuccess,
		MessageID:   messageID,
		ProcessedAt: time.Now().UTC(),
	}
}

// NewErrorResponse 将错误转换为协议错误响应体, 非 *types.Error 一律视为 INTERNAL_ERROR.
func NewErrorResponse(originalMessageID string, err error) *ErrorPayload {
	e, ok := types.AsError(err)
	if !ok || !e.Code.IsValid() {
		msg := "internal error"
		if err != nil {
			msg = err.Error()
		}
		return &ErrorPayload{
			OriginalMessageID: originalMessageID,
			ErrorCode:         types.ErrInternalError,
			ErrorMessage:      msg,
		}
	}
	resp := &ErrorPayload{
		OriginalMessageID: originalMessageID,
		ErrorCode:         e.Code,
		ErrorMessage:      e.Message,
	}
	if len(e.Details) > 0 {
		resp.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			resp.Details[k] = v
		}
	}
	return resp
}

// Err 将错误响应体还原为 *types.Error.
func (p *ErrorPayload) Err() *types.Error {
	e := types.NewError(p.ErrorCode, p.ErrorMessage)
	for k, v := range p.Details {
		e.WithDetail(k, v)
	}
	if p.OriginalMessageID != "" {
		e.WithDetail("original_message_id", p.OriginalMessageID)
	}
	return e
}

// StatusCode 错误响应对应的 HTTP 状态码.
func (p *ErrorPayload) StatusCode() int {
	return types.HTTPStatusFor(p.ErrorCode)
}

// InterpretResponse 将原始 HTTP 响应解释为确认或协议错误.
//
// 错误响应体中的 error_code 优先, 缺失或非法时按状态码推断.
func InterpretResponse(status int, body []byte) (*Ack, error) {
	if status >= 200 && status < 300 {
		var ack Ack
		if err := json.Unmarshal(body, &ack); err != nil {
			return nil, types.NewError(types.ErrProtocolViolation, "acknowledgment body is not valid JSON").
				WithCause(err).
				WithDetail("status", status)
		}
		if ack.Status != AckStatusSuccess {
			return nil, types.Errorf(types.ErrProtocolViolation, "unexpected acknowledgment status %q", ack.Status).
				WithDetail("status", status)
		}
		return &ack, nil
	}

	var payload ErrorPayload
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorCode.IsValid() {
		e := payload.Err()
		return nil, e.WithDetail("status", status)
	}
	code := codeForStatus(status)
	return nil, types.Errorf(code, "peer responded with HTTP %d", status).WithDetail("status", status)
}

func codeForStatus(status int) types.ErrorCode {
	switch {
	case status == http.StatusBadRequest:
		return types.ErrInvalidMessageFormat
	case status == http.StatusNotFound:
		return types.ErrAgentNotFound
	case status == http.StatusTooManyRequests:
		return types.ErrRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return types.ErrTimeout
	case status >= 500:
		return types.ErrInternalError
	default:
		return types.ErrProtocolViolation
	}
}
