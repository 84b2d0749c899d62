package handlers

import (
	"errors"
	"io"
	"mime"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/transport"
	"github.com/BaSui01/a2abridge/internal/ctxkeys"
	"github.com/BaSui01/a2abridge/types"
)

// maxMessageBytes 单条 A2A 报文的大小上限.
const maxMessageBytes = 1 << 20

// =============================================================================
// 📨 A2A 报文接收 Handler
// =============================================================================

// MessageHandler 处理 POST /a2a/messages.
//
// 成功返回 200 与确认体, 失败返回 error 载荷 {original_message_id, error_code, error_message, details},
// 状态码由错误码决定.
type MessageHandler struct {
	processor transport.Processor
	limiter   *SenderLimiter
	logger    *zap.Logger
}

// NewMessageHandler 创建报文处理器. limiter 为 nil 时不限流.
func NewMessageHandler(processor transport.Processor, limiter *SenderLimiter, logger *zap.Logger) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{
		processor: processor,
		limiter:   limiter,
		logger:    logger.With(zap.String("handler", "a2a_messages")),
	}
}

// ServeHTTP implements http.Handler.
func (h *MessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.reject(w, nil, types.NewError(types.ErrInvalidMessageFormat, "messages must be POSTed").
			WithHTTPStatus(http.StatusMethodNotAllowed))
		return
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		h.reject(w, nil, types.NewError(types.ErrInvalidMessageFormat, "Content-Type must be application/json"))
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		e := types.NewError(types.ErrInvalidMessageFormat, "cannot read message body").WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			e = e.WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		h.reject(w, nil, e)
		return
	}

	if h.limiter != nil {
		key := transport.PeekSender(raw)
		if key == "" {
			key = clientIP(r)
		}
		if !h.limiter.Allow(key) {
			h.logger.Debug("message rate limited", zap.String("sender", key))
			h.reject(w, raw, types.Errorf(types.ErrRateLimited, "sender %s exceeded its message rate", key).
				WithDetail("sender", key))
			return
		}
	}

	ack, err := h.processor.Process(r.Context(), raw)
	if err != nil {
		h.logger.Debug("message rejected", append(ctxkeys.Fields(r.Context()), zap.Error(err))...)
	}
	status, body := transport.EncodeResult(raw, ack, err)
	WriteRawJSON(w, status, body)
}

// reject 写出 error 载荷. 显式设置的 HTTP 状态优先于错误码映射.
func (h *MessageHandler) reject(w http.ResponseWriter, raw []byte, err *types.Error) {
	status, body := transport.EncodeResult(raw, nil, err)
	if err.HTTPStatus != 0 {
		status = err.HTTPStatus
	}
	WriteRawJSON(w, status, body)
}

// clientIP 取请求的对端地址, 不信任转发头.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
