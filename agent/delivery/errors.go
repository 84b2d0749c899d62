package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/types"
)

// ExhaustedError 重试预算耗尽, 包装最后一次失败.
type ExhaustedError struct {
	MessageType a2a.MessageType
	Attempts    int
	TotalWait   time.Duration
	Last        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("delivery of %s exhausted after %d attempts (waited %s): %v",
		e.MessageType, e.Attempts, e.TotalWait, e.Last)
}

// Unwrap 返回最后一次失败, errors.As 可以取到其中的 *types.Error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Code 返回 RETRY_EXHAUSTED.
func (e *ExhaustedError) Code() types.ErrorCode {
	return types.ErrRetryExhausted
}

// AsExhausted 从错误链中取出 ExhaustedError.
func AsExhausted(err error) (*ExhaustedError, bool) {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}

// Classify 将任意错误归一化为 *types.Error.
//
// attemptCtx 是单次尝试的 context: 它超时而父 context 仍存活时视为 TIMEOUT (可重试).
// 网络层错误归为 TRANSPORT_ERROR, 其他未识别错误归为 INTERNAL_ERROR.
func Classify(attemptCtx context.Context, mt a2a.MessageType, deadline time.Duration, err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || (attemptCtx != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)) {
		return types.Errorf(types.ErrTimeout, "no acknowledgment for %s within %s", mt, deadline).WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.Errorf(types.ErrTimeout, "network timeout delivering %s", mt).WithCause(err)
		}
		return types.Errorf(types.ErrTransport, "transport failure delivering %s", mt).WithCause(err)
	}
	return types.Errorf(types.ErrInternalError, "delivering %s failed", mt).WithCause(err)
}
