package delivery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/types"
)

// 投递结果, 作为指标标签.
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultExhausted = "exhausted"
	ResultCancelled = "cancelled"
	ResultDropped   = "dropped"
)

// Observer 接收投递过程的统计回调.
type Observer interface {
	// ObserveAttempt 每次尝试结束后调用, 成功时 code 为空
	ObserveAttempt(messageType string, code string)
	// ObserveRetryWait 每次退避等待前调用
	ObserveRetryWait(messageType string, wait time.Duration)
	// ObserveDelivery 整个投递结束后调用
	ObserveDelivery(messageType string, result string, attempts int)
}

// Outcome 一次投递的结果与过程.
type Outcome[T any] struct {
	Value     T
	Attempts  int
	Waits     []time.Duration
	TotalWait time.Duration

	// Dropped 为 fire-and-forget 报文投递失败时记录的错误, 不会作为返回错误上报
	Dropped error
}

// Retries 已经执行的重试次数.
func (o *Outcome[T]) Retries() int {
	if o.Attempts == 0 {
		return 0
	}
	return o.Attempts - 1
}

// Executor 按策略执行带退避与确认期限的投递. Executor 本身无可变状态, 可并发使用.
type Executor struct {
	policy   *Policy
	waits    []time.Duration
	sleeper  Sleeper
	observer Observer
	logger   *zap.Logger
}

// Option 配置 Executor.
type Option func(*Executor)

// WithSleeper 替换退避等待实现.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) { e.sleeper = s }
}

// WithObserver 设置统计回调.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// NewExecutor 创建投递执行器, policy 为 nil 时使用 DefaultPolicy.
func NewExecutor(policy *Policy, logger *zap.Logger, opts ...Option) *Executor {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := policy.normalize()
	e := &Executor{
		policy:  p,
		waits:   p.Waits(),
		sleeper: timerSleeper{},
		logger:  logger.With(zap.String("component", "delivery")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy 返回生效的策略副本.
func (e *Executor) Policy() Policy {
	return *e.policy
}

// Action 单次投递尝试. ctx 带有该报文类型的确认期限.
type Action[T any] func(ctx context.Context) (T, error)

// Deliver 执行投递.
//
// 可重试错误 (TIMEOUT / INTERNAL_ERROR / TRANSPORT_ERROR / RATE_LIMITED) 按退避序列重试,
// 预算耗尽返回 *ExhaustedError; 其余错误立即返回. 调用方取消 ctx 时立刻停止, 不再发起尝试.
// fire-and-forget 报文只尝试一次, 失败记录在 Outcome.Dropped 中, 返回 nil 错误.
func Deliver[T any](ctx context.Context, e *Executor, mt a2a.MessageType, action Action[T]) (*Outcome[T], error) {
	out := &Outcome[T]{}
	if !e.policy.RequiresAck(mt) {
		return fireAndForget(ctx, e, mt, action, out)
	}

	var lastErr *types.Error
	for n := 0; ; n++ {
		if n > 0 {
			wait := e.waits[n-1]
			e.logger.Info("retrying delivery",
				zap.String("message_type", string(mt)),
				zap.Int("retry", n),
				zap.Int("max_retries", len(e.waits)),
				zap.Duration("wait", wait),
				zap.String("last_error_code", string(lastErr.Code)),
			)
			if e.observer != nil {
				e.observer.ObserveRetryWait(string(mt), wait)
			}
			if err := e.sleeper.Sleep(ctx, wait); err != nil {
				return out, e.cancelled(mt, out.Attempts, err)
			}
			out.Waits = append(out.Waits, wait)
			out.TotalWait += wait
		}

		if err := ctx.Err(); err != nil {
			return out, e.cancelled(mt, out.Attempts, err)
		}

		value, err := attempt(ctx, e, mt, action)
		out.Attempts++
		if err == nil {
			e.observeAttempt(mt, "")
			out.Value = value
			if n > 0 {
				e.logger.Info("delivery succeeded after retry",
					zap.String("message_type", string(mt)),
					zap.Int("attempts", out.Attempts),
					zap.Duration("total_wait", out.TotalWait),
				)
			}
			e.observeDelivery(mt, ResultSuccess, out.Attempts)
			return out, nil
		}

		// 调用方取消优先于任何错误分类
		if cerr := ctx.Err(); cerr != nil {
			return out, e.cancelled(mt, out.Attempts, cerr)
		}

		lastErr = err
		e.observeAttempt(mt, string(err.Code))
		if !err.Retryable {
			e.logger.Debug("delivery failed with non-retryable error",
				zap.String("message_type", string(mt)),
				zap.Error(err),
			)
			e.observeDelivery(mt, ResultFailed, out.Attempts)
			return out, err
		}
		if n >= len(e.waits) {
			break
		}
	}

	e.logger.Warn("delivery retries exhausted",
		zap.String("message_type", string(mt)),
		zap.Int("attempts", out.Attempts),
		zap.Duration("total_wait", out.TotalWait),
		zap.Error(lastErr),
	)
	e.observeDelivery(mt, ResultExhausted, out.Attempts)
	return out, &ExhaustedError{
		MessageType: mt,
		Attempts:    out.Attempts,
		TotalWait:   out.TotalWait,
		Last:        lastErr,
	}
}

// attempt 执行一次带确认期限的尝试, 并归一化错误.
func attempt[T any](ctx context.Context, e *Executor, mt a2a.MessageType, action Action[T]) (T, *types.Error) {
	deadline := e.policy.AckDeadline(mt)
	actx, cancel := ctx, context.CancelFunc(func() {})
	if deadline > 0 {
		actx, cancel = context.WithTimeout(ctx, deadline)
	}
	defer cancel()

	value, err := action(actx)
	if err == nil {
		return value, nil
	}
	var zero T
	return zero, Classify(actx, mt, deadline, err)
}

func fireAndForget[T any](ctx context.Context, e *Executor, mt a2a.MessageType, action Action[T], out *Outcome[T]) (*Outcome[T], error) {
	value, err := attempt(ctx, e, mt, action)
	out.Attempts = 1
	if err != nil {
		e.observeAttempt(mt, string(err.Code))
		e.logger.Warn("fire-and-forget delivery failed",
			zap.String("message_type", string(mt)),
			zap.Error(err),
		)
		out.Dropped = err
		e.observeDelivery(mt, ResultDropped, 1)
		return out, nil
	}
	e.observeAttempt(mt, "")
	out.Value = value
	e.observeDelivery(mt, ResultSuccess, 1)
	return out, nil
}

func (e *Executor) cancelled(mt a2a.MessageType, attempts int, cause error) error {
	e.logger.Debug("delivery cancelled by caller",
		zap.String("message_type", string(mt)),
		zap.Int("attempts", attempts),
	)
	e.observeDelivery(mt, ResultCancelled, attempts)
	return fmt.Errorf("delivery of %s cancelled: %w", mt, cause)
}

func (e *Executor) observeAttempt(mt a2a.MessageType, code string) {
	if e.observer != nil {
		e.observer.ObserveAttempt(string(mt), code)
	}
}

func (e *Executor) observeDelivery(mt a2a.MessageType, result string, attempts int) {
	if e.observer != nil {
		e.observer.ObserveDelivery(string(mt), result, attempts)
	}
}
