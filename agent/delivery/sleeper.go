package delivery

import (
	"context"
	"time"
)

// Sleeper 抽象退避等待, 测试中可替换为不真正休眠的实现.
type Sleeper interface {
	// Sleep 等待 d, context 取消时立即返回 ctx.Err()
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc 适配普通函数为 Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
