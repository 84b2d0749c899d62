package delivery

import (
	"time"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
)

// Policy 投递重试策略. 所有等待与期限以 Unit 为单位表示.
type Policy struct {
	Unit         time.Duration // 一个时间单位（默认 1s）
	InitialWait  float64       // 首次重试前等待的单位数
	Multiplier   float64       // 每次重试等待的倍增因子
	MaxRetries   int           // 最大重试次数（不含首次尝试）
	MaxTotalWait float64       // 累计等待上限（单位数）

	// AckDeadlines 每种报文单次尝试等待确认的期限（单位数）
	AckDeadlines map[a2a.MessageType]float64

	// FireAndForget 中的报文类型只尝试一次, 失败仅记录日志
	FireAndForget map[a2a.MessageType]bool
}

// DefaultPolicy 返回默认策略: 等待 1, 2, 4 个单位, 最多重试 3 次, 累计等待不超过 15 个单位.
func DefaultPolicy() *Policy {
	return &Policy{
		Unit:         time.Second,
		InitialWait:  1,
		Multiplier:   2,
		MaxRetries:   3,
		MaxTotalWait: 15,
		AckDeadlines: map[a2a.MessageType]float64{
			a2a.MessageTypeTaskAssignment: 30,
			a2a.MessageTypeTaskCompletion: 10,
			a2a.MessageTypePing:           5,
			a2a.MessageTypeError:          10,
			a2a.MessageTypeStatusUpdate:   10,
		},
		FireAndForget: map[a2a.MessageType]bool{
			a2a.MessageTypeStatusUpdate: true,
		},
	}
}

// normalize 补齐缺省字段.
func (p *Policy) normalize() *Policy {
	def := DefaultPolicy()
	out := *p
	if out.Unit <= 0 {
		out.Unit = def.Unit
	}
	if out.InitialWait <= 0 {
		out.InitialWait = def.InitialWait
	}
	if out.Multiplier < 1 {
		out.Multiplier = def.Multiplier
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.MaxTotalWait < 0 {
		out.MaxTotalWait = 0
	}
	if out.AckDeadlines == nil {
		out.AckDeadlines = def.AckDeadlines
	}
	if out.FireAndForget == nil {
		out.FireAndForget = def.FireAndForget
	}
	return &out
}

// Schedule 是纯函数的退避序列生成器, 返回每次重试前的等待单位数.
//
// 序列为 initial, initial*multiplier, ... 最多 maxRetries 项; 一旦下一项会使累计等待
// 超过 maxTotal 即停止, 因此累计等待永远不超过 maxTotal.
func Schedule(initial, multiplier float64, maxRetries int, maxTotal float64) []float64 {
	waits := make([]float64, 0, maxRetries)
	wait, total := initial, 0.0
	for i := 0; i < maxRetries; i++ {
		if total+wait > maxTotal {
			break
		}
		waits = append(waits, wait)
		total += wait
		wait *= multiplier
	}
	return waits
}

// Waits 按策略返回重试等待时长序列.
func (p *Policy) Waits() []time.Duration {
	units := Schedule(p.InitialWait, p.Multiplier, p.MaxRetries, p.MaxTotalWait)
	out := make([]time.Duration, len(units))
	for i, u := range units {
		out[i] = p.units(u)
	}
	return out
}

// AckDeadline 报文单次尝试的确认期限, 未配置时为 0 (只受调用方 context 限制).
func (p *Policy) AckDeadline(mt a2a.MessageType) time.Duration {
	return p.units(p.AckDeadlines[mt])
}

// RequiresAck 报告报文是否需要确认 (非 fire-and-forget).
func (p *Policy) RequiresAck(mt a2a.MessageType) bool {
	return !p.FireAndForget[mt]
}

func (p *Policy) units(u float64) time.Duration {
	return time.Duration(u * float64(p.Unit))
}
