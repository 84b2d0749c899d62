package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/a2abridge/types"
)

func genEvent() *rapid.Generator[Event] {
	return rapid.Custom(func(t *rapid.T) Event {
		switch rapid.IntRange(0, 5).Draw(t, "kind") {
		case 0:
			return Event{Type: EventAssign, Agent: rapid.SampledFrom([]string{"agent-a", "agent-b"}).Draw(t, "agent")}
		case 1:
			p := rapid.Float64Range(0, 1).Draw(t, "progress")
			return Event{Type: EventUpdate, Progress: &p}
		case 2:
			return Event{Type: EventComplete, Result: map[string]any{"ok": true}}
		case 3:
			return Event{Type: EventFail, Error: "boom"}
		case 4:
			return Event{Type: EventCancel, Reason: "stop"}
		default:
			return Event{Type: EventReport, Target: rapid.SampledFrom(types.AllTaskStates()).Draw(t, "target")}
		}
	})
}

// 任意事件序列下: 状态始终属于六个枚举值, 进入终态后不再离开,
// in_progress 期间进度单调不减, 被拒绝的事件不改变任务.
func TestProperty_StateMachineInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		e := NewEngine(NewMemoryTaskStore(), nil, WithClock(newFakeClock().Now))
		_, err := e.Create(ctx, NewTask{TaskID: "T", TaskType: "research", Title: "x"})
		require.NoError(rt, err)

		events := rapid.SliceOfN(genEvent(), 1, 30).Draw(rt, "events")
		for _, ev := range events {
			before, err := e.Get(ctx, "T")
			require.NoError(rt, err)

			after, applied, err := e.Apply(ctx, "T", ev)
			current, gerr := e.Get(ctx, "T")
			require.NoError(rt, gerr)

			if !current.State.IsValid() {
				rt.Fatalf("unknown state %q", current.State)
			}
			if before.State.IsTerminal() && current.State != before.State {
				rt.Fatalf("left terminal state %s to %s", before.State, current.State)
			}
			if err != nil || !applied {
				require.Equal(rt, before, current, "rejected or duplicate event must not change the task")
				continue
			}
			require.Equal(rt, current, after)
			if before.State == types.TaskStateInProgress && current.State == types.TaskStateInProgress &&
				current.Progress < before.Progress {
				rt.Fatalf("progress regressed from %v to %v", before.Progress, current.Progress)
			}
			if _, ok := Allowed(before.State, ev.Type); !ok {
				rt.Fatalf("applied %s from %s which the table forbids", ev.Type, before.State)
			}
			if (current.Result != nil) != (current.State == types.TaskStateCompleted) {
				rt.Fatalf("result presence does not match state %s", current.State)
			}
		}
	})
}

// 重复应用同一个已生效的事件是幂等的.
func TestProperty_ReapplicationIsNoop(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		e := NewEngine(NewMemoryTaskStore(), nil, WithClock(newFakeClock().Now))
		_, err := e.Create(ctx, NewTask{TaskID: "T", TaskType: "research", Title: "x"})
		require.NoError(rt, err)

		for _, ev := range rapid.SliceOfN(genEvent(), 1, 20).Draw(rt, "events") {
			_, applied, err := e.Apply(ctx, "T", ev)
			if err != nil || !applied {
				continue
			}
			first, err := e.Get(ctx, "T")
			require.NoError(rt, err)

			_, again, err := e.Apply(ctx, "T", ev)
			require.NoError(rt, err)
			require.False(rt, again)

			second, err := e.Get(ctx, "T")
			require.NoError(rt, err)
			require.Equal(rt, first, second)
		}
	})
}
