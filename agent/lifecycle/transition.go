package lifecycle

import (
	"time"

	"github.com/BaSui01/a2abridge/types"
)

// EventType 驱动状态转换的事件.
type EventType string

const (
	EventAssign   EventType = "assign"
	EventUpdate   EventType = "update"
	EventComplete EventType = "complete"
	EventFail     EventType = "fail"
	EventCancel   EventType = "cancel"
	// EventReport 对端重申任务处于某个状态 (例如重复投递的 status_update).
	// 只有与当前状态一致时才被接受, 且不产生任何修改.
	EventReport EventType = "report"
)

// Event 一次状态转换请求.
type Event struct {
	Type EventType

	Agent           string          // assign
	Progress        *float64        // update
	Message         string          // update 的状态描述
	Result          map[string]any  // complete
	ExecutionTimeMs *int64          // complete
	Error           string          // fail
	ErrorDetails    map[string]any  // fail
	Reason          string          // cancel
	Target          types.TaskState // report
	Metadata        map[string]any
}

// transitions 是完整的状态转换表: 当前状态 -> 事件 -> 目标状态.
// 终态没有任何出边.
var transitions = map[types.TaskState]map[EventType]types.TaskState{
	types.TaskStateCreated: {
		EventAssign: types.TaskStateAssigned,
		EventCancel: types.TaskStateCancelled,
	},
	types.TaskStateAssigned: {
		EventUpdate:   types.TaskStateInProgress,
		EventComplete: types.TaskStateCompleted,
		EventFail:     types.TaskStateFailed,
		EventCancel:   types.TaskStateCancelled,
	},
	types.TaskStateInProgress: {
		EventUpdate:   types.TaskStateInProgress,
		EventComplete: types.TaskStateCompleted,
		EventFail:     types.TaskStateFailed,
		EventCancel:   types.TaskStateCancelled,
	},
	types.TaskStateCompleted: {},
	types.TaskStateFailed:    {},
	types.TaskStateCancelled: {},
}

// eventTargets 每种事件的目标状态.
var eventTargets = map[EventType]types.TaskState{
	EventAssign:   types.TaskStateAssigned,
	EventUpdate:   types.TaskStateInProgress,
	EventComplete: types.TaskStateCompleted,
	EventFail:     types.TaskStateFailed,
	EventCancel:   types.TaskStateCancelled,
}

// Allowed 按转换表报告事件在给定状态下是否合法.
func Allowed(from types.TaskState, ev EventType) (types.TaskState, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

// target 事件期望达到的状态.
func (ev Event) target() (types.TaskState, bool) {
	if ev.Type == EventReport {
		return ev.Target, ev.Target.IsValid()
	}
	to, ok := eventTargets[ev.Type]
	return to, ok
}

// transition 是唯一修改任务状态的函数. 返回 applied=false 表示幂等的重复应用,
// 此时任务没有被修改, 调用方不应保存.
func transition(task *Task, ev Event, now time.Time) (applied bool, err error) {
	to, ok := ev.target()
	if !ok {
		return false, illegal(task, ev, "unknown event")
	}

	if task.State == to && isReapplication(task, ev) {
		return false, nil
	}
	if task.State.IsTerminal() {
		return false, types.Errorf(types.ErrTaskNotTransitionable,
			"task %s is %s and accepts no further transitions", task.TaskID, task.State).
			WithDetail("task_id", task.TaskID).
			WithDetail("state", string(task.State)).
			WithDetail("event", string(ev.Type))
	}

	next, ok := Allowed(task.State, ev.Type)
	if !ok {
		return false, illegal(task, ev, "")
	}

	switch ev.Type {
	case EventAssign:
		if ev.Agent == "" {
			return false, illegal(task, ev, "agent is required")
		}
		task.AssignedAgent = ev.Agent
		task.AssignedAt = &now
		task.Progress = 0

	case EventUpdate:
		if ev.Progress != nil {
			if task.State == types.TaskStateInProgress && *ev.Progress < task.Progress {
				return false, types.Errorf(types.ErrProgressRegression,
					"progress of task %s cannot go from %.4f back to %.4f", task.TaskID, task.Progress, *ev.Progress).
					WithDetail("task_id", task.TaskID).
					WithDetail("current", task.Progress).
					WithDetail("reported", *ev.Progress)
			}
			task.Progress = *ev.Progress
		}
		if ev.Message != "" {
			task.StatusMessage = ev.Message
		}

	case EventComplete:
		task.Result = cloneMap(ev.Result)
		if task.Result == nil {
			task.Result = map[string]any{}
		}
		task.Progress = 1
		task.CompletedAt = &now
		if ev.ExecutionTimeMs != nil {
			if task.Metadata == nil {
				task.Metadata = make(map[string]any)
			}
			task.Metadata[MetadataExecutionTimeMs] = *ev.ExecutionTimeMs
		}

	case EventFail:
		task.Error = ev.Error
		task.ErrorDetails = cloneMap(ev.ErrorDetails)
		task.CompletedAt = &now

	case EventCancel:
		task.StatusMessage = "Cancelled"
		if ev.Reason != "" {
			task.StatusMessage = "Cancelled: " + ev.Reason
		}
		task.CompletedAt = &now
	}

	for k, v := range ev.Metadata {
		if task.Metadata == nil {
			task.Metadata = make(map[string]any)
		}
		task.Metadata[k] = cloneValue(v)
	}
	task.State = next
	task.UpdatedAt = now
	return true, nil
}

// isReapplication 判断事件是否只是重复了已经生效的转换.
func isReapplication(task *Task, ev Event) bool {
	switch ev.Type {
	case EventAssign:
		return ev.Agent == task.AssignedAgent
	case EventUpdate:
		progressSame := ev.Progress == nil || *ev.Progress == task.Progress
		messageSame := ev.Message == "" || ev.Message == task.StatusMessage
		return progressSame && messageSame
	default:
		// 终态与 report 只看目标状态
		return true
	}
}

func illegal(task *Task, ev Event, reason string) *types.Error {
	msg := "cannot apply " + string(ev.Type) + " to task " + task.TaskID + " in state " + string(task.State)
	if reason != "" {
		msg += ": " + reason
	}
	return types.NewError(types.ErrIllegalTransition, msg).
		WithDetail("task_id", task.TaskID).
		WithDetail("state", string(task.State)).
		WithDetail("event", string(ev.Type))
}
