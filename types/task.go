package types

// TaskState 任务生命周期状态（封闭枚举）
type TaskState string

const (
	TaskStateCreated    TaskState = "created"
	TaskStateAssigned   TaskState = "assigned"
	TaskStateInProgress TaskState = "in_progress"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
	TaskStateCancelled  TaskState = "cancelled"
)

// AllTaskStates 按生命周期顺序列出全部状态
func AllTaskStates() []TaskState {
	return []TaskState{
		TaskStateCreated,
		TaskStateAssigned,
		TaskStateInProgress,
		TaskStateCompleted,
		TaskStateFailed,
		TaskStateCancelled,
	}
}

// IsValid 检查状态是否属于枚举
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStateCreated, TaskStateAssigned, TaskStateInProgress,
		TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the state is a terminal state
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// IsActive 在任务已分配但未结束时返回 true，此时 progress 才有意义
func (s TaskState) IsActive() bool {
	return s == TaskStateAssigned || s == TaskStateInProgress
}

func (s TaskState) String() string {
	return string(s)
}

// Priority 任务优先级
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// DefaultPriority 未指定时使用的优先级
const DefaultPriority = PriorityMedium

// IsValid 检查优先级是否属于枚举
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// OrDefault 空值时返回默认优先级
func (p Priority) OrDefault() Priority {
	if p == "" {
		return DefaultPriority
	}
	return p
}
