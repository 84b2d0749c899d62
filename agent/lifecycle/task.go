package lifecycle

import (
	"time"

	"github.com/BaSui01/a2abridge/types"
)

// Task 是被委派的一个工作单元.
//
// State / Progress / Result 只能通过 Engine 的状态转换修改.
type Task struct {
	TaskID        string          `json:"task_id"`
	TaskType      string          `json:"task_type"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Payload       map[string]any  `json:"payload"`
	Priority      types.Priority  `json:"priority"`
	Deadline      *time.Time      `json:"deadline,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	State         types.TaskState `json:"state"`
	AssignedAgent string          `json:"assigned_agent,omitempty"`
	Progress      float64         `json:"progress"`
	Result        map[string]any  `json:"result,omitempty"`
	StatusMessage string          `json:"status_message,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorDetails  map[string]any  `json:"error_details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	AssignedAt    *time.Time      `json:"assigned_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// MetadataExecutionTimeMs 完成时上报的执行耗时保存在 metadata 中的键.
const MetadataExecutionTimeMs = "execution_time_ms"

// Clone 返回任务的深拷贝, 存储与引擎之间只传递副本.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Payload = cloneMap(t.Payload)
	out.Metadata = cloneMap(t.Metadata)
	out.Result = cloneMap(t.Result)
	out.ErrorDetails = cloneMap(t.ErrorDetails)
	out.Deadline = cloneTime(t.Deadline)
	out.AssignedAt = cloneTime(t.AssignedAt)
	out.CompletedAt = cloneTime(t.CompletedAt)
	return &out
}

// NewTask 创建任务时的输入.
type NewTask struct {
	TaskID      string
	TaskType    string
	Title       string
	Description string
	Payload     map[string]any
	Priority    types.Priority
	Deadline    *time.Time
	Metadata    map[string]any
}

// TaskFilter 任务查询条件, 零值字段不参与过滤.
type TaskFilter struct {
	State         types.TaskState
	AssignedAgent string
	TaskType      string
	ActiveOnly    bool
	Limit         int
}

// Match 报告任务是否满足过滤条件.
func (f TaskFilter) Match(t *Task) bool {
	if f.State != "" && t.State != f.State {
		return false
	}
	if f.AssignedAgent != "" && t.AssignedAgent != f.AssignedAgent {
		return false
	}
	if f.TaskType != "" && t.TaskType != f.TaskType {
		return false
	}
	if f.ActiveOnly && t.State.IsTerminal() {
		return false
	}
	return true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
