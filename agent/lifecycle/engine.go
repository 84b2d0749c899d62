package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/types"
)

// Outcome 一次转换请求的结果.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeRejected Outcome = "rejected"
)

// Observer 接收状态转换通知, 用于指标采集.
type Observer interface {
	ObserveTransition(event EventType, from, to types.TaskState, outcome Outcome)
}

// Engine 任务生命周期引擎. 同一任务的转换串行执行, 不同任务互不阻塞.
type Engine struct {
	store    TaskStore
	locks    *keyedMutex
	now      func() time.Time
	observer Observer
	logger   *zap.Logger
}

// Option 配置 Engine.
type Option func(*Engine)

// WithClock 替换时钟, 主要用于测试.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver 设置转换观察者.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine 创建生命周期引擎.
func NewEngine(store TaskStore, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:  store,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(zap.String("component", "lifecycle")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create 创建处于 created 状态的任务. 未指定 TaskID 时生成 UUID.
func (e *Engine) Create(ctx context.Context, spec NewTask) (*Task, error) {
	task, err := e.newTask(spec)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(task.TaskID)
	defer unlock()

	if _, err := e.store.LoadTask(ctx, task.TaskID); err == nil {
		return nil, types.Errorf(types.ErrIllegalTransition, "task %s already exists", task.TaskID).
			WithDetail("task_id", task.TaskID)
	} else if !errors.Is(err, ErrTaskNotFound) {
		return nil, storageError("load", task.TaskID, err)
	}

	if err := e.store.SaveTask(ctx, task); err != nil {
		return nil, storageError("save", task.TaskID, err)
	}
	e.logger.Debug("task created",
		zap.String("task_id", task.TaskID),
		zap.String("task_type", task.TaskType),
	)
	return task.Clone(), nil
}

// Accept 记录一个由对端分配给 agentID 的任务 (入站 task_assignment).
// 任务不存在时创建并直接转换到 assigned; 重复投递同一分配是幂等的.
func (e *Engine) Accept(ctx context.Context, spec NewTask, agentID string) (*Task, bool, error) {
	if spec.TaskID == "" {
		return nil, false, types.NewError(types.ErrPayloadValidationFailed, "task_id is required").
			WithDetail("field", "task_id")
	}

	unlock := e.locks.Lock(spec.TaskID)
	defer unlock()

	task, err := e.store.LoadTask(ctx, spec.TaskID)
	switch {
	case errors.Is(err, ErrTaskNotFound):
		if task, err = e.newTask(spec); err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, storageError("load", spec.TaskID, err)
	case task.AssignedAgent == agentID && task.State != types.TaskStateCreated:
		// 确认丢失后的重投: 本地可能已经推进到后续状态
		e.observe(EventAssign, task.State, task.State, OutcomeNoop)
		return task, false, nil
	}
	return e.applyLocked(ctx, task, Event{Type: EventAssign, Agent: agentID})
}

// Apply 对任务应用一个事件. 返回的 bool 表示任务是否被修改 (false 为幂等重复).
func (e *Engine) Apply(ctx context.Context, taskID string, ev Event) (*Task, bool, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	task, err := e.load(ctx, taskID)
	if err != nil {
		return nil, false, err
	}
	return e.applyLocked(ctx, task, ev)
}

// Check 在不修改任务的情况下检查 ev 能否作用于任务.
// 用于发出报文前预检, 结果只代表调用时刻的状态.
func (e *Engine) Check(ctx context.Context, taskID string, ev Event) error {
	task, err := e.load(ctx, taskID)
	if err != nil {
		return err
	}
	_, err = transition(task.Clone(), ev, e.now())
	return err
}

func (e *Engine) applyLocked(ctx context.Context, task *Task, ev Event) (*Task, bool, error) {
	from := task.State
	work := task.Clone()

	applied, err := transition(work, ev, e.now())
	if err != nil {
		e.observe(ev.Type, from, from, OutcomeRejected)
		e.logger.Debug("transition rejected",
			zap.String("task_id", task.TaskID),
			zap.String("event", string(ev.Type)),
			zap.String("state", string(from)),
			zap.Error(err),
		)
		return nil, false, err
	}
	if !applied {
		e.observe(ev.Type, from, from, OutcomeNoop)
		return task.Clone(), false, nil
	}

	if err := e.store.SaveTask(ctx, work); err != nil {
		return nil, false, storageError("save", task.TaskID, err)
	}
	e.observe(ev.Type, from, work.State, OutcomeApplied)
	e.logger.Info("task transitioned",
		zap.String("task_id", work.TaskID),
		zap.String("event", string(ev.Type)),
		zap.String("from", string(from)),
		zap.String("to", string(work.State)),
	)
	return work.Clone(), true, nil
}

// Assign created -> assigned.
func (e *Engine) Assign(ctx context.Context, taskID, agentID string) (*Task, error) {
	task, _, err := e.Apply(ctx, taskID, Event{Type: EventAssign, Agent: agentID})
	return task, err
}

// UpdateProgress assigned|in_progress -> in_progress, progress 不允许回退.
func (e *Engine) UpdateProgress(ctx context.Context, taskID string, progress *float64, message string) (*Task, error) {
	task, _, err := e.Apply(ctx, taskID, Event{Type: EventUpdate, Progress: progress, Message: message})
	return task, err
}

// Complete assigned|in_progress -> completed.
func (e *Engine) Complete(ctx context.Context, taskID string, result map[string]any, executionTimeMs *int64) (*Task, error) {
	task, _, err := e.Apply(ctx, taskID, Event{Type: EventComplete, Result: result, ExecutionTimeMs: executionTimeMs})
	return task, err
}

// Fail assigned|in_progress -> failed.
func (e *Engine) Fail(ctx context.Context, taskID, errMsg string, details map[string]any) (*Task, error) {
	task, _, err := e.Apply(ctx, taskID, Event{Type: EventFail, Error: errMsg, ErrorDetails: details})
	return task, err
}

// Cancel created|assigned|in_progress -> cancelled.
func (e *Engine) Cancel(ctx context.Context, taskID, reason string) (*Task, error) {
	task, _, err := e.Apply(ctx, taskID, Event{Type: EventCancel, Reason: reason})
	return task, err
}

// Get 返回任务副本.
func (e *Engine) Get(ctx context.Context, taskID string) (*Task, error) {
	return e.load(ctx, taskID)
}

// List 按过滤条件查询任务.
func (e *Engine) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	tasks, err := e.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "list tasks").WithCause(err)
	}
	return tasks, nil
}

// Active 返回所有未结束的任务.
func (e *Engine) Active(ctx context.Context) ([]*Task, error) {
	return e.List(ctx, TaskFilter{ActiveOnly: true})
}

// ByAgent 返回分配给某个代理的任务.
func (e *Engine) ByAgent(ctx context.Context, agentID string) ([]*Task, error) {
	return e.List(ctx, TaskFilter{AssignedAgent: agentID})
}

// ByState 返回处于某个状态的任务.
func (e *Engine) ByState(ctx context.Context, state types.TaskState) ([]*Task, error) {
	return e.List(ctx, TaskFilter{State: state})
}

// Delete 删除任务记录.
func (e *Engine) Delete(ctx context.Context, taskID string) error {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	if err := e.store.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return notFound(taskID)
		}
		return storageError("delete", taskID, err)
	}
	return nil
}

func (e *Engine) newTask(spec NewTask) (*Task, error) {
	if spec.TaskType == "" {
		return nil, types.NewError(types.ErrPayloadValidationFailed, "task_type is required").WithDetail("field", "task_type")
	}
	if spec.Title == "" {
		return nil, types.NewError(types.ErrPayloadValidationFailed, "title is required").WithDetail("field", "title")
	}
	priority := spec.Priority.OrDefault()
	if !priority.IsValid() {
		return nil, types.Errorf(types.ErrPayloadValidationFailed, "invalid priority %q", spec.Priority).WithDetail("field", "priority")
	}

	id := spec.TaskID
	if id == "" {
		id = uuid.New().String()
	}
	payload := cloneMap(spec.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	now := e.now()
	return &Task{
		TaskID:      id,
		TaskType:    spec.TaskType,
		Title:       spec.Title,
		Description: spec.Description,
		Payload:     payload,
		Priority:    priority,
		Deadline:    cloneTime(spec.Deadline),
		Metadata:    cloneMap(spec.Metadata),
		State:       types.TaskStateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (e *Engine) load(ctx context.Context, taskID string) (*Task, error) {
	task, err := e.store.LoadTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, notFound(taskID)
		}
		return nil, storageError("load", taskID, err)
	}
	return task, nil
}

func (e *Engine) observe(ev EventType, from, to types.TaskState, outcome Outcome) {
	if e.observer != nil {
		e.observer.ObserveTransition(ev, from, to, outcome)
	}
}

func notFound(taskID string) *types.Error {
	return types.Errorf(types.ErrTaskNotFound, "task %s not found", taskID).
		WithCause(ErrTaskNotFound).
		WithDetail("task_id", taskID)
}

func storageError(op, taskID string, err error) *types.Error {
	return types.Errorf(types.ErrInternalError, "task store %s failed for %s", op, taskID).
		WithCause(err).
		WithDetail("task_id", taskID)
}
