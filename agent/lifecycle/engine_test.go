package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/a2abridge/types"
)

// fakeClock 每次调用前进 1ms, 便于断言 updated_at 是否变化.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *recordingObserver) ObserveTransition(_ EventType, _, _ types.TaskState, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *MemoryTaskStore) {
	t.Helper()
	store := NewMemoryTaskStore()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewEngine(store, zaptest.NewLogger(t), opts...), store
}

func createTask(t *testing.T, e *Engine, id string) *Task {
	t.Helper()
	task, err := e.Create(context.Background(), NewTask{
		TaskID:   id,
		TaskType: "research",
		Title:    "Collect sources",
		Payload:  map[string]any{"topic": "raft"},
	})
	require.NoError(t, err)
	return task
}

func ptr[T any](v T) *T { return &v }

func TestEngine_Create(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	task := createTask(t, e, "T1")
	assert.Equal(t, types.TaskStateCreated, task.State)
	assert.Equal(t, types.PriorityMedium, task.Priority)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)

	_, err := e.Create(ctx, NewTask{TaskID: "T1", TaskType: "research", Title: "again"})
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))

	generated, err := e.Create(ctx, NewTask{TaskType: "coding", Title: "x"})
	require.NoError(t, err)
	assert.Len(t, generated.TaskID, 36)
	assert.NotNil(t, generated.Payload)

	_, err = e.Create(ctx, NewTask{TaskType: "coding"})
	assert.True(t, types.IsCode(err, types.ErrPayloadValidationFailed))
	_, err = e.Create(ctx, NewTask{TaskType: "coding", Title: "x", Priority: "critical"})
	assert.True(t, types.IsCode(err, types.ErrPayloadValidationFailed))
}

func TestEngine_HappyPath(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createTask(t, e, "T1")

	task, err := e.Assign(ctx, "T1", "agent-a")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateAssigned, task.State)
	assert.Equal(t, "agent-a", task.AssignedAgent)
	require.NotNil(t, task.AssignedAt)

	task, err = e.UpdateProgress(ctx, "T1", ptr(0.5), "halfway")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateInProgress, task.State)
	assert.Equal(t, 0.5, task.Progress)
	assert.Equal(t, "halfway", task.StatusMessage)

	task, err = e.Complete(ctx, "T1", map[string]any{"summary": "done"}, ptr(int64(1500)))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCompleted, task.State)
	assert.Equal(t, "done", task.Result["summary"])
	assert.Equal(t, 1.0, task.Progress)
	assert.Equal(t, int64(1500), task.Metadata[MetadataExecutionTimeMs])
	require.NotNil(t, task.CompletedAt)

	_, err = e.Cancel(ctx, "T1", "too late")
	assert.True(t, types.IsCode(err, types.ErrTaskNotTransitionable))
	_, err = e.UpdateProgress(ctx, "T1", ptr(0.9), "")
	assert.True(t, types.IsCode(err, types.ErrTaskNotTransitionable))
}

func TestEngine_IllegalTransitions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	createTask(t, e, "T1")
	_, err := e.Complete(ctx, "T1", map[string]any{}, nil)
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))
	_, err = e.UpdateProgress(ctx, "T1", ptr(0.1), "")
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))
	_, err = e.Fail(ctx, "T1", "boom", nil)
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))

	_, err = e.Assign(ctx, "T1", "")
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))

	_, err = e.Assign(ctx, "T1", "agent-a")
	require.NoError(t, err)
	_, err = e.Assign(ctx, "T1", "agent-b")
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))

	task, err := e.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateAssigned, task.State)
	assert.Equal(t, "agent-a", task.AssignedAgent)

	_, err = e.Assign(ctx, "missing", "agent-a")
	assert.True(t, types.IsCode(err, types.ErrTaskNotFound))
}

func TestEngine_NotFoundKeepsStoreSentinel(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Get(ctx, "missing")
	assert.True(t, types.IsCode(err, types.ErrTaskNotFound))
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = e.Assign(ctx, "missing", "agent-a")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, e.Check(ctx, "missing", Event{Type: EventCancel}), ErrTaskNotFound)
	assert.ErrorIs(t, e.Delete(ctx, "missing"), ErrTaskNotFound)
}

func TestEngine_CheckDoesNotMutate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, e, "T1")
	require.NoError(t, e.Check(ctx, "T1", Event{Type: EventAssign, Agent: "agent-a"}))
	err := e.Check(ctx, "T1", Event{Type: EventComplete})
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))
	assert.True(t, types.IsCode(e.Check(ctx, "missing", Event{Type: EventCancel}), types.ErrTaskNotFound))

	task, err := e.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCreated, task.State)
	assert.Equal(t, created.UpdatedAt, task.UpdatedAt)
	assert.Empty(t, task.AssignedAgent)
}

func TestEngine_ProgressRegressionRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createTask(t, e, "T1")
	_, err := e.Assign(ctx, "T1", "agent-a")
	require.NoError(t, err)
	_, err = e.UpdateProgress(ctx, "T1", ptr(0.6), "")
	require.NoError(t, err)

	before, err := e.Get(ctx, "T1")
	require.NoError(t, err)

	_, err = e.UpdateProgress(ctx, "T1", ptr(0.4), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrProgressRegression, types.GetErrorCode(err))

	after, err := e.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	task, err := e.UpdateProgress(ctx, "T1", ptr(0.8), "")
	require.NoError(t, err)
	assert.Equal(t, 0.8, task.Progress)
}

func TestEngine_IdempotentReapplication(t *testing.T) {
	obs := &recordingObserver{}
	e, _ := newTestEngine(t, WithObserver(obs))
	ctx := context.Background()
	createTask(t, e, "T1")
	_, err := e.Assign(ctx, "T1", "agent-a")
	require.NoError(t, err)

	first, applied, err := e.Apply(ctx, "T1", Event{Type: EventUpdate, Progress: ptr(0.5), Message: "half"})
	require.NoError(t, err)
	assert.True(t, applied)

	for i := 0; i < 3; i++ {
		again, applied, err := e.Apply(ctx, "T1", Event{Type: EventUpdate, Progress: ptr(0.5), Message: "half"})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, first.UpdatedAt, again.UpdatedAt)
		assert.Equal(t, first.Progress, again.Progress)
		assert.Equal(t, first.State, again.State)
	}

	// 重申当前状态
	_, applied, err = e.Apply(ctx, "T1", Event{Type: EventReport, Target: types.TaskStateInProgress})
	require.NoError(t, err)
	assert.False(t, applied)

	done, err := e.Complete(ctx, "T1", map[string]any{"v": 1}, nil)
	require.NoError(t, err)
	dup, applied, err := e.Apply(ctx, "T1", Event{Type: EventComplete, Result: map[string]any{"v": 2}})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, done.Result, dup.Result)
	assert.Equal(t, done.UpdatedAt, dup.UpdatedAt)

	assert.Contains(t, obs.outcomes, OutcomeNoop)
	assert.Contains(t, obs.outcomes, OutcomeApplied)
}

func TestEngine_ReportMismatchRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createTask(t, e, "T1")

	_, _, err := e.Apply(ctx, "T1", Event{Type: EventReport, Target: types.TaskStateCompleted})
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))

	_, applied, err := e.Apply(ctx, "T1", Event{Type: EventReport, Target: types.TaskStateCreated})
	require.NoError(t, err)
	assert.False(t, applied)

	_, _, err = e.Apply(ctx, "T1", Event{Type: "teleport"})
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))
}

func TestEngine_FailAndCancel(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	createTask(t, e, "T1")
	_, err := e.Assign(ctx, "T1", "agent-a")
	require.NoError(t, err)
	task, err := e.Fail(ctx, "T1", "upstream unavailable", map[string]any{"attempts": 3})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateFailed, task.State)
	assert.Equal(t, "upstream unavailable", task.Error)
	assert.Nil(t, task.Result)

	createTask(t, e, "T2")
	task, err = e.Cancel(ctx, "T2", "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCancelled, task.State)
	assert.Equal(t, "Cancelled: no longer needed", task.StatusMessage)
}

func TestEngine_Accept(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	spec := NewTask{TaskID: "remote-1", TaskType: "research", Title: "From peer"}

	task, applied, err := e.Accept(ctx, spec, "self")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, types.TaskStateAssigned, task.State)
	assert.Equal(t, "self", task.AssignedAgent)

	_, applied, err = e.Accept(ctx, spec, "self")
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = e.UpdateProgress(ctx, "remote-1", ptr(0.2), "")
	require.NoError(t, err)
	task, applied, err = e.Accept(ctx, spec, "self")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, types.TaskStateInProgress, task.State)

	_, _, err = e.Accept(ctx, spec, "someone-else")
	assert.True(t, types.IsCode(err, types.ErrIllegalTransition))

	_, _, err = e.Accept(ctx, NewTask{TaskType: "x", Title: "y"}, "self")
	assert.True(t, types.IsCode(err, types.ErrPayloadValidationFailed))
}

func TestEngine_Queries(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	createTask(t, e, "T1")
	createTask(t, e, "T2")
	createTask(t, e, "T3")
	_, err := e.Assign(ctx, "T2", "agent-a")
	require.NoError(t, err)
	_, err = e.Cancel(ctx, "T3", "")
	require.NoError(t, err)

	all, err := e.List(ctx, TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "T1", all[0].TaskID)

	active, err := e.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	byAgent, err := e.ByAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, "T2", byAgent[0].TaskID)

	cancelled, err := e.ByState(ctx, types.TaskStateCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)

	require.NoError(t, e.Delete(ctx, "T3"))
	assert.True(t, types.IsCode(e.Delete(ctx, "T3"), types.ErrTaskNotFound))
	_, err = e.Get(ctx, "T3")
	assert.True(t, types.IsCode(err, types.ErrTaskNotFound))
}

func TestEngine_ReturnsCopies(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	task := createTask(t, e, "T1")
	task.State = types.TaskStateCompleted
	task.Payload["topic"] = "mutated"

	stored, err := e.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCreated, stored.State)
	assert.Equal(t, "raft", stored.Payload["topic"])
}

type failingStore struct {
	*MemoryTaskStore
	saveErr error
}

func (s *failingStore) SaveTask(ctx context.Context, task *Task) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryTaskStore.SaveTask(ctx, task)
}

func TestEngine_StorageFailureIsInternal(t *testing.T) {
	store := &failingStore{MemoryTaskStore: NewMemoryTaskStore()}
	e := NewEngine(store, nil)
	ctx := context.Background()

	_, err := e.Create(ctx, NewTask{TaskID: "T1", TaskType: "research", Title: "x"})
	require.NoError(t, err)

	store.saveErr = errors.New("disk full")
	_, err = e.Assign(ctx, "T1", "agent-a")
	require.Error(t, err)
	assert.Equal(t, types.ErrInternalError, types.GetErrorCode(err))

	task, err := e.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCreated, task.State)
}

func TestEngine_ConcurrentUpdatesSerialized(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createTask(t, e, "T1")
	_, err := e.Assign(ctx, "T1", "agent-a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(p float64) {
			defer wg.Done()
			// 乱序到达的进度可能因回退被拒绝, 但不能破坏状态
			_, _ = e.UpdateProgress(ctx, "T1", &p, "")
		}(float64(i) / 50)
	}
	wg.Wait()

	task, err := e.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateInProgress, task.State)
	assert.GreaterOrEqual(t, task.Progress, 0.02)
	assert.LessOrEqual(t, task.Progress, 1.0)
	assert.Equal(t, 0, e.locks.size())
}
