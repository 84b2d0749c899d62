package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrTaskNotFound 存储中不存在该任务.
var ErrTaskNotFound = errors.New("lifecycle: task not found")

// TaskStore 任务存储. 实现必须保存和返回副本, 调用方持有的指针不会被存储修改.
type TaskStore interface {
	// LoadTask 按 ID 读取任务, 不存在时返回 ErrTaskNotFound
	LoadTask(ctx context.Context, taskID string) (*Task, error)

	// SaveTask 创建或覆盖任务
	SaveTask(ctx context.Context, task *Task) error

	// ListTasks 返回满足过滤条件的任务, 按 CreatedAt 升序
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)

	// DeleteTask 删除任务, 不存在时返回 ErrTaskNotFound
	DeleteTask(ctx context.Context, taskID string) error
}

// MemoryTaskStore 基于内存的 TaskStore, 进程退出后数据丢失.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryTaskStore 创建内存任务存储.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*Task)}
}

func (s *MemoryTaskStore) LoadTask(ctx context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryTaskStore) SaveTask(ctx context.Context, task *Task) error {
	if task == nil || task.TaskID == "" {
		return errors.New("lifecycle: task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.TaskID] = task.Clone()
	return nil
}

func (s *MemoryTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Task, 0)
	for _, task := range s.tasks {
		if filter.Match(task) {
			result = append(result, task.Clone())
		}
	}
	SortTasks(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemoryTaskStore) DeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

// SortTasks 按创建时间升序排序, 时间相同按 ID.
func SortTasks(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
}
