package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/types"
)

// RedisStore is a Redis-based implementation of Store.
// Suitable for distributed production deployments.
// 任务以 JSON 字符串保存, 并用 sorted set 按创建时间建立全量/状态/Agent 索引;
// Agent 记录保存在一个 hash 中.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
	closed    atomic.Bool
}

// NewRedisStore creates a new Redis-based store and verifies the connection
func NewRedisStore(config RedisStoreConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisStoreFromClient(client, config.KeyPrefix, logger)
	store.logger.Info("redis store connected", zap.String("addr", config.Addr))
	return store, nil
}

// NewRedisStoreFromClient 使用已有客户端创建存储.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "a2a:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "redis_store")),
	}
}

// Close closes the store
func (s *RedisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.client.Ping(ctx).Err()
}

// taskKey returns the Redis key for a task
func (s *RedisStore) taskKey(taskID string) string {
	return s.keyPrefix + "task:data:" + taskID
}

// stateKey returns the Redis key for a state index
func (s *RedisStore) stateKey(state types.TaskState) string {
	return s.keyPrefix + "task:state:" + string(state)
}

// agentTasksKey returns the Redis key for an agent's task index
func (s *RedisStore) agentTasksKey(agentID string) string {
	return s.keyPrefix + "task:agent:" + agentID
}

// allTasksKey returns the Redis key for all tasks index
func (s *RedisStore) allTasksKey() string {
	return s.keyPrefix + "task:all"
}

// agentsKey returns the Redis hash holding agent records
func (s *RedisStore) agentsKey() string {
	return s.keyPrefix + "agents"
}

// SaveTask persists a task and refreshes its indexes
func (s *RedisStore) SaveTask(ctx context.Context, task *lifecycle.Task) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if task == nil || task.TaskID == "" {
		return ErrInvalidInput
	}

	// 旧记录用于清理失效索引
	old, err := s.LoadTask(ctx, task.TaskID)
	if err != nil && !errors.Is(err, lifecycle.ErrTaskNotFound) {
		return err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	score := float64(task.CreatedAt.UnixNano())
	member := redis.Z{Score: score, Member: task.TaskID}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.taskKey(task.TaskID), data, 0)
	if old != nil && old.State != task.State {
		pipe.ZRem(ctx, s.stateKey(old.State), task.TaskID)
	}
	if old != nil && old.AssignedAgent != "" && old.AssignedAgent != task.AssignedAgent {
		pipe.ZRem(ctx, s.agentTasksKey(old.AssignedAgent), task.TaskID)
	}
	pipe.ZAdd(ctx, s.stateKey(task.State), member)
	pipe.ZAdd(ctx, s.allTasksKey(), member)
	if task.AssignedAgent != "" {
		pipe.ZAdd(ctx, s.agentTasksKey(task.AssignedAgent), member)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.TaskID, err)
	}
	return nil
}

// LoadTask retrieves a task by ID
func (s *RedisStore) LoadTask(ctx context.Context, taskID string) (*lifecycle.Task, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	data, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, lifecycle.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	var task lifecycle.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

// ListTasks retrieves tasks matching the filter criteria
func (s *RedisStore) ListTasks(ctx context.Context, filter lifecycle.TaskFilter) ([]*lifecycle.Task, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	// 选择最窄的索引
	index := s.allTasksKey()
	switch {
	case filter.State != "":
		index = s.stateKey(filter.State)
	case filter.AssignedAgent != "":
		index = s.agentTasksKey(filter.AssignedAgent)
	}

	taskIDs, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*lifecycle.Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		task, err := s.LoadTask(ctx, taskID)
		if errors.Is(err, lifecycle.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Match(task) {
			result = append(result, task)
		}
	}

	lifecycle.SortTasks(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// DeleteTask removes a task and its index entries
func (s *RedisStore) DeleteTask(ctx context.Context, taskID string) error {
	task, err := s.LoadTask(ctx, taskID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.taskKey(taskID))
	pipe.ZRem(ctx, s.allTasksKey(), taskID)
	pipe.ZRem(ctx, s.stateKey(task.State), taskID)
	if task.AssignedAgent != "" {
		pipe.ZRem(ctx, s.agentTasksKey(task.AssignedAgent), taskID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// SaveAgent persists an agent record
func (s *RedisStore) SaveAgent(ctx context.Context, record *discovery.AgentRecord) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if record.ID() == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	return s.client.HSet(ctx, s.agentsKey(), record.ID(), data).Err()
}

// LoadAgent retrieves an agent record by ID
func (s *RedisStore) LoadAgent(ctx context.Context, agentID string) (*discovery.AgentRecord, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	data, err := s.client.HGet(ctx, s.agentsKey(), agentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, discovery.ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeAgent(agentID, data)
}

// ListAgents returns all agent records
func (s *RedisStore) ListAgents(ctx context.Context) ([]*discovery.AgentRecord, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	all, err := s.client.HGetAll(ctx, s.agentsKey()).Result()
	if err != nil {
		return nil, err
	}
	result := make([]*discovery.AgentRecord, 0, len(all))
	for id, data := range all {
		record, err := decodeAgent(id, []byte(data))
		if err != nil {
			s.logger.Warn("skipping corrupt agent record", zap.String("agent_id", id), zap.Error(err))
			continue
		}
		result = append(result, record)
	}
	discovery.SortRecords(result)
	return result, nil
}

// DeleteAgent removes an agent record
func (s *RedisStore) DeleteAgent(ctx context.Context, agentID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	n, err := s.client.HDel(ctx, s.agentsKey(), agentID).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return discovery.ErrAgentNotFound
	}
	return nil
}

func decodeAgent(agentID string, data []byte) (*discovery.AgentRecord, error) {
	var record discovery.AgentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent %s: %w", agentID, err)
	}
	return &record, nil
}
