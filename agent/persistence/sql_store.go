package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/internal/database"
	"github.com/BaSui01/a2abridge/types"
)

// taskRow 任务表. 完整任务以 JSON 保存在 data 列, 其余列只用于查询.
type taskRow struct {
	TaskID        string    `gorm:"primaryKey;size:128"`
	TaskType      string    `gorm:"size:64;index"`
	State         string    `gorm:"size:32;index"`
	AssignedAgent string    `gorm:"size:128;index"`
	Data          string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (taskRow) TableName() string { return "a2a_tasks" }

// agentRow Agent 记录表.
type agentRow struct {
	AgentID   string `gorm:"primaryKey;size:128"`
	Name      string `gorm:"size:100"`
	Status    string `gorm:"size:32;index"`
	SourceURL string `gorm:"size:512"`
	LastSeen  time.Time
	Data      string `gorm:"type:text"`
}

func (agentRow) TableName() string { return "a2a_agents" }

// SQLStore is a GORM-based implementation of Store (postgres, mysql, sqlite).
type SQLStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// OpenSQLStore 按配置打开数据库并创建存储.
func OpenSQLStore(config DatabaseStoreConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := database.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, err
	}

	poolConfig := database.PoolConfig{
		MaxIdleConns:    config.MaxIdleConns,
		MaxOpenConns:    config.MaxOpenConns,
		ConnMaxLifetime: config.ConnMaxLifetime,
	}
	// :memory: 每个连接都是独立的库
	if config.Driver == database.DriverSQLite && config.DSN == ":memory:" {
		poolConfig.MaxOpenConns = 1
	}
	pool, err := database.NewPoolManager(db, poolConfig, logger)
	if err != nil {
		return nil, err
	}

	store := NewSQLStore(pool, logger)
	if config.AutoMigrate {
		if err := store.Migrate(context.Background()); err != nil {
			_ = pool.Close()
			return nil, err
		}
	}
	store.logger.Info("database store opened", zap.String("driver", config.Driver))
	return store, nil
}

// NewSQLStore 使用已有连接池创建存储.
func NewSQLStore(pool *database.PoolManager, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "sql_store")),
	}
}

// Migrate 建表.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.db(ctx).AutoMigrate(&taskRow{}, &agentRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close closes the store
func (s *SQLStore) Close() error {
	return s.pool.Close()
}

// Ping checks if the store is healthy
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats 连接池统计, 用于 db_connections 指标.
func (s *SQLStore) Stats() sql.DBStats {
	return s.pool.Stats()
}

func (s *SQLStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// SaveTask upserts a task
func (s *SQLStore) SaveTask(ctx context.Context, task *lifecycle.Task) error {
	if task == nil || task.TaskID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	row := taskRow{
		TaskID:        task.TaskID,
		TaskType:      task.TaskType,
		State:         string(task.State),
		AssignedAgent: task.AssignedAgent,
		Data:          string(data),
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
	}
	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

// LoadTask retrieves a task by ID
func (s *SQLStore) LoadTask(ctx context.Context, taskID string) (*lifecycle.Task, error) {
	var row taskRow
	err := s.db(ctx).Where("task_id = ?", taskID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, lifecycle.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTask(row)
}

// ListTasks retrieves tasks matching the filter criteria, ordered by creation time
func (s *SQLStore) ListTasks(ctx context.Context, filter lifecycle.TaskFilter) ([]*lifecycle.Task, error) {
	q := s.db(ctx).Model(&taskRow{})
	if filter.State != "" {
		q = q.Where("state = ?", string(filter.State))
	}
	if filter.AssignedAgent != "" {
		q = q.Where("assigned_agent = ?", filter.AssignedAgent)
	}
	if filter.TaskType != "" {
		q = q.Where("task_type = ?", filter.TaskType)
	}
	if filter.ActiveOnly {
		q = q.Where("state NOT IN ?", terminalStates())
	}
	q = q.Order("created_at ASC").Order("task_id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []taskRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]*lifecycle.Task, 0, len(rows))
	for _, row := range rows {
		task, err := decodeTask(row)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, nil
}

// DeleteTask removes a task
func (s *SQLStore) DeleteTask(ctx context.Context, taskID string) error {
	res := s.db(ctx).Where("task_id = ?", taskID).Delete(&taskRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return lifecycle.ErrTaskNotFound
	}
	return nil
}

// SaveAgent upserts an agent record
func (s *SQLStore) SaveAgent(ctx context.Context, record *discovery.AgentRecord) error {
	if record.ID() == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	row := agentRow{
		AgentID:   record.ID(),
		Name:      record.Card.Name,
		Status:    string(record.Card.Status),
		SourceURL: record.SourceURL,
		LastSeen:  record.LastSeen,
		Data:      string(data),
	}
	return s.db(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// LoadAgent retrieves an agent record by ID
func (s *SQLStore) LoadAgent(ctx context.Context, agentID string) (*discovery.AgentRecord, error) {
	var row agentRow
	err := s.db(ctx).Where("agent_id = ?", agentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, discovery.ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeAgent(row.AgentID, []byte(row.Data))
}

// ListAgents returns all agent records ordered by ID
func (s *SQLStore) ListAgents(ctx context.Context) ([]*discovery.AgentRecord, error) {
	var rows []agentRow
	if err := s.db(ctx).Order("agent_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]*discovery.AgentRecord, 0, len(rows))
	for _, row := range rows {
		record, err := decodeAgent(row.AgentID, []byte(row.Data))
		if err != nil {
			s.logger.Warn("skipping corrupt agent record", zap.String("agent_id", row.AgentID), zap.Error(err))
			continue
		}
		result = append(result, record)
	}
	return result, nil
}

// DeleteAgent removes an agent record
func (s *SQLStore) DeleteAgent(ctx context.Context, agentID string) error {
	res := s.db(ctx).Where("agent_id = ?", agentID).Delete(&agentRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return discovery.ErrAgentNotFound
	}
	return nil
}

func decodeTask(row taskRow) (*lifecycle.Task, error) {
	var task lifecycle.Task
	if err := json.Unmarshal([]byte(row.Data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", row.TaskID, err)
	}
	return &task, nil
}

func terminalStates() []string {
	var out []string
	for _, st := range types.AllTaskStates() {
		if st.IsTerminal() {
			out = append(out, string(st))
		}
	}
	return out
}
