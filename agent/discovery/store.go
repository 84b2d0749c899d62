package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
)

// ErrAgentNotFound 存储中不存在该 Agent.
var ErrAgentNotFound = errors.New("discovery: agent not found")

// AgentRecord 注册表中的一条 Agent 记录.
type AgentRecord struct {
	Card *a2a.AgentCard `json:"card"`

	// SourceURL 卡片的发现地址, 本地注册的 Agent 为空
	SourceURL string `json:"source_url,omitempty"`

	// LastSeen 最近一次注册或刷新成功的时间
	LastSeen time.Time `json:"last_seen"`
}

// ID 返回记录对应的 Agent ID.
func (r *AgentRecord) ID() string {
	if r == nil || r.Card == nil {
		return ""
	}
	return r.Card.ID
}

// Clone 深拷贝记录.
func (r *AgentRecord) Clone() *AgentRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Card = r.Card.Clone()
	return &out
}

// AgentStore defines the persistence interface for agent registry data.
// Implementations must store and return copies.
type AgentStore interface {
	// SaveAgent 创建或覆盖记录
	SaveAgent(ctx context.Context, record *AgentRecord) error

	// LoadAgent 按 ID 读取, 不存在时返回 ErrAgentNotFound
	LoadAgent(ctx context.Context, agentID string) (*AgentRecord, error)

	// ListAgents 返回全部记录, 按 ID 排序
	ListAgents(ctx context.Context) ([]*AgentRecord, error)

	// DeleteAgent 删除记录, 不存在时返回 ErrAgentNotFound
	DeleteAgent(ctx context.Context, agentID string) error
}

// MemoryAgentStore is an AgentStore backed by an in-memory map.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*AgentRecord
}

// NewMemoryAgentStore creates a new MemoryAgentStore.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{
		agents: make(map[string]*AgentRecord),
	}
}

func (s *MemoryAgentStore) SaveAgent(_ context.Context, record *AgentRecord) error {
	if record.ID() == "" {
		return fmt.Errorf("invalid agent record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[record.ID()] = record.Clone()
	return nil
}

func (s *MemoryAgentStore) LoadAgent(_ context.Context, agentID string) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryAgentStore) ListAgents(_ context.Context) ([]*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AgentRecord, 0, len(s.agents))
	for _, record := range s.agents {
		result = append(result, record.Clone())
	}
	SortRecords(result)
	return result, nil
}

func (s *MemoryAgentStore) DeleteAgent(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return ErrAgentNotFound
	}
	delete(s.agents, agentID)
	return nil
}

// SortRecords 按 Agent ID 排序.
func SortRecords(records []*AgentRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID() < records[j].ID()
	})
}

// Ensure MemoryAgentStore implements AgentStore.
var _ AgentStore = (*MemoryAgentStore)(nil)
