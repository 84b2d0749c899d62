package a2a

import (
	"regexp"
	"time"
)

// ProtocolVersion 是唯一支持的报文版本.
const ProtocolVersion = "1.0.0"

// Capability 是代理声明的粗粒度能力标签.
type Capability string

// 内置能力枚举.
const (
	CapabilityResearch   Capability = "research"
	CapabilityAnalysis   Capability = "analysis"
	CapabilityCoding     Capability = "coding"
	CapabilityWriting    Capability = "writing"
	CapabilityPlanning   Capability = "planning"
	CapabilityMonitoring Capability = "monitoring"
	CapabilityTesting    Capability = "testing"
	CapabilityDeployment Capability = "deployment"
	CapabilityCustom     Capability = "custom"
)

// BuiltInCapabilities 返回全部内置能力.
func BuiltInCapabilities() []Capability {
	return []Capability{
		CapabilityResearch,
		CapabilityAnalysis,
		CapabilityCoding,
		CapabilityWriting,
		CapabilityPlanning,
		CapabilityMonitoring,
		CapabilityTesting,
		CapabilityDeployment,
		CapabilityCustom,
	}
}

// IsBuiltIn 检查能力是否属于内置枚举.
func (c Capability) IsBuiltIn() bool {
	for _, b := range BuiltInCapabilities() {
		if c == b {
			return true
		}
	}
	return false
}

// AgentStatus 代理可用状态.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusBusy     AgentStatus = "busy"
	AgentStatusOffline  AgentStatus = "offline"
)

// IsValid 检查状态是否合法.
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentStatusActive, AgentStatusInactive, AgentStatusBusy, AgentStatusOffline:
		return true
	default:
		return false
	}
}

// RateLimit 代理声明的接收速率上限.
type RateLimit struct {
	RequestsPerMinute *int `json:"requests_per_minute,omitempty"`
	RequestsPerHour   *int `json:"requests_per_hour,omitempty"`
}

// AgentCard 描述代理的身份、能力、支持的任务类型以及端点.
//
// 卡片在进程内视为不可变值, 需要修改时先 Clone.
type AgentCard struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Version            string         `json:"version"`
	Capabilities       []Capability   `json:"capabilities"`
	Endpoint           string         `json:"endpoint"`
	SupportedTasks     []string       `json:"supported_tasks"`
	Description        string         `json:"description,omitempty"`
	Status             AgentStatus    `json:"status,omitempty"`
	MaxConcurrentTasks int            `json:"max_concurrent_tasks,omitempty"`
	RateLimit          *RateLimit     `json:"rate_limit,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// MessageType 报文类型.
type MessageType string

const (
	MessageTypeTaskAssignment MessageType = "task_assignment"
	MessageTypeStatusUpdate   MessageType = "status_update"
	MessageTypeTaskCompletion MessageType = "task_completion"
	MessageTypePing           MessageType = "ping"
	MessageTypeError          MessageType = "error"
)

// MessageTypes 返回全部支持的报文类型.
func MessageTypes() []MessageType {
	return []MessageType{
		MessageTypeTaskAssignment,
		MessageTypeStatusUpdate,
		MessageTypeTaskCompletion,
		MessageTypePing,
		MessageTypeError,
	}
}

// IsValid 检查报文类型是否受支持.
func (t MessageType) IsValid() bool {
	_, ok := schemas[t]
	return ok
}

func (t MessageType) String() string {
	return string(t)
}

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// IsValidAgentID 检查代理标识是否为合法 token (UUID 同样满足).
func IsValidAgentID(id string) bool {
	return agentIDPattern.MatchString(id)
}
