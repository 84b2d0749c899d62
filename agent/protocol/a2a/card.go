package a2a

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/BaSui01/a2abridge/types"
)

const (
	maxCardNameLen        = 100
	maxCardDescriptionLen = 500
	maxTaskTypeLen        = 50
)

var (
	semverPattern      = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	cardRequiredFields = []string{"id", "name", "version", "capabilities", "endpoint", "supported_tasks"}
)

// ParseAgentCard 解析并校验 JSON 格式的代理卡.
// 缺失 created_at 时补当前时间, updated_at 统一刷新为当前时间.
func ParseAgentCard(data []byte) (*AgentCard, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidAgentCard, "agent card must be a JSON object").WithCause(err)
	}

	var missing []string
	for _, f := range cardRequiredFields {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, cardError(missing[0], "missing required fields: %s", strings.Join(missing, ", "))
	}

	var card AgentCard
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, types.NewError(types.ErrInvalidAgentCard, "agent card has malformed fields").WithCause(err)
	}

	// 显式给出的 max_concurrent_tasks 必须 >= 1, 0 不能当作缺省处理
	if _, ok := fields["max_concurrent_tasks"]; ok && card.MaxConcurrentTasks < 1 {
		return nil, cardError("max_concurrent_tasks", "max_concurrent_tasks must be >= 1")
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, ok := fields["created_at"]; !ok || card.CreatedAt.IsZero() {
		card.CreatedAt = now
	}
	card.UpdatedAt = now
	return &card, nil
}

// CardOptions 创建代理卡时的可选字段.
type CardOptions struct {
	ID                 string
	Description        string
	Status             AgentStatus
	MaxConcurrentTasks int
	RateLimit          *RateLimit
	Metadata           map[string]any
}

// NewAgentCard 创建并校验新的代理卡, 未指定 ID 时生成 UUID.
func NewAgentCard(name, version, endpoint string, capabilities []Capability, supportedTasks []string, opts CardOptions) (*AgentCard, error) {
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := opts.Status
	if status == "" {
		status = AgentStatusActive
	}
	maxTasks := opts.MaxConcurrentTasks
	if maxTasks == 0 {
		maxTasks = 1
	}
	now := time.Now().UTC()
	card := &AgentCard{
		ID:                 id,
		Name:               name,
		Version:            version,
		Capabilities:       append([]Capability(nil), capabilities...),
		Endpoint:           endpoint,
		SupportedTasks:     append([]string(nil), supportedTasks...),
		Description:        opts.Description,
		Status:             status,
		MaxConcurrentTasks: maxTasks,
		RateLimit:          opts.RateLimit,
		Metadata:           opts.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return card, nil
}

// Validate 校验代理卡所有字段.
func (c *AgentCard) Validate() error {
	if !IsValidAgentID(c.ID) {
		return cardError("id", "invalid agent id %q", c.ID)
	}
	if c.Name == "" {
		return cardError("name", "name cannot be empty")
	}
	if utf8.RuneCountInString(c.Name) > maxCardNameLen {
		return cardError("name", "name cannot exceed %d characters", maxCardNameLen)
	}
	if !semverPattern.MatchString(c.Version) {
		return cardError("version", "invalid version format %q, expected major.minor.patch", c.Version)
	}
	if len(c.Capabilities) == 0 {
		return cardError("capabilities", "at least one capability is required")
	}
	for _, capability := range c.Capabilities {
		if !capability.IsBuiltIn() {
			return cardError("capabilities", "unknown capability %q", capability)
		}
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return cardError("endpoint", "endpoint must be a valid HTTP/HTTPS URL")
	}
	if len(c.SupportedTasks) == 0 {
		return cardError("supported_tasks", "at least one supported task is required")
	}
	for _, task := range c.SupportedTasks {
		if task == "" {
			return cardError("supported_tasks", "task type cannot be empty")
		}
		if utf8.RuneCountInString(task) > maxTaskTypeLen {
			return cardError("supported_tasks", "task type %q exceeds %d characters", task, maxTaskTypeLen)
		}
	}
	if utf8.RuneCountInString(c.Description) > maxCardDescriptionLen {
		return cardError("description", "description cannot exceed %d characters", maxCardDescriptionLen)
	}
	if c.Status != "" && !c.Status.IsValid() {
		return cardError("status", "invalid status %q", c.Status)
	}
	if c.MaxConcurrentTasks < 0 {
		return cardError("max_concurrent_tasks", "max_concurrent_tasks must be >= 1")
	}
	if rl := c.RateLimit; rl != nil {
		if rl.RequestsPerMinute != nil && *rl.RequestsPerMinute < 1 {
			return cardError("rate_limit", "rate_limit.requests_per_minute must be >= 1")
		}
		if rl.RequestsPerHour != nil && *rl.RequestsPerHour < 1 {
			return cardError("rate_limit", "rate_limit.requests_per_hour must be >= 1")
		}
	}
	return nil
}

// HasCapability 检查代理是否声明了某项能力.
func (c *AgentCard) HasCapability(capability Capability) bool {
	for _, have := range c.Capabilities {
		if have == capability {
			return true
		}
	}
	return false
}

// Available 报告代理当前是否可以接收新任务. 未声明状态视为 active.
func (c *AgentCard) Available() bool {
	return c.Status == "" || c.Status == AgentStatusActive || c.Status == AgentStatusBusy
}

// Clone 返回代理卡的深拷贝.
func (c *AgentCard) Clone() *AgentCard {
	if c == nil {
		return nil
	}
	out := *c
	out.Capabilities = append([]Capability(nil), c.Capabilities...)
	out.SupportedTasks = append([]string(nil), c.SupportedTasks...)
	if c.RateLimit != nil {
		rl := RateLimit{}
		if c.RateLimit.RequestsPerMinute != nil {
			v := *c.RateLimit.RequestsPerMinute
			rl.RequestsPerMinute = &v
		}
		if c.RateLimit.RequestsPerHour != nil {
			v := *c.RateLimit.RequestsPerHour
			rl.RequestsPerHour = &v
		}
		out.RateLimit = &rl
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
