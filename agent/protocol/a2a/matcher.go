package a2a

import (
	"sort"

	"github.com/BaSui01/a2abridge/types"
)

// Matches 报告 card 是否具备 required 中的全部能力. required 为空时恒为 true.
func Matches(required []Capability, card *AgentCard) bool {
	return card != nil && len(MissingCapabilities(required, card)) == 0
}

// MissingCapabilities 返回 card 缺少的能力, 保持 required 的顺序并去重.
func MissingCapabilities(required []Capability, card *AgentCard) []Capability {
	have := make(map[Capability]struct{}, len(card.Capabilities))
	for _, c := range card.Capabilities {
		have[c] = struct{}{}
	}
	var missing []Capability
	seen := make(map[Capability]struct{}, len(required))
	for _, r := range required {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		if _, ok := have[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}

// SupportsTask 报告 card 是否在 supported_tasks 中声明了该任务类型.
func SupportsTask(taskType string, card *AgentCard) bool {
	if card == nil {
		return false
	}
	for _, t := range card.SupportedTasks {
		if t == taskType {
			return true
		}
	}
	return false
}

// RequiredCapabilities 计算任务所需的能力集合.
// 调用方显式给出时直接使用; 否则当任务类型本身是内置能力名时, 要求该能力.
func RequiredCapabilities(taskType string, explicit []Capability) []Capability {
	if len(explicit) > 0 {
		return append([]Capability(nil), explicit...)
	}
	if c := Capability(taskType); c.IsBuiltIn() {
		return []Capability{c}
	}
	return nil
}

// CheckEligible 检查 card 能否承接任务. 能力不足优先于任务类型不支持报告.
func CheckEligible(required []Capability, taskType string, card *AgentCard) error {
	if card == nil {
		return types.NewError(types.ErrAgentNotFound, "agent card is nil")
	}
	if missing := MissingCapabilities(required, card); len(missing) > 0 {
		return CapabilityMismatchError(card.ID, missing)
	}
	if !SupportsTask(taskType, card) {
		return InvalidTaskTypeError(card.ID, taskType)
	}
	return nil
}

// SelectAgent 从候选卡片中选出一个合格的接收方.
//
// 只考虑可用 (active/未声明/busy) 的代理, active 优先于 busy, 同级按 ID 排序取第一个,
// 因此相同输入总是得到相同结果.
func SelectAgent(cards []*AgentCard, required []Capability, taskType string) (*AgentCard, error) {
	var eligible []*AgentCard
	for _, card := range cards {
		if card == nil || !card.Available() {
			continue
		}
		if CheckEligible(required, taskType, card) == nil {
			eligible = append(eligible, card)
		}
	}
	if len(eligible) == 0 {
		return nil, types.Errorf(types.ErrNoEligibleRecipient,
			"no available agent offers capabilities %v for task type %q", required, taskType).
			WithDetail("task_type", taskType).
			WithDetail("required", capabilityStrings(required)).
			WithDetail("candidates", len(cards))
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		ri, rj := statusRank(eligible[i].Status), statusRank(eligible[j].Status)
		if ri != rj {
			return ri < rj
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible[0], nil
}

func statusRank(s AgentStatus) int {
	if s == AgentStatusBusy {
		return 1
	}
	return 0
}
