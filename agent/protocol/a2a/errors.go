package a2a

import (
	"errors"
	"fmt"

	"github.com/BaSui01/a2abridge/types"
)

var errNotObject = errors.New("not a JSON object")

// 报文校验错误构造. field 记录在 Details["field"] 中, 便于对端定位.

func formatError(field, format string, args ...any) *types.Error {
	return types.NewError(types.ErrInvalidMessageFormat, fmt.Sprintf(format, args...)).
		WithDetail("field", field)
}

func payloadError(field, format string, args ...any) *types.Error {
	return types.NewError(types.ErrPayloadValidationFailed, fmt.Sprintf(format, args...)).
		WithDetail("field", field)
}

func unsupportedTypeError(t string) *types.Error {
	return types.NewError(types.ErrUnsupportedMessageType, fmt.Sprintf("unsupported message type %q", t)).
		WithDetail("field", "type")
}

func cardError(field, format string, args ...any) *types.Error {
	return types.NewError(types.ErrInvalidAgentCard, fmt.Sprintf("agent card: "+format, args...)).
		WithDetail("field", field)
}

// CapabilityMismatchError 代理缺少所需能力.
func CapabilityMismatchError(agentID string, missing []Capability) *types.Error {
	return types.Errorf(types.ErrCapabilityMismatch, "agent %s lacks required capabilities %v", agentID, missing).
		WithDetail("agent_id", agentID).
		WithDetail("missing", capabilityStrings(missing))
}

// InvalidTaskTypeError 代理不支持该任务类型.
func InvalidTaskTypeError(agentID, taskType string) *types.Error {
	return types.Errorf(types.ErrInvalidTaskType, "agent %s does not support task type %q", agentID, taskType).
		WithDetail("agent_id", agentID).
		WithDetail("task_type", taskType)
}

func capabilityStrings(caps []Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}
