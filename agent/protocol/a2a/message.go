package a2a

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/a2abridge/types"
)

// Message 是所有协议报文的外层信封.
//
// Payload 保留线上原始字节, Body 是校验通过后解码出的强类型载荷.
type Message struct {
	Version   string          `json:"version"`
	MessageID string          `json:"message_id"`
	Timestamp time.Time       `json:"timestamp"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Signature *string         `json:"signature,omitempty"`

	Body Payload `json:"-"`
}

// Payload 由各报文类型的载荷结构实现.
type Payload interface {
	MessageType() MessageType
}

// TaskAssignment task_assignment 载荷.
type TaskAssignment struct {
	TaskID      string         `json:"task_id"`
	TaskType    string         `json:"task_type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload"`
	Priority    types.Priority `json:"priority,omitempty"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// MessageType implements Payload.
func (TaskAssignment) MessageType() MessageType { return MessageTypeTaskAssignment }

// StatusUpdate status_update 载荷.
type StatusUpdate struct {
	TaskID   string          `json:"task_id"`
	Status   types.TaskState `json:"status"`
	Progress *float64        `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// MessageType implements Payload.
func (StatusUpdate) MessageType() MessageType { return MessageTypeStatusUpdate }

// TaskCompletion task_completion 载荷, Status 只能是 completed 或 failed.
type TaskCompletion struct {
	TaskID          string          `json:"task_id"`
	Status          types.TaskState `json:"status"`
	Result          map[string]any  `json:"result"`
	ExecutionTimeMs *int64          `json:"execution_time_ms,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// MessageType implements Payload.
func (TaskCompletion) MessageType() MessageType { return MessageTypeTaskCompletion }

// Ping ping 载荷. Echo 可以是任意 JSON 值.
type Ping struct {
	Nonce string `json:"nonce"`
	Echo  any    `json:"echo,omitempty"`
}

// MessageType implements Payload.
func (Ping) MessageType() MessageType { return MessageTypePing }

// ErrorPayload error 报文载荷, 同时也是 HTTP 错误响应体.
type ErrorPayload struct {
	OriginalMessageID string          `json:"original_message_id"`
	ErrorCode         types.ErrorCode `json:"error_code"`
	ErrorMessage      string          `json:"error_message"`
	Details           map[string]any  `json:"details,omitempty"`
}

// MessageType implements Payload.
func (ErrorPayload) MessageType() MessageType { return MessageTypeError }

// NewMessage 创建一个新报文, 自动填充版本、UUID 和 UTC 时间戳.
// 返回的报文尚未经过 Validate, 发送前应调用 Encode.
func NewMessage(from, to string, body Payload) (*Message, error) {
	if body == nil {
		return nil, types.NewError(types.ErrInvalidMessageFormat, "message body is nil")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrPayloadValidationFailed, "marshal payload").WithCause(err)
	}
	// Body 统一为解码后的指针形式, 与 Validate 的结果保持一致
	decoded, err := decodeBody(body.MessageType(), raw)
	if err != nil {
		return nil, err
	}
	return &Message{
		Version:   ProtocolVersion,
		MessageID: uuid.New().String(),
		Timestamp: time.Now().UTC(),
		From:      from,
		To:        to,
		Type:      body.MessageType(),
		Payload:   raw,
		Body:      decoded,
	}, nil
}

// Encode 序列化报文并对结果重新执行完整校验, 保证出站报文与入站规则一致.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidMessageFormat, "marshal message").WithCause(err)
	}
	if _, err := Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Reply 创建一条从 m 的接收方发回发送方的报文.
func (m *Message) Reply(body Payload) (*Message, error) {
	return NewMessage(m.To, m.From, body)
}

// TaskID 返回载荷中的 task_id, 没有则为空.
func (m *Message) TaskID() string {
	switch b := m.Body.(type) {
	case *TaskAssignment:
		return b.TaskID
	case *StatusUpdate:
		return b.TaskID
	case *TaskCompletion:
		return b.TaskID
	}
	return ""
}

func (m *Message) String() string {
	return fmt.Sprintf("%s[%s %s->%s]", m.Type, m.MessageID, m.From, m.To)
}
