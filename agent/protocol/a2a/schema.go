package a2a

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/BaSui01/a2abridge/types"
)

// fieldCheck 校验单个载荷字段的原始 JSON 值.
type fieldCheck func(field string, raw json.RawMessage) error

// fieldSpec 描述载荷中一个字段.
type fieldSpec struct {
	required bool
	check    fieldCheck
}

// payloadSchema 是某一报文类型的完整字段表, 不在表内的字段一律拒绝.
type payloadSchema struct {
	fields map[string]fieldSpec
	order  []string
}

func schema(specs ...namedSpec) payloadSchema {
	s := payloadSchema{fields: make(map[string]fieldSpec, len(specs))}
	for _, ns := range specs {
		s.fields[ns.name] = ns.spec
		s.order = append(s.order, ns.name)
	}
	return s
}

type namedSpec struct {
	name string
	spec fieldSpec
}

func required(name string, check fieldCheck) namedSpec {
	return namedSpec{name: name, spec: fieldSpec{required: true, check: check}}
}

func optional(name string, check fieldCheck) namedSpec {
	return namedSpec{name: name, spec: fieldSpec{check: check}}
}

// schemas 按报文类型索引的载荷字段表.
var schemas = map[MessageType]payloadSchema{
	MessageTypeTaskAssignment: schema(
		required("task_id", nonEmptyString),
		required("task_type", nonEmptyString),
		required("title", nonEmptyString),
		required("description", anyString),
		required("payload", object),
		optional("priority", priority),
		optional("deadline", timestamp),
		optional("metadata", object),
	),
	MessageTypeStatusUpdate: schema(
		required("task_id", nonEmptyString),
		required("status", taskState),
		optional("progress", unitInterval),
		optional("message", anyString),
		optional("metadata", object),
	),
	MessageTypeTaskCompletion: schema(
		required("task_id", nonEmptyString),
		required("status", completionStatus),
		required("result", object),
		optional("execution_time_ms", nonNegativeInteger),
		optional("metadata", object),
	),
	MessageTypePing: schema(
		required("nonce", nonEmptyString),
		optional("echo", anyValue),
	),
	MessageTypeError: schema(
		required("original_message_id", anyString),
		required("error_code", errorCode),
		required("error_message", anyString),
		optional("details", object),
	),
}

// AllowedFields 返回报文类型允许的载荷字段及是否必填.
func AllowedFields(t MessageType) map[string]bool {
	s, ok := schemas[t]
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(s.fields))
	for name, spec := range s.fields {
		out[name] = spec.required
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(field string, raw json.RawMessage) (string, error) {
	var s string
	if isNull(raw) {
		return "", payloadError(field, "%s must be a string", field)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", payloadError(field, "%s must be a string", field)
	}
	return s, nil
}

func anyString(field string, raw json.RawMessage) error {
	_, err := decodeString(field, raw)
	return err
}

func nonEmptyString(field string, raw json.RawMessage) error {
	s, err := decodeString(field, raw)
	if err != nil {
		return err
	}
	if s == "" {
		return payloadError(field, "%s must not be empty", field)
	}
	return nil
}

func object(field string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payloadError(field, "%s must be an object", field)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return payloadError(field, "%s must be an object", field)
	}
	return nil
}

func anyValue(string, json.RawMessage) error { return nil }

func priority(field string, raw json.RawMessage) error {
	s, err := decodeString(field, raw)
	if err != nil {
		return err
	}
	if !types.Priority(s).IsValid() {
		return payloadError(field, "%s %q is not one of low, medium, high, urgent", field, s)
	}
	return nil
}

func taskState(field string, raw json.RawMessage) error {
	s, err := decodeString(field, raw)
	if err != nil {
		return err
	}
	if !types.TaskState(s).IsValid() {
		return payloadError(field, "%s %q is not a task state", field, s)
	}
	return nil
}

func completionStatus(field string, raw json.RawMessage) error {
	s, err := decodeString(field, raw)
	if err != nil {
		return err
	}
	switch types.TaskState(s) {
	case types.TaskStateCompleted, types.TaskStateFailed:
		return nil
	}
	return payloadError(field, "%s must be completed or failed, got %q", field, s)
}

func errorCode(field string, raw json.RawMessage) error {
	s, err := decodeString(field, raw)
	if err != nil {
		return err
	}
	if !types.ErrorCode(s).IsValid() {
		return payloadError(field, "%s %q is not a known error code", field, s)
	}
	return nil
}

func timestamp(field string, raw json.RawMessage) error {
	s, err := decodeString(field, raw)
	if err != nil {
		return err
	}
	// 载荷内的时间直接解码为 time.Time, 必须带时区
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		return payloadError(field, "%s is not an RFC 3339 timestamp", field)
	}
	return nil
}

func decodeNumber(field string, raw json.RawMessage) (json.Number, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", payloadError(field, "%s must be a number", field)
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", payloadError(field, "%s must be a number", field)
	}
	return n, nil
}

// unitInterval 要求 0.0 <= v <= 1.0, 越界直接拒绝, 不做截断.
func unitInterval(field string, raw json.RawMessage) error {
	n, err := decodeNumber(field, raw)
	if err != nil {
		return err
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || f < 0 || f > 1 {
		return payloadError(field, "%s must be within [0.0, 1.0], got %s", field, n)
	}
	return nil
}

func nonNegativeInteger(field string, raw json.RawMessage) error {
	n, err := decodeNumber(field, raw)
	if err != nil {
		return err
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || i < 0 {
		return payloadError(field, "%s must be a non-negative integer, got %s", field, n)
	}
	return nil
}
