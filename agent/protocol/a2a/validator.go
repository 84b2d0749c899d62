package a2a

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/a2abridge/types"
)

// 信封字段表. signature 可选且内容不做解释.
var (
	envelopeRequired = []string{"version", "message_id", "timestamp", "from", "to", "type", "payload"}
	envelopeOptional = map[string]struct{}{"signature": {}}
)

// naiveTimestampLayouts 兼容不带时区的 ISO 时间, 按 UTC 处理.
var naiveTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp 解析 RFC 3339 时间. 缺少时区偏移的 ISO 时间视为 UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	for _, layout := range naiveTimestampLayouts {
		if nt, nerr := time.ParseInLocation(layout, s, time.UTC); nerr == nil {
			return nt, nil
		}
	}
	return time.Time{}, err
}

// Validate 严格校验一条线上报文并返回解码后的 Message.
//
// 信封错误返回 INVALID_MESSAGE_FORMAT, 未知报文类型返回 UNSUPPORTED_MESSAGE_TYPE,
// 载荷错误返回 PAYLOAD_VALIDATION_FAILED. 任何不在字段表中的键都会被拒绝.
// Validate 无状态, 可并发调用.
func Validate(raw []byte) (*Message, error) {
	envelope, err := decodeObject(raw)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidMessageFormat, "message must be a JSON object").WithCause(err)
	}

	if unknown := unknownKeys(envelope, envelopeRequired, envelopeOptional); len(unknown) > 0 {
		return nil, formatError(unknown[0], "unknown envelope field %q", unknown[0])
	}
	for _, key := range envelopeRequired {
		if _, ok := envelope[key]; !ok {
			return nil, formatError(key, "missing envelope field %q", key)
		}
	}

	msg := &Message{}

	if err := json.Unmarshal(envelope["version"], &msg.Version); err != nil {
		return nil, formatError("version", "version must be a string")
	}
	if msg.Version != ProtocolVersion {
		return nil, formatError("version", "unsupported protocol version %q", msg.Version)
	}

	if err := json.Unmarshal(envelope["message_id"], &msg.MessageID); err != nil {
		return nil, formatError("message_id", "message_id must be a string")
	}
	if !isCanonicalUUID(msg.MessageID) {
		return nil, formatError("message_id", "message_id %q is not a UUID", msg.MessageID)
	}

	var ts string
	if err := json.Unmarshal(envelope["timestamp"], &ts); err != nil {
		return nil, formatError("timestamp", "timestamp must be a string")
	}
	if msg.Timestamp, err = ParseTimestamp(ts); err != nil {
		return nil, formatError("timestamp", "timestamp %q is not an RFC 3339 instant", ts)
	}

	for _, f := range []struct {
		name string
		dst  *string
	}{{"from", &msg.From}, {"to", &msg.To}} {
		if err := json.Unmarshal(envelope[f.name], f.dst); err != nil {
			return nil, formatError(f.name, "%s must be a string", f.name)
		}
		if !IsValidAgentID(*f.dst) {
			return nil, formatError(f.name, "%s %q is not a valid agent id", f.name, *f.dst)
		}
	}

	var msgType string
	if err := json.Unmarshal(envelope["type"], &msgType); err != nil {
		return nil, formatError("type", "type must be a string")
	}
	msg.Type = MessageType(msgType)
	sch, ok := schemas[msg.Type]
	if !ok {
		return nil, unsupportedTypeError(msgType)
	}

	if sig, ok := envelope["signature"]; ok && !isNull(sig) {
		var s string
		if err := json.Unmarshal(sig, &s); err != nil {
			return nil, formatError("signature", "signature must be a string")
		}
		msg.Signature = &s
	}

	payload, err := decodeObject(envelope["payload"])
	if err != nil {
		return nil, payloadError("payload", "payload must be an object")
	}
	if err := validatePayload(sch, payload); err != nil {
		return nil, err
	}

	msg.Payload = compact(envelope["payload"])
	if msg.Body, err = decodeBody(msg.Type, msg.Payload); err != nil {
		return nil, err
	}
	return msg, nil
}

// ValidatePayload 按报文类型的字段表校验单独的载荷对象.
func ValidatePayload(t MessageType, raw []byte) error {
	sch, ok := schemas[t]
	if !ok {
		return unsupportedTypeError(string(t))
	}
	payload, err := decodeObject(raw)
	if err != nil {
		return payloadError("payload", "payload must be an object")
	}
	return validatePayload(sch, payload)
}

func validatePayload(sch payloadSchema, payload map[string]json.RawMessage) error {
	for _, key := range sortedKeys(payload) {
		if _, ok := sch.fields[key]; !ok {
			return payloadError(key, "unknown payload field %q", key)
		}
	}
	for _, name := range sch.order {
		spec := sch.fields[name]
		value, present := payload[name]
		if !present {
			if spec.required {
				return payloadError(name, "missing required field %q", name)
			}
			continue
		}
		// 可选字段显式为 null 等同于缺省
		if !spec.required && isNull(value) {
			continue
		}
		if err := spec.check(name, value); err != nil {
			return err
		}
	}
	return nil
}

// decodeBody 将已校验的载荷解码为对应的强类型结构 (指针).
func decodeBody(t MessageType, raw json.RawMessage) (Payload, error) {
	var body Payload
	switch t {
	case MessageTypeTaskAssignment:
		body = &TaskAssignment{}
	case MessageTypeStatusUpdate:
		body = &StatusUpdate{}
	case MessageTypeTaskCompletion:
		body = &TaskCompletion{}
	case MessageTypePing:
		body = &Ping{}
	case MessageTypeError:
		body = &ErrorPayload{}
	default:
		return nil, unsupportedTypeError(string(t))
	}
	if err := json.Unmarshal(raw, body); err != nil {
		return nil, types.NewError(types.ErrPayloadValidationFailed, "decode payload").WithCause(err)
	}
	return body, nil
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func unknownKeys(m map[string]json.RawMessage, req []string, opt map[string]struct{}) []string {
	known := make(map[string]struct{}, len(req)+len(opt))
	for _, k := range req {
		known[k] = struct{}{}
	}
	for k := range opt {
		known[k] = struct{}{}
	}
	var unknown []string
	for _, k := range sortedKeys(m) {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isCanonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
