package a2a

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/a2abridge/types"
)

const testMessageID = "5f0c7a6e-2f7b-4d0a-9a57-8d3f3b0c1e11"

func envelope(msgType string, payload map[string]any) map[string]any {
	return map[string]any{
		"version":    "1.0.0",
		"message_id": testMessageID,
		"timestamp":  "2026-03-01T10:00:00Z",
		"from":       "agent-a",
		"to":         "agent-b",
		"type":       msgType,
		"payload":    payload,
	}
}

func assignmentPayload() map[string]any {
	return map[string]any{
		"task_id":     "task-1",
		"task_type":   "research",
		"title":       "Collect sources",
		"description": "Find three papers",
		"payload":     map[string]any{"topic": "raft"},
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestValidate_ValidMessages(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload map[string]any
	}{
		{"task assignment", "task_assignment", assignmentPayload()},
		{"assignment with optionals", "task_assignment", func() map[string]any {
			p := assignmentPayload()
			p["priority"] = "urgent"
			p["deadline"] = "2026-03-02T00:00:00+08:00"
			p["metadata"] = map[string]any{"source": "cli"}
			return p
		}()},
		{"status update", "status_update", map[string]any{"task_id": "task-1", "status": "in_progress", "progress": 0.5}},
		{"status update bounds", "status_update", map[string]any{"task_id": "task-1", "status": "in_progress", "progress": 1}},
		{"completion", "task_completion", map[string]any{"task_id": "task-1", "status": "completed", "result": map[string]any{"ok": true}, "execution_time_ms": 1200}},
		{"failure", "task_completion", map[string]any{"task_id": "task-1", "status": "failed", "result": map[string]any{"error": "boom"}}},
		{"ping", "ping", map[string]any{"nonce": "abc", "echo": []any{1, "two"}}},
		{"error", "error", map[string]any{"original_message_id": testMessageID, "error_code": "TASK_NOT_FOUND", "error_message": "unknown task"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Validate(mustJSON(t, envelope(tt.msgType, tt.payload)))
			require.NoError(t, err)
			assert.Equal(t, MessageType(tt.msgType), msg.Type)
			assert.Equal(t, testMessageID, msg.MessageID)
			assert.NotNil(t, msg.Body)
			assert.Equal(t, msg.Type, msg.Body.MessageType())
		})
	}
}

func TestValidate_DecodesTypedBody(t *testing.T) {
	msg, err := Validate(mustJSON(t, envelope("status_update",
		map[string]any{"task_id": "task-1", "status": "in_progress", "progress": 0.25, "message": "halfway-ish"})))
	require.NoError(t, err)

	body, ok := msg.Body.(*StatusUpdate)
	require.True(t, ok)
	assert.Equal(t, "task-1", body.TaskID)
	assert.Equal(t, types.TaskStateInProgress, body.Status)
	require.NotNil(t, body.Progress)
	assert.InDelta(t, 0.25, *body.Progress, 1e-9)
	assert.Equal(t, "task-1", msg.TaskID())
}

func TestValidate_EnvelopeErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m map[string]any)
		code   types.ErrorCode
		field  string
	}{
		{"unsupported version", func(m map[string]any) { m["version"] = "2.0.0" }, types.ErrInvalidMessageFormat, "version"},
		{"bad message id", func(m map[string]any) { m["message_id"] = "not-a-uuid" }, types.ErrInvalidMessageFormat, "message_id"},
		{"bad timestamp", func(m map[string]any) { m["timestamp"] = "yesterday" }, types.ErrInvalidMessageFormat, "timestamp"},
		{"bad from", func(m map[string]any) { m["from"] = "" }, types.ErrInvalidMessageFormat, "from"},
		{"bad to", func(m map[string]any) { m["to"] = "has space" }, types.ErrInvalidMessageFormat, "to"},
		{"missing payload", func(m map[string]any) { delete(m, "payload") }, types.ErrInvalidMessageFormat, "payload"},
		{"unknown envelope key", func(m map[string]any) { m["priority"] = "high" }, types.ErrInvalidMessageFormat, "priority"},
		{"non string signature", func(m map[string]any) { m["signature"] = 42 }, types.ErrInvalidMessageFormat, "signature"},
		{"unknown type", func(m map[string]any) { m["type"] = "broadcast" }, types.ErrUnsupportedMessageType, "type"},
		{"payload not object", func(m map[string]any) { m["payload"] = []any{1} }, types.ErrPayloadValidationFailed, "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := envelope("task_assignment", assignmentPayload())
			tt.mutate(m)
			_, err := Validate(mustJSON(t, m))
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.field, e.Details["field"])
			assert.False(t, e.Retryable)
		})
	}
}

func TestValidate_NotAnObject(t *testing.T) {
	for _, raw := range []string{"", "[]", "null", "\"x\"", "{", "{} trailing"} {
		_, err := Validate([]byte(raw))
		assert.True(t, types.IsCode(err, types.ErrInvalidMessageFormat), "input %q", raw)
	}
}

func TestValidate_SignatureAcceptedAndIgnored(t *testing.T) {
	m := envelope("ping", map[string]any{"nonce": "n-1"})
	m["signature"] = "opaque"
	msg, err := Validate(mustJSON(t, m))
	require.NoError(t, err)
	require.NotNil(t, msg.Signature)
	assert.Equal(t, "opaque", *msg.Signature)

	m["signature"] = nil
	msg, err = Validate(mustJSON(t, m))
	require.NoError(t, err)
	assert.Nil(t, msg.Signature)
}

func TestValidate_NaiveTimestampIsUTC(t *testing.T) {
	m := envelope("ping", map[string]any{"nonce": "n-1"})
	m["timestamp"] = "2026-03-01T10:00:00.123456"
	msg, err := Validate(mustJSON(t, m))
	require.NoError(t, err)
	assert.Equal(t, 10, msg.Timestamp.UTC().Hour())
}

func TestValidate_PayloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload map[string]any
		field   string
	}{
		{"missing task_id", "task_assignment", func() map[string]any {
			p := assignmentPayload()
			delete(p, "task_id")
			return p
		}(), "task_id"},
		{"empty title", "task_assignment", func() map[string]any {
			p := assignmentPayload()
			p["title"] = ""
			return p
		}(), "title"},
		{"bad priority", "task_assignment", func() map[string]any {
			p := assignmentPayload()
			p["priority"] = "critical"
			return p
		}(), "priority"},
		{"naive deadline", "task_assignment", func() map[string]any {
			p := assignmentPayload()
			p["deadline"] = "2026-03-02T00:00:00"
			return p
		}(), "deadline"},
		{"inner payload not object", "task_assignment", func() map[string]any {
			p := assignmentPayload()
			p["payload"] = "text"
			return p
		}(), "payload"},
		{"progress above one", "status_update", map[string]any{"task_id": "t", "status": "in_progress", "progress": 1.5}, "progress"},
		{"negative progress", "status_update", map[string]any{"task_id": "t", "status": "in_progress", "progress": -0.1}, "progress"},
		{"progress string", "status_update", map[string]any{"task_id": "t", "status": "in_progress", "progress": "0.5"}, "progress"},
		{"unknown state", "status_update", map[string]any{"task_id": "t", "status": "paused"}, "status"},
		{"completion in progress", "task_completion", map[string]any{"task_id": "t", "status": "in_progress", "result": map[string]any{}}, "status"},
		{"result not object", "task_completion", map[string]any{"task_id": "t", "status": "completed", "result": "done"}, "result"},
		{"fractional execution time", "task_completion", map[string]any{"task_id": "t", "status": "completed", "result": map[string]any{}, "execution_time_ms": 1.5}, "execution_time_ms"},
		{"negative execution time", "task_completion", map[string]any{"task_id": "t", "status": "completed", "result": map[string]any{}, "execution_time_ms": -1}, "execution_time_ms"},
		{"null nonce", "ping", map[string]any{"nonce": nil}, "nonce"},
		{"unknown error code", "error", map[string]any{"original_message_id": "", "error_code": "OOPS", "error_message": "x"}, "error_code"},
		{"unknown payload key", "ping", map[string]any{"nonce": "abc", "reply_to": "x"}, "reply_to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(mustJSON(t, envelope(tt.msgType, tt.payload)))
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, types.ErrPayloadValidationFailed, e.Code)
			assert.Equal(t, tt.field, e.Details["field"])
		})
	}
}

func TestValidate_OptionalNullIsAbsent(t *testing.T) {
	_, err := Validate(mustJSON(t, envelope("status_update",
		map[string]any{"task_id": "t", "status": "assigned", "progress": nil, "metadata": nil})))
	assert.NoError(t, err)
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload(MessageTypePing, []byte(`{"nonce":"abc"}`)))
	assert.True(t, types.IsCode(ValidatePayload(MessageTypePing, []byte(`{"nonce":"abc","x":1}`)), types.ErrPayloadValidationFailed))
	assert.True(t, types.IsCode(ValidatePayload("broadcast", []byte(`{}`)), types.ErrUnsupportedMessageType))
}

func TestNewMessage_EncodeRoundTrip(t *testing.T) {
	progress := 0.75
	msg, err := NewMessage("agent-a", "agent-b", &StatusUpdate{
		TaskID:   "task-9",
		Status:   types.TaskStateInProgress,
		Progress: &progress,
	})
	require.NoError(t, err)

	data, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Validate(data)
	require.NoError(t, err)
	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, msg.From, decoded.From)
	assert.Equal(t, msg.To, decoded.To)
	assert.Equal(t, msg.Body, decoded.Body)
	assert.True(t, msg.Timestamp.Equal(decoded.Timestamp))
}

func TestMessage_EncodeRejectsInvalidBody(t *testing.T) {
	// payload 为 nil map 会被编码成 null
	msg, err := NewMessage("agent-a", "agent-b", &TaskAssignment{
		TaskID: "t", TaskType: "research", Title: "x",
	})
	require.NoError(t, err)
	_, err = msg.Encode()
	assert.True(t, types.IsCode(err, types.ErrPayloadValidationFailed))
}

func TestMessage_Reply(t *testing.T) {
	msg, err := NewMessage("agent-a", "agent-b", &Ping{Nonce: "abc"})
	require.NoError(t, err)
	reply, err := msg.Reply(&ErrorPayload{
		OriginalMessageID: msg.MessageID,
		ErrorCode:         types.ErrProtocolViolation,
		ErrorMessage:      "nonce mismatch",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-b", reply.From)
	assert.Equal(t, "agent-a", reply.To)
	assert.NotEqual(t, msg.MessageID, reply.MessageID)
	_, err = reply.Encode()
	assert.NoError(t, err)
}

func TestAllowedFields(t *testing.T) {
	fields := AllowedFields(MessageTypeTaskCompletion)
	assert.Equal(t, map[string]bool{
		"task_id": true, "status": true, "result": true,
		"execution_time_ms": false, "metadata": false,
	}, fields)
	assert.Nil(t, AllowedFields("broadcast"))
	for _, mt := range MessageTypes() {
		assert.True(t, mt.IsValid())
	}
}
