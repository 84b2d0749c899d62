package messaging

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/agent/transport"
	"github.com/BaSui01/a2abridge/types"
)

var _ transport.Processor = (*Client)(nil)

// Process 处理一条入站报文并返回确认.
//
// 报文先经过完整校验, 且必须发给本 Agent. 已处理过的 message_id 直接返回之前的确认,
// 重投不会再次触发转换与处理器.
func (c *Client) Process(ctx context.Context, raw []byte) (*a2a.Ack, error) {
	msg, err := a2a.Validate(raw)
	if err != nil {
		c.observe(DirectionInbound, a2a.MessageType(""), outcomeOf(err))
		c.logger.Debug("rejected inbound message",
			zap.String("message_id", transport.PeekMessageID(raw)),
			zap.Error(err),
		)
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "a2a.receive "+string(msg.Type),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("a2a.message_id", msg.MessageID),
			attribute.String("a2a.message_type", string(msg.Type)),
			attribute.String("a2a.from", msg.From),
		),
	)
	defer span.End()

	ack, duplicate, err := c.process(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.observe(DirectionInbound, msg.Type, outcomeOf(err))
		c.logger.Info("inbound message failed",
			zap.Stringer("message", msg),
			zap.String("task_id", msg.TaskID()),
			zap.Error(err),
		)
		return nil, err
	}
	if duplicate {
		span.SetAttributes(attribute.Bool("a2a.duplicate", true))
		c.observe(DirectionInbound, msg.Type, OutcomeDuplicate)
		return ack, nil
	}
	c.observe(DirectionInbound, msg.Type, OutcomeOK)
	return ack, nil
}

func (c *Client) process(ctx context.Context, msg *a2a.Message) (*a2a.Ack, bool, error) {
	if msg.To != c.self.ID {
		return nil, false, types.Errorf(types.ErrAgentNotFound, "message is addressed to %s, this agent is %s", msg.To, c.self.ID).
			WithDetail("to", msg.To)
	}
	if prev, ok := c.seen.Get(msg.MessageID); ok {
		c.logger.Debug("duplicate message acknowledged", zap.Stringer("message", msg))
		return prev, true, nil
	}

	ack := a2a.NewAck(msg.MessageID)
	var err error
	switch body := msg.Body.(type) {
	case *a2a.TaskAssignment:
		err = c.acceptAssignment(ctx, msg.From, body)
	case *a2a.StatusUpdate:
		err = c.applyStatusUpdate(ctx, msg.From, body)
	case *a2a.TaskCompletion:
		err = c.applyCompletion(ctx, msg.From, body)
	case *a2a.Ping:
		ack.Nonce = body.Nonce
		ack.Echo = body.Echo
	case *a2a.ErrorPayload:
		c.logger.Warn("peer reported error",
			zap.String("from", msg.From),
			zap.String("original_message_id", body.OriginalMessageID),
			zap.String("error_code", string(body.ErrorCode)),
			zap.String("error_message", body.ErrorMessage),
		)
	default:
		err = types.Errorf(types.ErrUnsupportedMessageType, "no processor for %s", msg.Type)
	}
	if err != nil {
		return nil, false, err
	}

	c.seen.Add(msg.MessageID, ack)
	c.dispatch(ctx, msg)
	return ack, false, nil
}

// acceptAssignment 接收方登记任务. 本 Agent 不具备所需能力时拒绝.
func (c *Client) acceptAssignment(ctx context.Context, from string, body *a2a.TaskAssignment) error {
	required := a2a.RequiredCapabilities(body.TaskType, nil)
	if err := a2a.CheckEligible(required, body.TaskType, c.self); err != nil {
		return err
	}

	metadata := make(map[string]any, len(body.Metadata)+1)
	for k, v := range body.Metadata {
		metadata[k] = v
	}
	metadata[MetadataDelegatedBy] = from

	_, applied, err := c.engine.Accept(ctx, lifecycle.NewTask{
		TaskID:      body.TaskID,
		TaskType:    body.TaskType,
		Title:       body.Title,
		Description: body.Description,
		Payload:     body.Payload,
		Priority:    body.Priority,
		Deadline:    body.Deadline,
		Metadata:    metadata,
	}, c.self.ID)
	if err != nil {
		return err
	}
	if applied {
		c.logger.Info("task accepted", zap.String("task_id", body.TaskID), zap.String("from", from))
	}
	return nil
}

func (c *Client) applyStatusUpdate(ctx context.Context, from string, body *a2a.StatusUpdate) error {
	if err := c.checkSender(ctx, from, body.TaskID); err != nil {
		return err
	}
	ev, err := statusEvent(body.Status, body.Progress, body.Message, body.Metadata)
	if err != nil {
		return err
	}
	_, _, err = c.engine.Apply(ctx, body.TaskID, ev)
	return err
}

func (c *Client) applyCompletion(ctx context.Context, from string, body *a2a.TaskCompletion) error {
	if err := c.checkSender(ctx, from, body.TaskID); err != nil {
		return err
	}
	ev := lifecycle.Event{
		Type:            lifecycle.EventComplete,
		Result:          body.Result,
		ExecutionTimeMs: body.ExecutionTimeMs,
		Metadata:        body.Metadata,
	}
	if body.Status == types.TaskStateFailed {
		errMsg, _ := body.Result[ResultKeyError].(string)
		details, _ := body.Result[ResultKeyDetails].(map[string]any)
		ev = lifecycle.Event{
			Type:         lifecycle.EventFail,
			Error:        errMsg,
			ErrorDetails: details,
			Metadata:     body.Metadata,
		}
	}
	_, _, err := c.engine.Apply(ctx, body.TaskID, ev)
	return err
}

// checkSender 只有任务的受托方可以上报它的进展.
func (c *Client) checkSender(ctx context.Context, from, taskID string) error {
	task, err := c.engine.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.AssignedAgent != from {
		return types.Errorf(types.ErrProtocolViolation, "agent %s is not assigned to task %s", from, taskID).
			WithDetail("task_id", taskID).
			WithDetail("from", from)
	}
	return nil
}

// dispatch 调用已注册的处理器. 处理器失败只记录日志.
func (c *Client) dispatch(ctx context.Context, msg *a2a.Message) {
	c.mu.RLock()
	handlers := append([]Handler(nil), c.handlers[msg.Type]...)
	c.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			c.logger.Warn("message handler failed",
				zap.Stringer("message", msg),
				zap.Error(err),
			)
		}
	}
}
