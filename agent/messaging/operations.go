package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/types"
)

// AssignRequest 委派一个已创建的任务.
type AssignRequest struct {
	TaskID string

	// To 显式指定接收方; 为空时从目录中按能力选择
	To string

	// RequiredCapabilities 为空时由任务类型推导
	RequiredCapabilities []a2a.Capability
}

// AssignResult 委派成功后的任务与接收方.
type AssignResult struct {
	Task    *lifecycle.Task
	Agent   *a2a.AgentCard
	Receipt *Receipt
}

// StatusReport 接收方上报的任务进度.
type StatusReport struct {
	Status   types.TaskState
	Progress *float64
	Message  string
	Metadata map[string]any
}

// PingResult ping 的往返结果.
type PingResult struct {
	Receipt *Receipt
	Nonce   string
	Echo    any
	RTT     time.Duration
}

// CreateTask 在本地创建任务, 不发送任何报文.
func (c *Client) CreateTask(ctx context.Context, spec lifecycle.NewTask) (*lifecycle.Task, error) {
	return c.engine.Create(ctx, spec)
}

// AssignTask 把任务委派给一个合格的 Agent.
//
// 接收方确认后任务进入 assigned; 任何失败 (能力不匹配、投递耗尽、对端拒绝) 都让任务保持原状态.
func (c *Client) AssignTask(ctx context.Context, req AssignRequest) (*AssignResult, error) {
	task, err := c.engine.Get(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	required := a2a.RequiredCapabilities(task.TaskType, req.RequiredCapabilities)

	card, err := c.recipientFor(ctx, req.To, required, task.TaskType)
	if err != nil {
		return nil, err
	}
	if err := c.engine.Check(ctx, task.TaskID, lifecycle.Event{Type: lifecycle.EventAssign, Agent: card.ID}); err != nil {
		return nil, err
	}

	payload := task.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	msg, err := a2a.NewMessage(c.self.ID, card.ID, &a2a.TaskAssignment{
		TaskID:      task.TaskID,
		TaskType:    task.TaskType,
		Title:       task.Title,
		Description: task.Description,
		Payload:     payload,
		Priority:    task.Priority,
		Deadline:    task.Deadline,
		Metadata:    task.Metadata,
	})
	if err != nil {
		return nil, err
	}

	receipt, err := c.send(ctx, msg, card.Endpoint, nil)
	if err != nil {
		c.logger.Warn("task assignment not delivered",
			zap.String("task_id", task.TaskID),
			zap.String("to", card.ID),
			zap.Error(err),
		)
		return nil, err
	}

	assigned, err := c.engine.Assign(ctx, task.TaskID, card.ID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("task assigned",
		zap.String("task_id", task.TaskID),
		zap.String("to", card.ID),
		zap.Int("attempts", receipt.Attempts),
	)
	return &AssignResult{Task: assigned, Agent: card, Receipt: receipt}, nil
}

// Delegate 创建任务并立即委派. 委派失败时返回已创建的任务与错误.
func (c *Client) Delegate(ctx context.Context, spec lifecycle.NewTask, to string, required ...a2a.Capability) (*AssignResult, error) {
	task, err := c.CreateTask(ctx, spec)
	if err != nil {
		return nil, err
	}
	res, err := c.AssignTask(ctx, AssignRequest{TaskID: task.TaskID, To: to, RequiredCapabilities: required})
	if err != nil {
		return &AssignResult{Task: task}, err
	}
	return res, nil
}

// recipientFor 解析接收方. 显式指定时只做资格检查; 否则排除自身后择优.
func (c *Client) recipientFor(ctx context.Context, to string, required []a2a.Capability, taskType string) (*a2a.AgentCard, error) {
	if to != "" {
		card, err := c.resolve(ctx, to)
		if err != nil {
			return nil, err
		}
		if err := a2a.CheckEligible(required, taskType, card); err != nil {
			return nil, err
		}
		if !card.Available() {
			c.logger.Warn("assigning to unavailable agent",
				zap.String("agent_id", card.ID),
				zap.String("status", string(card.Status)),
			)
		}
		return card, nil
	}

	cards, err := c.directory.ListAgents(ctx, discovery.AgentFilter{})
	if err != nil {
		return nil, err
	}
	candidates := cards[:0:0]
	for _, card := range cards {
		if card != nil && card.ID != c.self.ID && card.Endpoint != "" {
			candidates = append(candidates, card)
		}
	}
	return a2a.SelectAgent(candidates, required, taskType)
}

// SendStatusUpdate 向委派方上报进度并推进本地任务.
//
// status_update 不需要确认: 投递失败只记录在 Receipt.Dropped 中, 本地转换照常生效.
func (c *Client) SendStatusUpdate(ctx context.Context, taskID string, report StatusReport) (*lifecycle.Task, *Receipt, error) {
	ev, err := statusEvent(report.Status, report.Progress, report.Message, report.Metadata)
	if err != nil {
		return nil, nil, err
	}
	to, err := c.checkReport(ctx, taskID, ev)
	if err != nil {
		return nil, nil, err
	}
	card, err := c.resolve(ctx, to)
	if err != nil {
		return nil, nil, err
	}

	msg, err := a2a.NewMessage(c.self.ID, card.ID, &a2a.StatusUpdate{
		TaskID:   taskID,
		Status:   report.Status,
		Progress: report.Progress,
		Message:  report.Message,
		Metadata: report.Metadata,
	})
	if err != nil {
		return nil, nil, err
	}
	receipt, err := c.send(ctx, msg, card.Endpoint, nil)
	if err != nil {
		return nil, receipt, err
	}

	task, _, err := c.engine.Apply(ctx, taskID, ev)
	if err != nil {
		return nil, receipt, err
	}
	return task, receipt, nil
}

// SendCompletion 上报任务完成. 委派方确认后本地任务进入 completed.
func (c *Client) SendCompletion(ctx context.Context, taskID string, result map[string]any, executionTimeMs *int64) (*lifecycle.Task, *Receipt, error) {
	if result == nil {
		result = map[string]any{}
	}
	ev := lifecycle.Event{Type: lifecycle.EventComplete, Result: result, ExecutionTimeMs: executionTimeMs}
	return c.sendCompletion(ctx, taskID, ev, &a2a.TaskCompletion{
		TaskID:          taskID,
		Status:          types.TaskStateCompleted,
		Result:          result,
		ExecutionTimeMs: executionTimeMs,
	})
}

// SendFailure 上报任务失败, 错误信息放在 result.error 中.
func (c *Client) SendFailure(ctx context.Context, taskID, errMsg string, details map[string]any) (*lifecycle.Task, *Receipt, error) {
	result := map[string]any{ResultKeyError: errMsg}
	if len(details) > 0 {
		result[ResultKeyDetails] = details
	}
	ev := lifecycle.Event{Type: lifecycle.EventFail, Error: errMsg, ErrorDetails: details}
	return c.sendCompletion(ctx, taskID, ev, &a2a.TaskCompletion{
		TaskID: taskID,
		Status: types.TaskStateFailed,
		Result: result,
	})
}

// task_completion 中失败信息使用的键.
const (
	ResultKeyError   = "error"
	ResultKeyDetails = "details"
)

func (c *Client) sendCompletion(ctx context.Context, taskID string, ev lifecycle.Event, body *a2a.TaskCompletion) (*lifecycle.Task, *Receipt, error) {
	to, err := c.checkReport(ctx, taskID, ev)
	if err != nil {
		return nil, nil, err
	}
	card, err := c.resolve(ctx, to)
	if err != nil {
		return nil, nil, err
	}
	msg, err := a2a.NewMessage(c.self.ID, card.ID, body)
	if err != nil {
		return nil, nil, err
	}
	receipt, err := c.send(ctx, msg, card.Endpoint, nil)
	if err != nil {
		return nil, receipt, err
	}
	task, _, err := c.engine.Apply(ctx, taskID, ev)
	if err != nil {
		return nil, receipt, err
	}
	return task, receipt, nil
}

// checkReport 预检本地转换并返回委派方 ID.
func (c *Client) checkReport(ctx context.Context, taskID string, ev lifecycle.Event) (string, error) {
	task, err := c.engine.Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	to, _ := task.Metadata[MetadataDelegatedBy].(string)
	if to == "" {
		return "", types.Errorf(types.ErrAgentNotFound, "task %s was not delegated by a known agent", taskID).
			WithDetail("task_id", taskID)
	}
	if err := c.engine.Check(ctx, taskID, ev); err != nil {
		return "", err
	}
	return to, nil
}

// Ping 探测对端, 响应必须回显相同的 nonce. nonce 不一致视为协议违规, 不重试.
func (c *Client) Ping(ctx context.Context, agentID string, echo any) (*PingResult, error) {
	card, err := c.resolve(ctx, agentID)
	if err != nil {
		return nil, err
	}
	nonce := uuid.NewString()
	msg, err := a2a.NewMessage(c.self.ID, card.ID, &a2a.Ping{Nonce: nonce, Echo: echo})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	receipt, err := c.send(ctx, msg, card.Endpoint, func(ack *a2a.Ack) error {
		if ack.Nonce != nonce {
			return types.Errorf(types.ErrProtocolViolation, "ping nonce mismatch: sent %q, received %q", nonce, ack.Nonce).
				WithDetail("expected_nonce", nonce).
				WithDetail("received_nonce", ack.Nonce).
				WithRetryable(false)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &PingResult{
		Receipt: receipt,
		Nonce:   nonce,
		Echo:    receipt.Ack.Echo,
		RTT:     time.Since(start),
	}, nil
}

// SendError 向 agentID 报告一条报文处理失败.
func (c *Client) SendError(ctx context.Context, agentID, originalMessageID string, cause error) (*Receipt, error) {
	card, err := c.resolve(ctx, agentID)
	if err != nil {
		return nil, err
	}
	msg, err := a2a.NewMessage(c.self.ID, card.ID, a2a.NewErrorResponse(originalMessageID, cause))
	if err != nil {
		return nil, err
	}
	return c.send(ctx, msg, card.Endpoint, nil)
}

// ReplyError 针对一条发给本 agent 的入站报文, 向其发送方回报处理失败.
func (c *Client) ReplyError(ctx context.Context, original *a2a.Message, cause error) (*Receipt, error) {
	if original.To != c.self.ID {
		return nil, types.Errorf(types.ErrProtocolViolation, "message %s is addressed to %s", original.MessageID, original.To).
			WithDetail("recipient", original.To)
	}
	card, err := c.resolve(ctx, original.From)
	if err != nil {
		return nil, err
	}
	msg, err := original.Reply(a2a.NewErrorResponse(original.MessageID, cause))
	if err != nil {
		return nil, err
	}
	return c.send(ctx, msg, card.Endpoint, nil)
}

// statusEvent 把 status_update 映射为生命周期事件.
// in_progress 为进度更新; failed / cancelled 为对应的终止事件; 其他状态只是重申当前状态.
func statusEvent(status types.TaskState, progress *float64, message string, metadata map[string]any) (lifecycle.Event, error) {
	if !status.IsValid() {
		return lifecycle.Event{}, types.Errorf(types.ErrPayloadValidationFailed, "unknown task status %q", status).
			WithDetail("field", "status")
	}
	switch status {
	case types.TaskStateInProgress:
		return lifecycle.Event{Type: lifecycle.EventUpdate, Progress: progress, Message: message, Metadata: metadata}, nil
	case types.TaskStateFailed:
		return lifecycle.Event{Type: lifecycle.EventFail, Error: message, Metadata: metadata}, nil
	case types.TaskStateCancelled:
		return lifecycle.Event{Type: lifecycle.EventCancel, Reason: message, Metadata: metadata}, nil
	default:
		return lifecycle.Event{Type: lifecycle.EventReport, Target: status}, nil
	}
}
