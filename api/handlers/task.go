package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/agent/messaging"
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/types"
)

// =============================================================================
// 📋 任务管理 Handler
// =============================================================================

// TaskEngine 任务查询与本地转换.
type TaskEngine interface {
	Get(ctx context.Context, taskID string) (*lifecycle.Task, error)
	List(ctx context.Context, filter lifecycle.TaskFilter) ([]*lifecycle.Task, error)
	Cancel(ctx context.Context, taskID, reason string) (*lifecycle.Task, error)
	Delete(ctx context.Context, taskID string) error
}

// Delegator 创建并委派任务.
type Delegator interface {
	CreateTask(ctx context.Context, spec lifecycle.NewTask) (*lifecycle.Task, error)
	AssignTask(ctx context.Context, req messaging.AssignRequest) (*messaging.AssignResult, error)
}

// TaskHandler 任务管理接口 /api/v1/tasks.
type TaskHandler struct {
	engine    TaskEngine
	delegator Delegator
	logger    *zap.Logger
}

// CreateTaskRequest 创建任务请求
type CreateTaskRequest struct {
	TaskID      string         `json:"task_id,omitempty"`
	TaskType    string         `json:"task_type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    types.Priority `json:"priority,omitempty"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Assign 为 true 时创建后立即委派
	Assign               bool             `json:"assign,omitempty"`
	To                   string           `json:"to,omitempty"`
	RequiredCapabilities []a2a.Capability `json:"required_capabilities,omitempty"`
}

// AssignTaskRequest 委派已有任务
type AssignTaskRequest struct {
	To                   string           `json:"to,omitempty"`
	RequiredCapabilities []a2a.Capability `json:"required_capabilities,omitempty"`
}

// CancelTaskRequest 取消任务
type CancelTaskRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AssignmentInfo 委派结果
type AssignmentInfo struct {
	Task      *lifecycle.Task `json:"task"`
	AgentID   string          `json:"agent_id"`
	MessageID string          `json:"message_id"`
	Attempts  int             `json:"attempts"`
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(engine TaskEngine, delegator Delegator, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{engine: engine, delegator: delegator, logger: logger}
}

// Register 把任务路由挂到 mux 上.
func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/tasks", h.HandleListTasks)
	mux.HandleFunc("POST /api/v1/tasks", h.HandleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGetTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", h.HandleDeleteTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/assign", h.HandleAssignTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", h.HandleCancelTask)
}

// HandleListTasks 列出任务, 支持 state / agent / task_type / active / limit 查询参数.
func (h *TaskHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := lifecycle.TaskFilter{
		State:         types.TaskState(q.Get("state")),
		AssignedAgent: q.Get("agent"),
		TaskType:      q.Get("task_type"),
		ActiveOnly:    q.Get("active") == "true",
	}
	if filter.State != "" && !filter.State.IsValid() {
		WriteError(w, types.Errorf(types.ErrPayloadValidationFailed, "unknown state %q", filter.State), h.logger)
		return
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			WriteError(w, types.Errorf(types.ErrPayloadValidationFailed, "limit must be a non-negative integer"), h.logger)
			return
		}
		filter.Limit = n
	}

	tasks, err := h.engine.List(r.Context(), filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if tasks == nil {
		tasks = []*lifecycle.Task{}
	}
	WriteSuccess(w, tasks)
}

// HandleGetTask 查询单个任务
func (h *TaskHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, task)
}

// HandleCreateTask 创建任务, assign=true 时立即委派.
// 委派失败时任务保留在 created 状态, 响应返回委派错误.
func (h *TaskHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	task, err := h.delegator.CreateTask(r.Context(), lifecycle.NewTask{
		TaskID:      req.TaskID,
		TaskType:    req.TaskType,
		Title:       req.Title,
		Description: req.Description,
		Payload:     req.Payload,
		Priority:    req.Priority,
		Deadline:    req.Deadline,
		Metadata:    req.Metadata,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if !req.Assign {
		WriteJSON(w, http.StatusCreated, Response{Success: true, Data: task, Timestamp: time.Now()})
		return
	}
	h.assign(w, r, task.TaskID, req.To, req.RequiredCapabilities)
}

// HandleAssignTask 委派已有任务
func (h *TaskHandler) HandleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req AssignTaskRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}
	h.assign(w, r, r.PathValue("id"), req.To, req.RequiredCapabilities)
}

func (h *TaskHandler) assign(w http.ResponseWriter, r *http.Request, taskID, to string, required []a2a.Capability) {
	res, err := h.delegator.AssignTask(r.Context(), messaging.AssignRequest{
		TaskID:               taskID,
		To:                   to,
		RequiredCapabilities: required,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, AssignmentInfo{
		Task:      res.Task,
		AgentID:   res.Agent.ID,
		MessageID: res.Receipt.MessageID,
		Attempts:  res.Receipt.Attempts,
	})
}

// HandleCancelTask 在本地取消任务
func (h *TaskHandler) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	var req CancelTaskRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}
	task, err := h.engine.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, task)
}

// HandleDeleteTask 删除任务记录
func (h *TaskHandler) HandleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
