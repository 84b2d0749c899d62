package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/messaging"
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/types"
)

// =============================================================================
// 🤖 Agent 目录 Handler
// =============================================================================

// AgentDirectory Agent 目录, *discovery.Registry 满足该接口.
type AgentDirectory interface {
	LookupAgent(ctx context.Context, agentID string) (*a2a.AgentCard, error)
	ListAgents(ctx context.Context, filter discovery.AgentFilter) ([]*a2a.AgentCard, error)
	Discover(ctx context.Context, baseURL string) (*a2a.AgentCard, error)
}

// Pinger 探测对端 Agent.
type Pinger interface {
	Ping(ctx context.Context, agentID string, echo any) (*messaging.PingResult, error)
}

// AgentHandler Agent 目录接口 /api/v1/agents.
type AgentHandler struct {
	directory AgentDirectory
	pinger    Pinger
	logger    *zap.Logger
}

// DiscoverRequest 按地址发现 Agent
type DiscoverRequest struct {
	URL string `json:"url"`
}

// PingResponse ping 结果
type PingResponse struct {
	AgentID  string `json:"agent_id"`
	Nonce    string `json:"nonce"`
	RTT      string `json:"rtt"`
	Attempts int    `json:"attempts"`
}

// NewAgentHandler creates an Agent handler
func NewAgentHandler(directory AgentDirectory, pinger Pinger, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{directory: directory, pinger: pinger, logger: logger}
}

// Register 把 Agent 路由挂到 mux 上.
func (h *AgentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/agents", h.HandleListAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}", h.HandleGetAgent)
	mux.HandleFunc("POST /api/v1/agents/discover", h.HandleDiscover)
	mux.HandleFunc("POST /api/v1/agents/{id}/ping", h.HandlePing)
}

// HandleListAgents 列出 Agent, 支持 capability (可重复) / task_type / status / available 过滤.
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := discovery.AgentFilter{
		TaskType:      q.Get("task_type"),
		Status:        a2a.AgentStatus(q.Get("status")),
		AvailableOnly: q.Get("available") == "true",
	}
	for _, c := range q["capability"] {
		filter.Capabilities = append(filter.Capabilities, a2a.Capability(c))
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		WriteError(w, types.Errorf(types.ErrPayloadValidationFailed, "unknown status %q", filter.Status), h.logger)
		return
	}

	cards, err := h.directory.ListAgents(r.Context(), filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if cards == nil {
		cards = []*a2a.AgentCard{}
	}
	WriteSuccess(w, cards)
}

// HandleGetAgent 查询单个 Agent 的卡片
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	card, err := h.directory.LookupAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, card)
}

// HandleDiscover 抓取并登记 url 处的 Agent
func (h *AgentHandler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	var req DiscoverRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.URL == "" {
		WriteError(w, types.NewError(types.ErrPayloadValidationFailed, "url is required").WithDetail("field", "url"), h.logger)
		return
	}
	card, err := h.directory.Discover(r.Context(), req.URL)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, card)
}

// HandlePing 对 Agent 发送 ping
func (h *AgentHandler) HandlePing(w http.ResponseWriter, r *http.Request) {
	if h.pinger == nil {
		WriteError(w, types.NewError(types.ErrInternalError, "ping is not available").
			WithHTTPStatus(http.StatusNotImplemented), h.logger)
		return
	}
	id := r.PathValue("id")
	res, err := h.pinger.Ping(r.Context(), id, nil)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, PingResponse{
		AgentID:  id,
		Nonce:    res.Nonce,
		RTT:      res.RTT.Round(time.Microsecond).String(),
		Attempts: res.Receipt.Attempts,
	})
}
