package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
)

// CardHandler 在 discovery.CardPaths 上返回本 Agent 的卡片.
type CardHandler struct {
	card   func() *a2a.AgentCard
	logger *zap.Logger
}

// NewCardHandler 创建卡片处理器, card 每次请求时调用以取得最新卡片.
func NewCardHandler(card func() *a2a.AgentCard, logger *zap.Logger) *CardHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CardHandler{card: card, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *CardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	card := h.card()
	if card == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "max-age=60")
	WriteJSON(w, http.StatusOK, card)
}
