// =============================================================================
// 📦 测试数据工厂 - 代理卡与报文
// =============================================================================
// 提供预定义的代理卡和报文，用于测试
// =============================================================================
package fixtures

import (
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
)

// =============================================================================
// 🪪 代理卡工厂
// =============================================================================

// AgentCard 返回 id 即名称、端点为 http://<id>:8080 的代理卡.
// 未给出能力时使用 custom, 支持的任务类型与能力同名.
func AgentCard(id string, caps ...a2a.Capability) *a2a.AgentCard {
	if len(caps) == 0 {
		caps = []a2a.Capability{a2a.CapabilityCustom}
	}
	tasks := make([]string, len(caps))
	for i, c := range caps {
		tasks[i] = string(c)
	}
	return AgentCardWithTasks(id, tasks, caps...)
}

// AgentCardWithTasks 返回声明了指定任务类型的代理卡
func AgentCardWithTasks(id string, tasks []string, caps ...a2a.Capability) *a2a.AgentCard {
	card, err := a2a.NewAgentCard(id, "1.0.0", "http://"+id+":8080", caps, tasks, a2a.CardOptions{ID: id})
	if err != nil {
		panic(err)
	}
	return card
}

// OrchestratorCard 委派方代理卡
func OrchestratorCard() *a2a.AgentCard {
	return AgentCardWithTasks("orchestrator", []string{"planning"}, a2a.CapabilityPlanning)
}

// WorkerCard 受托方代理卡
func WorkerCard() *a2a.AgentCard {
	return AgentCardWithTasks("worker", []string{"research"}, a2a.CapabilityResearch)
}

// =============================================================================
// ✉️ 报文工厂
// =============================================================================

// Message 构造报文, 失败时 panic
func Message(from, to string, body a2a.Payload) *a2a.Message {
	msg, err := a2a.NewMessage(from, to, body)
	if err != nil {
		panic(err)
	}
	return msg
}
