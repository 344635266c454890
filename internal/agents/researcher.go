package agents

import (
	"github.com/turnforge/chatcore/internal/llm"
)

// NewResearcherAgent builds the same retrieval pipeline as RAGAgent,
// registered under a distinct name (spec §4.4 "Researcher (or RAG)")
// so a planner decision of requires_research can be routed
// independently of requires_rag even though both currently resolve to
// the same search collaborator contract.
func NewResearcherAgent(client llm.Client, search SearchClient) *RAGAgent {
	agent := NewRAGAgent(client, search)
	agent.AgentName = NameResearcher
	return agent
}
