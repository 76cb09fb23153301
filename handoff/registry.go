package handoff

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/types"
)

// Registry holds the fleet of registered agents keyed by id.
type Registry struct {
	agents map[string]types.Agent
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents: make(map[string]types.Agent),
		logger: logger.With(zap.String("component", "agent_registry")),
	}
}

// Register adds an agent to the registry, replacing any previous agent with
// the same id.
func (r *Registry) Register(agent types.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID()] = agent
	r.logger.Info("registered agent", zap.String("id", agent.ID()))
}

// Unregister removes an agent.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Get returns the agent with the given id.
func (r *Registry) Get(agentID string) (types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound, "agent not registered: "+agentID)
	}
	return agent, nil
}

// IDs returns the sorted ids of all registered agents.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset removes all agents. For test isolation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]types.Agent)
}
