package types

import (
	"sync"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message represents a single conversation turn as delivered by the
// messaging layer.
type Message struct {
	Role      Role      `json:"role"`
	Sender    string    `json:"sender,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// Conversation is a single ongoing dialogue with one external party.
// While a handoff is in flight the executor owns it exclusively (guarded by
// the per-conversation lock); otherwise it belongs to the agent named in
// OwnerAgent.
type Conversation struct {
	ID           string            `json:"id"`
	OwnerAgent   string            `json:"owner_agent"`
	Facts        map[string]string `json:"facts,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	Messages     []Message         `json:"messages,omitempty"`
	LastActivity time.Time         `json:"last_activity"`

	mu sync.RWMutex
}

// NewConversation creates a conversation owned by the given agent.
func NewConversation(id, ownerAgent string) *Conversation {
	return &Conversation{
		ID:           id,
		OwnerAgent:   ownerAgent,
		Facts:        make(map[string]string),
		LastActivity: time.Now(),
	}
}

// Owner returns the current owning agent.
func (c *Conversation) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.OwnerAgent
}

// SetOwner transfers ownership to the given agent.
func (c *Conversation) SetOwner(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OwnerAgent = agentID
	c.LastActivity = time.Now()
}

// AppendMessage records a turn and bumps the activity timestamp.
func (c *Conversation) AppendMessage(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.Messages = append(c.Messages, msg)
	c.LastActivity = msg.Timestamp
}

// RecentMessages returns up to n of the most recent turns, oldest first.
func (c *Conversation) RecentMessages(n int) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || len(c.Messages) == 0 {
		return nil
	}
	start := len(c.Messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(c.Messages)-start)
	copy(out, c.Messages[start:])
	return out
}

// SetFact stores a structured fact extracted from the dialogue.
func (c *Conversation) SetFact(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Facts == nil {
		c.Facts = make(map[string]string)
	}
	c.Facts[key] = value
}

// Fact returns a stored fact and whether it exists.
func (c *Conversation) Fact(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.Facts[key]
	return v, ok
}

// FactsCopy returns a snapshot of all structured facts.
func (c *Conversation) FactsCopy() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.Facts))
	for k, v := range c.Facts {
		out[k] = v
	}
	return out
}

// SetSummary replaces the free-text summary.
func (c *Conversation) SetSummary(summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Summary = summary
}

// GetSummary returns the free-text summary.
func (c *Conversation) GetSummary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Summary
}
