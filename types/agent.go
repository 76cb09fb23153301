package types

import "context"

// Agent is the boundary interface for a specialized conversational agent.
// The coordination layer treats agents as opaque task executors: it does not
// know or care how an agent reasons internally.
type Agent interface {
	// ID returns the stable agent identifier (e.g. "intake", "seller").
	ID() string

	// HandleMessage processes one inbound conversation turn and returns the
	// outbound reply text.
	HandleMessage(ctx context.Context, conv *Conversation, text string) (string, error)

	// AcceptHandoff is the intake entry point invoked on a successful
	// transfer. The returned text, if any, is the agent's opening reply.
	AcceptHandoff(ctx context.Context, hctx *EnrichedHandoffContext) (string, error)
}
