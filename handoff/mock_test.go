package handoff

import (
	"context"

	"github.com/relaydesk/relay/types"
)

// mockAgent implements types.Agent with function callbacks.
type mockAgent struct {
	id        string
	handleFn  func(ctx context.Context, conv *types.Conversation, text string) (string, error)
	acceptFn  func(ctx context.Context, hctx *types.EnrichedHandoffContext) (string, error)
}

func (m *mockAgent) ID() string { return m.id }

func (m *mockAgent) HandleMessage(ctx context.Context, conv *types.Conversation, text string) (string, error) {
	if m.handleFn != nil {
		return m.handleFn(ctx, conv, text)
	}
	return "ok", nil
}

func (m *mockAgent) AcceptHandoff(ctx context.Context, hctx *types.EnrichedHandoffContext) (string, error) {
	if m.acceptFn != nil {
		return m.acceptFn(ctx, hctx)
	}
	return "hello from " + m.id, nil
}
