// Package types provides core types shared across the relay coordination layer.
// This package has ZERO dependencies on other relay packages to avoid circular
// imports. All other packages should import types from here.
//
// The central objects are:
//
//   - Conversation           — a single ongoing dialogue with one external party
//   - HandoffCandidate       — an ephemeral proposal to transfer a conversation
//   - HandoffRecord          — the durable, append-only outcome of an attempt
//   - EnrichedHandoffContext — the payload delivered to the receiving agent
//   - Decision / Authorization — results of evaluation and safety checks
//   - Agent                  — the boundary interface for opaque task executors
//   - Error / ErrorCode      — structured error taxonomy with retryable marking
package types
