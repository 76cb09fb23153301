// Package handoff implements the conversation handoff pipeline: evaluation,
// adaptive threshold learning, safety guarding and execution.
//
// A handoff moves an in-progress conversation from one specialized agent to
// another. The pipeline for a candidate proposal is:
//
//	Evaluator.Evaluate   — blend intent signals with the raw confidence and
//	                       compare against the route's effective threshold
//	SafetyGuard.Authorize — circular prevention, rate limits, and the
//	                       per-conversation lock (bounded wait)
//	Executor.Execute     — build the enriched context, invoke the target
//	                       agent, transfer ownership, append the record
//
// Rejections at any stage are expected outcomes, not errors: the conversation
// simply stays with its current owner. The PatternLearner feeds route-level
// success rates back into the evaluator's thresholds.
//
// All services are dependency-injected structs with a Reset method for test
// isolation; none hold package-level state.
package handoff
