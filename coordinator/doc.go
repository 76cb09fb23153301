// Package coordinator wires the handoff pipeline into a message-processing
// loop: inbound conversation turns are routed to the owning agent, candidate
// handoffs are detected, evaluated, authorized, and executed, and every
// outcome feeds the pattern learner and the observability layer.
package coordinator
