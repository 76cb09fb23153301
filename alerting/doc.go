// Package alerting evaluates rule conditions over metrics snapshots and SLA
// checks, and dispatches notifications with time-based escalation.
//
// Each firing rule produces an Alert, a small state machine:
//
//	open -> acknowledged -> resolved
//	open -> escalated    -> resolved   (unacknowledged past the level delays)
//
// Level 1 notifies every configured channel when the alert opens. Level 2
// re-sends to every channel after the first escalation delay. Level 3 goes to
// paging-grade channels only, exactly once. A rule with an active alert does
// not re-fire, and a cooldown applies after resolution.
package alerting
