// Package cache stores enriched handoff contexts in Redis so a target agent
// picking up a conversation shortly after a handoff can recover the full
// context without re-deriving it. Entries expire on a TTL; a miss is an
// expected outcome, not an error condition for the pipeline.
//
// This package is internal and should not be imported by external projects.
package cache
