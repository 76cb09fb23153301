// Package persistence provides durable storage for handoff records.
//
// The coordination layer depends only on the RecordStore contract
// (append / read-since); the backend is selected by configuration:
//
//   - Memory: for development and testing (default)
//   - Redis:  for distributed production deployments
//   - SQLite: for single-node production deployments with reporting needs
//
// Records are append-only. Stores never mutate a record after Append.
package persistence
