// Package registry tracks agent executions for the bridge.
//
// Two stores implement the same surface: Memory for single-process
// deployments and tests, SQLite (modernc.org/sqlite, pure Go) when run→thread
// mappings must survive restarts.
//
// The registry records two things only:
//
//   - run→thread mappings: the authoritative answer to "which conversation
//     does this execution belong to", consulted by thread resolution before
//     any structural fallback
//   - active executions: bookkeeping used as a liveness probe by health
//     checks and exposed through the runs API
//
// Conversation content is never stored here.
package registry
