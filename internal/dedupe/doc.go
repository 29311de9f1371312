// Package dedupe provides event deduplication using a time-based cache
// to suppress replayed event posts within a configurable window.
package dedupe
