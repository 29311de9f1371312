// ABOUTME: Thread resolver deriving conversation channels from run identifiers
// ABOUTME: Authoritative registry lookup first, structural pattern second

package bridge

import (
	"context"
	"strings"
)

const threadPrefix = "thread_"

// threadResolver derives the logical conversation channel for a run. It never
// errors; an empty result means the event cannot be routed.
type threadResolver struct {
	registry ExecutionRegistry // may be nil, structural fallback only
}

func newThreadResolver(reg ExecutionRegistry) *threadResolver {
	return &threadResolver{registry: reg}
}

// ExtractThreadID resolves runID to a thread identifier.
//
// Resolution order: a registered run→thread mapping wins; otherwise the first
// embedded thread_<token> pattern is extracted, truncating any run-specific
// suffix ("thread_abc_run_999" → "thread_abc"). Malformed tokens — empty,
// double underscore, or underscore-terminated ("thread_", "thread__x",
// "thread_123_") — resolve to "" rather than a truncated guess.
func (r *threadResolver) ExtractThreadID(ctx context.Context, runID string) string {
	if runID == "" {
		return ""
	}
	if r.registry != nil {
		if threadID, ok := r.registry.Lookup(ctx, runID); ok && threadID != "" {
			return threadID
		}
	}
	return structuralThreadID(runID)
}

func structuralThreadID(runID string) string {
	idx := strings.Index(runID, threadPrefix)
	if idx < 0 {
		return ""
	}
	rest := runID[idx+len(threadPrefix):]

	end := 0
	for end < len(rest) && isThreadTokenChar(rest[end]) {
		end++
	}
	token := rest[:end]
	if token == "" {
		return ""
	}

	// A token followed only by underscores has a dangling separator with no
	// run suffix behind it; that is a malformed identifier, not a routable one.
	tail := rest[end:]
	if tail != "" && strings.Trim(tail, "_") == "" {
		return ""
	}

	return threadPrefix + token
}

func isThreadTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-':
		return true
	}
	return false
}
