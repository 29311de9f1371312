// ABOUTME: Test doubles for the transport manager and execution registry
// ABOUTME: Explicit interface implementations with switchable failure modes

package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netra-systems/zenbridge/internal/events"
	"github.com/netra-systems/zenbridge/internal/registry"
)

type fakeTransport struct {
	mu         sync.Mutex
	reachable  bool
	deliverErr error
	scopeErr   error
	deliveries map[string][]*events.Envelope
	handles    []*fakeHandle
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reachable:  true,
		deliveries: make(map[string][]*events.Envelope),
	}
}

func (f *fakeTransport) Deliver(ctx context.Context, channelID string, env *events.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.deliveries[channelID] = append(f.deliveries[channelID], env)
	return nil
}

func (f *fakeTransport) IsReachable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

func (f *fakeTransport) ScopedHandle(userID, connectionID string) (TransportHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scopeErr != nil {
		return nil, f.scopeErr
	}
	h := &fakeHandle{userID: userID, connectionID: connectionID}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeTransport) setReachable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachable = v
}

func (f *fakeTransport) setDeliverErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliverErr = err
}

func (f *fakeTransport) delivered(channelID string) []*events.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*events.Envelope, len(f.deliveries[channelID]))
	copy(out, f.deliveries[channelID])
	return out
}

// fakeHandle records deliveries for exactly one scoped user, so cross-user
// leakage shows up as an envelope on the wrong handle.
type fakeHandle struct {
	mu           sync.Mutex
	userID       string
	connectionID string
	deliverErr   error
	channels     []string
	envelopes    []*events.Envelope
}

func (h *fakeHandle) Deliver(ctx context.Context, channelID string, env *events.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deliverErr != nil {
		return h.deliverErr
	}
	h.channels = append(h.channels, channelID)
	h.envelopes = append(h.envelopes, env)
	return nil
}

func (h *fakeHandle) UserID() string { return h.userID }

func (h *fakeHandle) recorded() (channels []string, envelopes []*events.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	channels = append(channels, h.channels...)
	envelopes = append(envelopes, h.envelopes...)
	return channels, envelopes
}

type fakeRegistry struct {
	mu        sync.Mutex
	mappings  map[string]string
	listErr   error
	listCalls int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{mappings: make(map[string]string)}
}

func (f *fakeRegistry) ListActiveExecutions(ctx context.Context) ([]registry.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return nil, nil
}

func (f *fakeRegistry) RegisterMapping(ctx context.Context, runID, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappings[runID] = threadID
	return nil
}

func (f *fakeRegistry) UnregisterMapping(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mappings[runID]; !ok {
		return registry.ErrMappingNotFound
	}
	delete(f.mappings, runID)
	return nil
}

func (f *fakeRegistry) Lookup(ctx context.Context, runID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	threadID, ok := f.mappings[runID]
	return threadID, ok
}

func (f *fakeRegistry) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// testConfig keeps recovery fast and the periodic monitor out of the way
// unless a test opts in with its own interval.
func testConfig() Config {
	return Config{
		InitializationTimeout: time.Second,
		VerificationTimeout:   time.Second,
		HealthCheckInterval:   time.Hour,
		RecoveryMaxAttempts:   3,
		RecoveryBaseDelay:     time.Millisecond,
		RecoveryMaxDelay:      5 * time.Millisecond,
	}
}

func newActiveBridge(t *testing.T) (*Bridge, *fakeTransport, *fakeRegistry) {
	t.Helper()
	b := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	transport := newFakeTransport()
	reg := newFakeRegistry()
	res := b.EnsureIntegration(t.Context(), EnsureOptions{Transport: transport, Registry: reg})
	require.True(t, res.Success, "bootstrap failed: %v", res.Err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b, transport, reg
}
