// ABOUTME: Per-user scoped delivery handle over the hub
// ABOUTME: Filters channel fan-out down to one user's connections

package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/netra-systems/zenbridge/internal/events"
)

// scopedHandle delivers only to the subscribed connections of one user (or
// one specific connection). It holds no state of its own beyond the scope
// identifiers, so handles for different users share nothing mutable.
type scopedHandle struct {
	hub          *Hub
	userID       string
	connectionID string
}

func (s *scopedHandle) UserID() string { return s.userID }

// Deliver sends the envelope to the user's connections that are subscribed to
// the channel. Like hub delivery, an empty target set is a successful no-op.
func (s *scopedHandle) Deliver(ctx context.Context, channelID string, env *events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	s.hub.mu.RLock()
	if s.hub.closed {
		s.hub.mu.RUnlock()
		return ErrHubClosed
	}
	subs := s.hub.channels[channelID]
	targets := make([]*Conn, 0, len(subs))
	for connID, conn := range subs {
		if conn.userID != s.userID {
			continue
		}
		if s.connectionID != "" && connID != s.connectionID {
			continue
		}
		targets = append(targets, conn)
	}
	s.hub.mu.RUnlock()

	for _, conn := range targets {
		s.hub.send(conn, channelID, payload)
	}
	return nil
}
