// ABOUTME: WebSocket endpoint pumping hub queues onto client sockets
// ABOUTME: Clients pick channels via query params and subscribe/unsubscribe messages

package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const defaultSendTimeout = 5 * time.Second

// WSOptions configures the WebSocket endpoint.
type WSOptions struct {
	// AllowedOrigins is the origin allowlist for cross-origin connections.
	// Same-origin requests are always allowed by the websocket library.
	AllowedOrigins []string
	SendTimeout    time.Duration
}

// controlMessage is what clients send to adjust their channel subscriptions
// after connecting.
type controlMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// ServeWS upgrades the request and bridges the socket to the hub for the
// given (already authenticated) user. Initial subscriptions come from
// thread_id query parameters; afterwards the client can send
// {"action":"subscribe","channel":"thread_..."} control messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string, opts WSOptions) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: opts.AllowedOrigins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	hubConn, err := h.Attach(ctx, userID)
	if err != nil {
		h.logger.Warn("connection attach failed", "user_id", userID, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "attach failed")
		return
	}
	defer h.Detach(hubConn.ID())

	for _, channelID := range r.URL.Query()["thread_id"] {
		if err := h.Subscribe(hubConn.ID(), channelID); err != nil {
			h.logger.Warn("initial subscribe failed", "channel_id", channelID, "error", err)
		}
	}

	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	// Write pump: drain the hub queue onto the socket until it closes.
	go func() {
		defer cancel()
		for payload := range hubConn.Out() {
			wctx, wcancel := context.WithTimeout(ctx, sendTimeout)
			err := conn.Write(wctx, websocket.MessageText, payload)
			wcancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "conn_id", hubConn.ID(), "error", err)
				return
			}
		}
	}()

	for {
		var msg controlMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			h.logger.Debug("websocket closed", "conn_id", hubConn.ID(), "error", err)
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return
		}
		switch msg.Action {
		case "subscribe":
			if err := h.Subscribe(hubConn.ID(), msg.Channel); err != nil {
				h.logger.Warn("subscribe failed", "conn_id", hubConn.ID(), "channel_id", msg.Channel, "error", err)
			}
		case "unsubscribe":
			h.Unsubscribe(hubConn.ID(), msg.Channel)
		default:
			h.logger.Debug("unknown control action", "conn_id", hubConn.ID(), "action", msg.Action)
		}
	}
}
