// Package transport holds the live client connections and fans event
// envelopes out to them.
//
// The Hub keeps three views of the same connections — by connection id, by
// user, and by subscribed channel — so both broadcast delivery ("everyone in
// thread_abc") and user-scoped delivery (the bridge's per-user emitters) are
// map lookups. Envelopes are marshaled once per delivery and queued on each
// connection's buffered outbound channel; a full queue drops that
// connection's copy rather than blocking the publisher.
//
// ServeWS is the only place sockets appear. Everything else works against
// Conn.Out(), which is also what tests drain.
package transport
