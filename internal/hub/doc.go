// Package hub provides the realtime layer: a websocket endpoint whose
// connected clients see conversation activity as it happens.
//
// All traffic uses a single JSON envelope, Frame, discriminated by its
// Type field. The server sends connection (once, with the assigned client
// ID), message (a persisted message, fanned out to everyone watching the
// conversation), and error frames. Clients send only typing frames, which
// double as the association mechanism: a typing frame binds the connection
// to a user and conversation, and is rebroadcast to the conversation's
// other clients.
//
// The hub is deliberately dumb about delivery. Writes to dead connections
// are dropped without error, and the websocket read loop is the sole
// authority on disconnects. Persistence never waits on the hub.
package hub
