// Package hub manages websocket sessions for the relay.
//
// A client dials /ws with a JWT in the "token" query parameter or an
// Authorization header. The hub authenticates it, subscribes the connection
// to its user's delivery group, marks the user online and broadcasts the new
// presence list to everyone. Frames are JSON objects of the form
//
//	{"event": "send-message", "data": {...}}
//
// in both directions. Requests that fail produce an "error" event on the
// requesting connection only.
package hub
