// Package signaling is the WebSocket surface of the relay.
//
// Each accepted socket becomes a relay.Conn. Text (or binary) frames are
// parsed into signal messages and handed to the role registry; everything
// the registry declines is dropped without telling the participant.
package signaling
