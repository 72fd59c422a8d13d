// Package relay holds the sender/receiver role registry and the routing rules
// that decide which signaling messages are forwarded to which connection.
//
// It has no knowledge of the transport: a Conn is anything that can be
// identified and written to.
package relay
