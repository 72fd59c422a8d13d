// Package ratelimit provides the token bucket used to cap inbound signaling
// messages per connection.
package ratelimit

import "time"

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
