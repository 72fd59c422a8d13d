package peer

import "time"

// SetOfferResendInterval overrides the sender's offer re-send interval and
// returns a func that restores it.
func SetOfferResendInterval(d time.Duration) func() {
	prev := offerResendInterval
	offerResendInterval = d
	return func() { offerResendInterval = prev }
}
