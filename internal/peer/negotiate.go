package peer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signal"
)

var ErrConnectionFailed = errors.New("peer: peer connection failed")

// offerResendInterval is how long a sender waits for an answer before sending
// its offer again. The relay drops an offer that arrives before a receiver
// has declared.
var offerResendInterval = 2 * time.Second

// Negotiate runs the offer/answer exchange for c's role over pc and returns
// once pc reports connected.
//
// It installs pc's OnICECandidate and OnConnectionStateChange handlers. A
// sender must add its tracks or data channels before calling Negotiate. Until
// an answer arrives, a sender periodically re-sends its current local
// description, so it may start before the receiver.
func Negotiate(ctx context.Context, c *Client, pc *webrtc.PeerConnection, role relay.Role) error {
	if role != relay.RoleSender && role != relay.RoleReceiver {
		return fmt.Errorf("peer: cannot negotiate as role %s", role)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var state atomic.Int32 // 0 pending, 1 connected, 2 failed
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Debug("peer_connection_state", "state", s.String())
		switch s {
		case webrtc.PeerConnectionStateConnected:
			state.CompareAndSwap(0, 1)
			cancel()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			state.CompareAndSwap(0, 2)
			cancel()
		}
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := c.SendCandidate(cand.ToJSON()); err != nil {
			c.log.Debug("peer_candidate_send_failed", "err", err)
		}
	})

	if role == relay.RoleSender {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		if err := c.SendOffer(offer); err != nil {
			return fmt.Errorf("send offer: %w", err)
		}
	}

	var pending []webrtc.ICECandidateInit
	applyRemote := func(desc webrtc.SessionDescription) error {
		if err := pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		for _, cand := range pending {
			if err := pc.AddICECandidate(cand); err != nil {
				c.log.Debug("peer_candidate_rejected", "err", err)
			}
		}
		pending = nil
		return nil
	}

	for {
		msg, err := next(ctx, c, role == relay.RoleSender && pc.RemoteDescription() == nil)
		if errors.Is(err, errResendOffer) {
			if err := c.SendOffer(*pc.LocalDescription()); err != nil {
				return fmt.Errorf("send offer: %w", err)
			}
			c.log.Debug("peer_offer_resent")
			continue
		}
		if err != nil {
			switch state.Load() {
			case 1:
				return nil
			case 2:
				return ErrConnectionFailed
			}
			return err
		}

		switch m := msg.(type) {
		case signal.Offer:
			if role != relay.RoleReceiver || pc.RemoteDescription() != nil {
				c.log.Debug("peer_unexpected_offer")
				continue
			}
			desc, err := SessionDescriptionFromPayload(m.SDP, webrtc.SDPTypeOffer)
			if err != nil {
				return err
			}
			if err := applyRemote(desc); err != nil {
				return err
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				return fmt.Errorf("create answer: %w", err)
			}
			if err := pc.SetLocalDescription(answer); err != nil {
				return fmt.Errorf("set local description: %w", err)
			}
			if err := c.SendAnswer(answer); err != nil {
				return fmt.Errorf("send answer: %w", err)
			}
		case signal.Answer:
			if role != relay.RoleSender || pc.RemoteDescription() != nil {
				c.log.Debug("peer_unexpected_answer")
				continue
			}
			desc, err := SessionDescriptionFromPayload(m.SDP, webrtc.SDPTypeAnswer)
			if err != nil {
				return err
			}
			if err := applyRemote(desc); err != nil {
				return err
			}
		case signal.Candidate:
			cand, ok, err := CandidateFromPayload(m.Candidate)
			if err != nil {
				c.log.Debug("peer_candidate_skipped", "err", err)
				continue
			}
			if !ok {
				continue
			}
			if pc.RemoteDescription() == nil {
				pending = append(pending, cand)
				continue
			}
			if err := pc.AddICECandidate(cand); err != nil {
				c.log.Debug("peer_candidate_rejected", "err", err)
			}
		}
	}
}

var errResendOffer = errors.New("peer: no answer yet")

// next waits for the next message. With awaitingAnswer set it gives up after
// offerResendInterval and returns errResendOffer.
func next(ctx context.Context, c *Client, awaitingAnswer bool) (signal.Message, error) {
	if !awaitingAnswer {
		return c.Next(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, offerResendInterval)
	defer cancel()
	msg, err := c.Next(waitCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, errResendOffer
	}
	return msg, err
}
