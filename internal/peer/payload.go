package peer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var errEmptyPayload = errors.New("peer: empty payload")

// SessionDescriptionFromPayload decodes a forwarded sdp field. Browsers send
// the whole RTCSessionDescription ({"type":..,"sdp":..}); a bare JSON string
// is taken as the SDP text with fallback as its type.
func SessionDescriptionFromPayload(raw json.RawMessage, fallback webrtc.SDPType) (webrtc.SessionDescription, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return webrtc.SessionDescription{}, errEmptyPayload
	}

	if raw[0] == '"' {
		var sdp string
		if err := json.Unmarshal(raw, &sdp); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("decode sdp string: %w", err)
		}
		if sdp == "" {
			return webrtc.SessionDescription{}, errEmptyPayload
		}
		return webrtc.SessionDescription{Type: fallback, SDP: sdp}, nil
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode session description: %w", err)
	}
	if desc.SDP == "" {
		return webrtc.SessionDescription{}, errEmptyPayload
	}
	if desc.Type == webrtc.SDPTypeUnknown {
		desc.Type = fallback
	}
	return desc, nil
}

// CandidateFromPayload decodes a forwarded candidate field. ok is false for
// the end-of-candidates marker (null or an empty candidate string).
func CandidateFromPayload(raw json.RawMessage) (cand webrtc.ICECandidateInit, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return webrtc.ICECandidateInit{}, false, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return webrtc.ICECandidateInit{}, false, fmt.Errorf("decode candidate string: %w", err)
		}
		cand.Candidate = s
	} else if err := json.Unmarshal(raw, &cand); err != nil {
		return webrtc.ICECandidateInit{}, false, fmt.Errorf("decode candidate: %w", err)
	}
	if cand.Candidate == "" {
		return webrtc.ICECandidateInit{}, false, nil
	}
	return cand, true, nil
}
