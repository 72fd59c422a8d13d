// Package signal defines the JSON records exchanged between participants and
// the relay.
//
// Every record carries a "type" discriminator. Session descriptions and ICE
// candidates are opaque to the relay and are kept as raw JSON so that they are
// forwarded byte-for-byte.
package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type Kind string

const (
	KindSender       Kind = "sender"
	KindReceiver     Kind = "receiver"
	KindCreateOffer  Kind = "createOffer"
	KindCreateAnswer Kind = "createAnswer"
	KindICECandidate Kind = "iceCandidate"
)

var (
	ErrMalformed   = errors.New("signal: malformed message")
	ErrUnknownKind = errors.New("signal: unknown message type")
)

// Message is one of DeclareSender, DeclareReceiver, Offer, Answer or
// Candidate.
type Message interface {
	Kind() Kind
	isMessage()
}

type DeclareSender struct{}

type DeclareReceiver struct{}

// Offer carries the sender's session description.
type Offer struct {
	SDP json.RawMessage
}

// Answer carries the receiver's session description.
type Answer struct {
	SDP json.RawMessage
}

// Candidate carries one ICE candidate from either role.
type Candidate struct {
	Candidate json.RawMessage
}

func (DeclareSender) Kind() Kind   { return KindSender }
func (DeclareReceiver) Kind() Kind { return KindReceiver }
func (Offer) Kind() Kind           { return KindCreateOffer }
func (Answer) Kind() Kind          { return KindCreateAnswer }
func (Candidate) Kind() Kind       { return KindICECandidate }

func (DeclareSender) isMessage()   {}
func (DeclareReceiver) isMessage() {}
func (Offer) isMessage()           {}
func (Answer) isMessage()          {}
func (Candidate) isMessage()       {}

type envelope struct {
	Type      Kind            `json:"type"`
	SDP       json.RawMessage `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
}

// Parse decodes a single inbound record.
//
// Unknown fields are ignored. A missing sdp or candidate field yields an
// empty payload, which Encode leaves out of the forwarded record.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected trailing data", ErrMalformed)
	}

	switch env.Type {
	case KindSender:
		return DeclareSender{}, nil
	case KindReceiver:
		return DeclareReceiver{}, nil
	case KindCreateOffer:
		return Offer{SDP: env.SDP}, nil
	case KindCreateAnswer:
		return Answer{SDP: env.SDP}, nil
	case KindICECandidate:
		return Candidate{Candidate: env.Candidate}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, env.Type)
	}
}

// Encode serializes m into the record the relay and its clients put on the
// wire.
//
// Payloads are spliced in verbatim rather than re-marshaled, since
// json.Marshal would compact and HTML-escape them.
func Encode(m Message) ([]byte, error) {
	var (
		field string
		raw   json.RawMessage
	)
	switch v := m.(type) {
	case DeclareSender, DeclareReceiver:
	case Offer:
		field, raw = "sdp", v.SDP
	case Answer:
		field, raw = "sdp", v.SDP
	case Candidate:
		field, raw = "candidate", v.Candidate
	default:
		return nil, fmt.Errorf("signal: cannot encode %T", m)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":"`)
	buf.WriteString(string(m.Kind()))
	buf.WriteByte('"')
	if field != "" && len(raw) > 0 {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("signal: invalid %s payload", field)
		}
		buf.WriteString(`,"`)
		buf.WriteString(field)
		buf.WriteString(`":`)
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
