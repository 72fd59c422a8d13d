package relay

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signal"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, b := range c.sent {
		out = append(out, string(b))
	}
	return out
}

func mustParse(t *testing.T, s string) signal.Message {
	t.Helper()
	msg, err := signal.Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse(%s): %v", s, err)
	}
	return msg
}

func expectNothingSent(t *testing.T, conns ...*fakeConn) {
	t.Helper()
	for _, c := range conns {
		if got := c.received(); len(got) != 0 {
			t.Fatalf("%s received %v, want nothing", c.id, got)
		}
	}
}

func TestRoute_OfferAnswerExchange(t *testing.T) {
	reg := NewRegistry()
	a, b := newFakeConn("A"), newFakeConn("B")

	if res := reg.Route(a, mustParse(t, `{"type":"sender"}`)); res.Outcome != OutcomeRegistered || res.Role != RoleSender {
		t.Fatalf("sender declaration: %+v", res)
	}
	if res := reg.Route(b, mustParse(t, `{"type":"receiver"}`)); res.Outcome != OutcomeRegistered || res.Role != RoleReceiver {
		t.Fatalf("receiver declaration: %+v", res)
	}

	res := reg.Route(a, mustParse(t, `{"type":"createOffer","sdp":"X"}`))
	if res.Outcome != OutcomeForwarded || res.Target != b {
		t.Fatalf("offer: %+v", res)
	}
	if got := b.received(); len(got) != 1 || got[0] != `{"type":"createOffer","sdp":"X"}` {
		t.Fatalf("B received %v", got)
	}

	res = reg.Route(b, mustParse(t, `{"type":"createAnswer","sdp":"Y"}`))
	if res.Outcome != OutcomeForwarded || res.Target != a {
		t.Fatalf("answer: %+v", res)
	}
	if got := a.received(); len(got) != 1 || got[0] != `{"type":"createAnswer","sdp":"Y"}` {
		t.Fatalf("A received %v", got)
	}
}

func TestRoute_OfferFromNonSenderIsIgnored(t *testing.T) {
	reg := NewRegistry()
	a, b, c := newFakeConn("A"), newFakeConn("B"), newFakeConn("C")
	reg.Route(a, signal.DeclareSender{})
	reg.Route(b, signal.DeclareReceiver{})

	for _, from := range []*fakeConn{b, c} {
		res := reg.Route(from, signal.Offer{SDP: []byte(`"forged"`)})
		if res.Outcome != OutcomeUnauthorized {
			t.Fatalf("offer from %s: outcome=%v, want unauthorized", from.id, res.Outcome)
		}
		if !errors.Is(res.Err, ErrNotRoleHolder) {
			t.Fatalf("offer from %s: err=%v", from.id, res.Err)
		}
	}
	expectNothingSent(t, a, b, c)
}

func TestRoute_AnswerFromNonReceiverIsIgnored(t *testing.T) {
	reg := NewRegistry()
	a, b, c := newFakeConn("A"), newFakeConn("B"), newFakeConn("C")
	reg.Route(a, signal.DeclareSender{})
	reg.Route(b, signal.DeclareReceiver{})

	for _, from := range []*fakeConn{a, c} {
		if res := reg.Route(from, signal.Answer{SDP: []byte(`"forged"`)}); res.Outcome != OutcomeUnauthorized {
			t.Fatalf("answer from %s: outcome=%v, want unauthorized", from.id, res.Outcome)
		}
	}
	expectNothingSent(t, a, b, c)
}

func TestRoute_CandidateForwardedToOtherRole(t *testing.T) {
	reg := NewRegistry()
	a, b := newFakeConn("A"), newFakeConn("B")
	reg.Route(a, signal.DeclareSender{})
	reg.Route(b, signal.DeclareReceiver{})

	cand := `{"candidate":"candidate:0 1 UDP 2122252543 192.168.1.2 50000 typ host","sdpMid":"0","sdpMLineIndex":0}`
	res := reg.Route(a, mustParse(t, `{"type":"iceCandidate","candidate":`+cand+`}`))
	if res.Outcome != OutcomeForwarded || res.Role != RoleSender || res.Target != b {
		t.Fatalf("sender candidate: %+v", res)
	}
	if got := b.received(); len(got) != 1 || got[0] != `{"type":"iceCandidate","candidate":`+cand+`}` {
		t.Fatalf("B received %v", got)
	}

	res = reg.Route(b, mustParse(t, `{"type":"iceCandidate","candidate":{"candidate":""}}`))
	if res.Outcome != OutcomeForwarded || res.Role != RoleReceiver || res.Target != a {
		t.Fatalf("receiver candidate: %+v", res)
	}
	if got := a.received(); len(got) != 1 || got[0] != `{"type":"iceCandidate","candidate":{"candidate":""}}` {
		t.Fatalf("A received %v", got)
	}
}

func TestRoute_CandidateFromUndeclaredIsDropped(t *testing.T) {
	reg := NewRegistry()
	a, b, c := newFakeConn("A"), newFakeConn("B"), newFakeConn("C")
	reg.Route(a, signal.DeclareSender{})
	reg.Route(b, signal.DeclareReceiver{})

	if res := reg.Route(c, signal.Candidate{Candidate: []byte(`{}`)}); res.Outcome != OutcomeUnauthorized {
		t.Fatalf("outcome=%v, want unauthorized", res.Outcome)
	}
	expectNothingSent(t, a, b, c)
}

func TestRoute_NoCounterpart(t *testing.T) {
	reg := NewRegistry()
	a := newFakeConn("A")
	reg.Route(a, signal.DeclareSender{})

	res := reg.Route(a, signal.Offer{SDP: []byte(`"X"`)})
	if res.Outcome != OutcomeNoCounterpart {
		t.Fatalf("outcome=%v, want no_counterpart", res.Outcome)
	}
	if !errors.Is(res.Err, ErrNoCounterpart) {
		t.Fatalf("err=%v, want ErrNoCounterpart", res.Err)
	}
	if res := reg.Route(a, signal.Candidate{Candidate: []byte(`{}`)}); res.Outcome != OutcomeNoCounterpart {
		t.Fatalf("candidate outcome=%v, want no_counterpart", res.Outcome)
	}
	expectNothingSent(t, a)

	b := newFakeConn("B")
	reg.Route(b, signal.DeclareReceiver{})
	reg.Evict(a)
	if res := reg.Route(b, signal.Answer{SDP: []byte(`"Y"`)}); res.Outcome != OutcomeNoCounterpart {
		t.Fatalf("answer outcome=%v, want no_counterpart", res.Outcome)
	}
	expectNothingSent(t, a, b)
}

func TestRoute_SenderDisplacement(t *testing.T) {
	reg := NewRegistry()
	a, b, c := newFakeConn("A"), newFakeConn("B"), newFakeConn("C")
	reg.Route(a, signal.DeclareSender{})
	reg.Route(b, signal.DeclareReceiver{})

	res := reg.Route(c, signal.DeclareSender{})
	if res.Displaced != a {
		t.Fatalf("displaced=%v, want A", res.Displaced)
	}
	if reg.Sender() != c {
		t.Fatalf("sender slot does not refer to C")
	}

	if res := reg.Route(a, signal.Offer{SDP: []byte(`"stale"`)}); res.Outcome != OutcomeUnauthorized {
		t.Fatalf("offer from displaced sender: outcome=%v", res.Outcome)
	}
	expectNothingSent(t, a, b, c)

	// A displaced holder is not notified.
	if res := reg.Route(c, signal.Offer{SDP: []byte(`"fresh"`)}); res.Outcome != OutcomeForwarded {
		t.Fatalf("offer from new sender: outcome=%v", res.Outcome)
	}
	expectNothingSent(t, a)
}

func TestRoute_RedeclarationBySameConnIsNotDisplacement(t *testing.T) {
	reg := NewRegistry()
	a := newFakeConn("A")
	reg.Route(a, signal.DeclareSender{})
	if res := reg.Route(a, signal.DeclareSender{}); res.Displaced != nil {
		t.Fatalf("displaced=%v, want nil", res.Displaced)
	}
}

func TestRoute_SendFailureIsContained(t *testing.T) {
	reg := NewRegistry()
	a, b := newFakeConn("A"), newFakeConn("B")
	b.sendErr = errors.New("use of closed network connection")
	reg.Route(a, signal.DeclareSender{})
	reg.Route(b, signal.DeclareReceiver{})

	res := reg.Route(a, signal.Offer{SDP: []byte(`"X"`)})
	if res.Outcome != OutcomeSendFailed || res.Target != b {
		t.Fatalf("offer: %+v", res)
	}
	if !errors.Is(res.Err, b.sendErr) {
		t.Fatalf("err=%v, want wrapped send error", res.Err)
	}

	// The receiver can still reach the sender.
	if res := reg.Route(b, signal.Answer{SDP: []byte(`"Y"`)}); res.Outcome != OutcomeForwarded {
		t.Fatalf("answer outcome=%v", res.Outcome)
	}
}

func TestRoute_NilInputsIgnored(t *testing.T) {
	reg := NewRegistry()
	if res := reg.Route(nil, signal.DeclareSender{}); res.Outcome != OutcomeIgnored {
		t.Fatalf("nil conn outcome=%v", res.Outcome)
	}
	if res := reg.Route(newFakeConn("A"), nil); res.Outcome != OutcomeIgnored {
		t.Fatalf("nil msg outcome=%v", res.Outcome)
	}
	if reg.Sender() != nil {
		t.Fatalf("sender registered from nil conn")
	}
}

func TestRoute_ConnHoldingBothRoles(t *testing.T) {
	reg := NewRegistry()
	a := newFakeConn("A")
	reg.Route(a, signal.DeclareSender{})
	reg.Route(a, signal.DeclareReceiver{})

	res := reg.Route(a, signal.Candidate{Candidate: []byte(`{}`)})
	if res.Outcome != OutcomeForwarded || res.Role != RoleSender || res.Target != a {
		t.Fatalf("candidate: %+v", res)
	}
	if roles := reg.Roles(a); len(roles) != 2 {
		t.Fatalf("roles=%v, want both", roles)
	}
}

func TestEvict_ClearsOnlyHeldSlots(t *testing.T) {
	reg := NewRegistry()
	a, b, c := newFakeConn("A"), newFakeConn("B"), newFakeConn("C")
	reg.Route(a, signal.DeclareSender{})
	reg.Route(b, signal.DeclareReceiver{})
	reg.Route(c, signal.DeclareSender{})

	if roles := reg.Evict(a); len(roles) != 0 {
		t.Fatalf("evicting displaced A returned %v", roles)
	}
	if reg.Sender() != c {
		t.Fatalf("evicting displaced A cleared C's slot")
	}

	roles := reg.Evict(c)
	if len(roles) != 1 || roles[0] != RoleSender {
		t.Fatalf("roles=%v, want [sender]", roles)
	}
	if reg.Sender() != nil {
		t.Fatalf("sender slot not cleared")
	}
	if reg.Receiver() != b {
		t.Fatalf("receiver slot disturbed")
	}
}

func TestRegistry_AtMostOneHolderPerRole(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	reg := NewRegistry()
	conns := make([]*fakeConn, 8)
	for i := range conns {
		conns[i] = newFakeConn(fmt.Sprintf("c%d", i))
	}

	for i := 0; i < 500; i++ {
		c := conns[rng.Intn(len(conns))]
		switch rng.Intn(3) {
		case 0:
			reg.Route(c, signal.DeclareSender{})
		case 1:
			reg.Route(c, signal.DeclareReceiver{})
		default:
			reg.Evict(c)
		}

		senders, receivers := 0, 0
		for _, c := range conns {
			for _, role := range reg.Roles(c) {
				switch role {
				case RoleSender:
					senders++
				case RoleReceiver:
					receivers++
				}
			}
		}
		if senders > 1 || receivers > 1 {
			t.Fatalf("step %d: senders=%d receivers=%d", i, senders, receivers)
		}
	}
}

func TestRegistry_ConcurrentDeclareAndForward(t *testing.T) {
	reg := NewRegistry()
	recv := newFakeConn("recv")
	reg.Route(recv, signal.DeclareReceiver{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		c := newFakeConn(fmt.Sprintf("s%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Route(c, signal.DeclareSender{})
				reg.Route(c, signal.Offer{SDP: []byte(`"X"`)})
				reg.Route(c, signal.Candidate{Candidate: []byte(`{}`)})
			}
		}()
	}
	wg.Wait()

	for _, got := range recv.received() {
		if got != `{"type":"createOffer","sdp":"X"}` && got != `{"type":"iceCandidate","candidate":{}}` {
			t.Fatalf("unexpected forwarded record %s", got)
		}
	}
}

func TestRoute_MissingPayloadFieldIsNotInvented(t *testing.T) {
	reg := NewRegistry()
	a, b := newFakeConn("A"), newFakeConn("B")
	reg.Route(a, mustParse(t, `{"type":"sender"}`))
	reg.Route(b, mustParse(t, `{"type":"receiver"}`))

	if res := reg.Route(a, mustParse(t, `{"type":"createOffer"}`)); res.Outcome != OutcomeForwarded {
		t.Fatalf("offer: %+v", res)
	}
	if res := reg.Route(a, mustParse(t, `{"type":"iceCandidate","candidate":null}`)); res.Outcome != OutcomeForwarded {
		t.Fatalf("candidate: %+v", res)
	}

	got := b.received()
	want := []string{`{"type":"createOffer"}`, `{"type":"iceCandidate","candidate":null}`}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("B received %v, want %v", got, want)
	}
}
