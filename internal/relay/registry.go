package relay

import (
	"fmt"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signal"
)

// Conn is one participant's message channel.
//
// Implementations must be comparable (typically a pointer); the registry keys
// roles on handle identity, not on ID.
type Conn interface {
	// ID is used for logging only.
	ID() string
	// Send writes one record. It must not block indefinitely.
	Send(data []byte) error
}

type Role uint8

const (
	RoleNone Role = iota
	RoleSender
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "none"
	}
}

type Outcome uint8

const (
	// OutcomeIgnored means the message had no routing rule.
	OutcomeIgnored Outcome = iota
	// OutcomeRegistered means a role declaration was recorded.
	OutcomeRegistered
	// OutcomeForwarded means exactly one record was sent to the counterpart.
	OutcomeForwarded
	// OutcomeNoCounterpart means the destination slot was empty.
	OutcomeNoCounterpart
	// OutcomeUnauthorized means the origin does not hold the role the message
	// kind requires.
	OutcomeUnauthorized
	// OutcomeSendFailed means the counterpart's Send returned an error.
	OutcomeSendFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRegistered:
		return "registered"
	case OutcomeForwarded:
		return "forwarded"
	case OutcomeNoCounterpart:
		return "no_counterpart"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeSendFailed:
		return "send_failed"
	default:
		return "ignored"
	}
}

// Result describes what Route did with a message.
type Result struct {
	Outcome Outcome

	// Role is the role that was declared, or the role the origin acted in when
	// forwarding.
	Role Role

	// Target is the connection the message was sent (or attempted) to.
	Target Conn

	// Displaced is the previous holder of a role slot that was just
	// overwritten by a declaration from a different connection.
	Displaced Conn

	// Err is set for every outcome other than Registered and Forwarded.
	Err error
}

// Registry tracks at most one sender and one receiver.
//
// Messages from different connections arrive on different goroutines, so
// every slot access takes mu. Sends happen outside the lock.
type Registry struct {
	mu       sync.Mutex
	sender   Conn
	receiver Conn
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Sender returns the current sender, or nil.
func (r *Registry) Sender() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sender
}

// Receiver returns the current receiver, or nil.
func (r *Registry) Receiver() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receiver
}

// Roles reports which slots c currently holds.
func (r *Registry) Roles(c Conn) []Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rolesLocked(c)
}

func (r *Registry) rolesLocked(c Conn) []Role {
	var roles []Role
	if c == nil {
		return roles
	}
	if r.sender == c {
		roles = append(roles, RoleSender)
	}
	if r.receiver == c {
		roles = append(roles, RoleReceiver)
	}
	return roles
}

// Evict clears every slot still held by c and returns the roles it held.
//
// A connection that was already displaced holds nothing, so evicting it never
// disturbs its successor.
func (r *Registry) Evict(c Conn) []Role {
	r.mu.Lock()
	defer r.mu.Unlock()

	roles := r.rolesLocked(c)
	for _, role := range roles {
		switch role {
		case RoleSender:
			r.sender = nil
		case RoleReceiver:
			r.receiver = nil
		}
	}
	return roles
}

// Route applies the routing rules to msg received from c.
func (r *Registry) Route(c Conn, msg signal.Message) Result {
	if c == nil || msg == nil {
		return Result{Outcome: OutcomeIgnored, Err: fmt.Errorf("relay: nothing to route")}
	}

	switch m := msg.(type) {
	case signal.DeclareSender:
		return r.declare(c, RoleSender)
	case signal.DeclareReceiver:
		return r.declare(c, RoleReceiver)
	case signal.Offer:
		r.mu.Lock()
		if r.sender != c {
			r.mu.Unlock()
			return unauthorized(msg.Kind(), RoleSender)
		}
		target := r.receiver
		r.mu.Unlock()
		return forward(target, RoleSender, signal.Offer{SDP: m.SDP})
	case signal.Answer:
		r.mu.Lock()
		if r.receiver != c {
			r.mu.Unlock()
			return unauthorized(msg.Kind(), RoleReceiver)
		}
		target := r.sender
		r.mu.Unlock()
		return forward(target, RoleReceiver, signal.Answer{SDP: m.SDP})
	case signal.Candidate:
		r.mu.Lock()
		var (
			from   Role
			target Conn
		)
		switch c {
		case r.sender:
			from, target = RoleSender, r.receiver
		case r.receiver:
			from, target = RoleReceiver, r.sender
		}
		r.mu.Unlock()
		if from == RoleNone {
			return unauthorized(msg.Kind(), RoleNone)
		}
		return forward(target, from, signal.Candidate{Candidate: m.Candidate})
	default:
		return Result{Outcome: OutcomeIgnored, Err: fmt.Errorf("relay: no rule for %q", msg.Kind())}
	}
}

func (r *Registry) declare(c Conn, role Role) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := &r.sender
	if role == RoleReceiver {
		slot = &r.receiver
	}

	var displaced Conn
	if *slot != nil && *slot != c {
		displaced = *slot
	}
	*slot = c
	return Result{Outcome: OutcomeRegistered, Role: role, Displaced: displaced}
}

func unauthorized(kind signal.Kind, required Role) Result {
	if required == RoleNone {
		return Result{
			Outcome: OutcomeUnauthorized,
			Err:     fmt.Errorf("%w: %s requires a declared role", ErrNotRoleHolder, kind),
		}
	}
	return Result{
		Outcome: OutcomeUnauthorized,
		Err:     fmt.Errorf("%w: %s requires %s", ErrNotRoleHolder, kind, required),
	}
}

func forward(target Conn, from Role, msg signal.Message) Result {
	if target == nil {
		return Result{Outcome: OutcomeNoCounterpart, Role: from, Err: ErrNoCounterpart}
	}

	data, err := signal.Encode(msg)
	if err != nil {
		return Result{Outcome: OutcomeSendFailed, Role: from, Target: target, Err: err}
	}
	if err := target.Send(data); err != nil {
		return Result{
			Outcome: OutcomeSendFailed,
			Role:    from,
			Target:  target,
			Err:     fmt.Errorf("relay: send to %s: %w", target.ID(), err),
		}
	}
	return Result{Outcome: OutcomeForwarded, Role: from, Target: target}
}
