// Package peer is a Go participant for the signaling relay: it dials the
// relay, declares a role and drives a pion PeerConnection off the forwarded
// messages.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signal"
)

const writeWait = 1 * time.Second

var ErrClosed = errors.New("peer: signaling connection closed")

type Options struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Header http.Header
	Logger *slog.Logger
}

// Client is one participant's signaling connection.
type Client struct {
	role relay.Role
	ws   *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	incoming chan signal.Message

	closeOnce sync.Once
	done      chan struct{}

	errMu   sync.Mutex
	readErr error
}

// ParseRole accepts "sender" or "receiver".
func ParseRole(s string) (relay.Role, error) {
	switch signal.Kind(s) {
	case signal.KindSender:
		return relay.RoleSender, nil
	case signal.KindReceiver:
		return relay.RoleReceiver, nil
	default:
		return relay.RoleNone, fmt.Errorf("invalid role %q (expected sender or receiver)", s)
	}
}

// Dial connects to the relay at url and declares role before returning.
func Dial(ctx context.Context, url string, role relay.Role, opts Options) (*Client, error) {
	var decl signal.Message
	switch role {
	case relay.RoleSender:
		decl = signal.DeclareSender{}
	case relay.RoleReceiver:
		decl = signal.DeclareReceiver{}
	default:
		return nil, fmt.Errorf("peer: cannot dial as role %s", role)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		role:     role,
		ws:       ws,
		log:      log.With("role", role.String()),
		incoming: make(chan signal.Message, 64),
		done:     make(chan struct{}),
	}
	if err := c.send(decl); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("declare %s: %w", role, err)
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Role() relay.Role { return c.role }

func (c *Client) SendOffer(desc webrtc.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return c.send(signal.Offer{SDP: raw})
}

func (c *Client) SendAnswer(desc webrtc.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return c.send(signal.Answer{SDP: raw})
}

func (c *Client) SendCandidate(cand webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(cand)
	if err != nil {
		return err
	}
	return c.send(signal.Candidate{Candidate: raw})
}

func (c *Client) send(msg signal.Message) error {
	data, err := signal.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Next returns the next message the relay forwarded to this client.
// Frames that do not parse are skipped.
func (c *Client) Next(ctx context.Context) (signal.Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.done:
		return nil, c.err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer c.shutdown(nil)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		msg, err := signal.Parse(data)
		if err != nil {
			c.log.Debug("peer_message_skipped", "err", err)
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
	}
	return ErrClosed
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.readErr = err
		c.errMu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}

// Close sends a normal close frame and releases the socket.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown(nil)
	return nil
}
