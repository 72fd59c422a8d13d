// Command aero-signal-peer joins a signaling relay as sender or receiver,
// negotiates a data channel with the other side and exchanges one text
// message. It is meant for smoke-testing a relay deployment.
//
// Either side may start first. A sender re-sends its offer every couple of
// seconds until a receiver answers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/peer"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
)

type options struct {
	URL     string
	Role    relay.Role
	Label   string
	Message string
	Timeout time.Duration
	Verbose bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("aero-signal-peer", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		opts options
		role string
	)
	fs.StringVar(&opts.URL, "url", "ws://127.0.0.1:8080/", "Signaling relay WebSocket URL")
	fs.StringVar(&role, "role", "", "Role to declare: sender or receiver (either may start first)")
	fs.StringVar(&opts.Label, "label", "aero-signal-peer", "Data channel label (sender only)")
	fs.StringVar(&opts.Message, "message", "", "Text to send once the data channel opens (defaults to a greeting naming the role)")
	fs.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Give up if the exchange has not finished by then")
	fs.BoolVar(&opts.Verbose, "v", false, "Debug logging")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 0 {
		return options{}, fmt.Errorf("unexpected positional args: %v", fs.Args())
	}

	r, err := peer.ParseRole(role)
	if err != nil {
		return options{}, err
	}
	opts.Role = r
	if opts.Timeout <= 0 {
		return options{}, fmt.Errorf("--timeout must be > 0")
	}
	if opts.Message == "" {
		opts.Message = "hello from " + r.String()
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	iceServers, err := config.LoadICEServersFromEnv()
	if err != nil {
		logger.Error("invalid ICE server configuration", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	reply, err := run(ctx, opts, iceServers, logger)
	if err != nil {
		logger.Error("peer exchange failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(reply)
}

// run negotiates with the counterpart and returns the text it received.
func run(ctx context.Context, opts options, iceServers []webrtc.ICEServer, logger *slog.Logger) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return "", fmt.Errorf("new peer connection: %w", err)
	}
	defer pc.Close()

	received := make(chan string, 1)
	attach := func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			logger.Info("datachannel_open", "label", dc.Label())
			if err := dc.SendText(opts.Message); err != nil {
				logger.Warn("datachannel_send_failed", "err", err)
			}
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			select {
			case received <- string(msg.Data):
			default:
			}
		})
	}

	if opts.Role == relay.RoleSender {
		dc, err := pc.CreateDataChannel(opts.Label, nil)
		if err != nil {
			return "", fmt.Errorf("create datachannel: %w", err)
		}
		attach(dc)
	} else {
		pc.OnDataChannel(attach)
	}

	client, err := peer.Dial(ctx, opts.URL, opts.Role, peer.Options{Logger: logger})
	if err != nil {
		return "", err
	}
	defer client.Close()
	logger.Info("signaling_connected", "url", opts.URL, "role", opts.Role.String())

	if err := peer.Negotiate(ctx, client, pc, opts.Role); err != nil {
		return "", fmt.Errorf("negotiate: %w", err)
	}
	logger.Info("peer_connected")

	select {
	case msg := <-received:
		return msg, nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for message: %w", ctx.Err())
	}
}
