// Command relay-server-go runs the signaling relay on an ephemeral port for
// browser end-to-end tests and prints "READY <port>" once it is listening.
//
// With ECHO_RECEIVER=1 it also joins its own relay as the receiver and echoes
// every data channel message back, so a single browser page can act as the
// sender.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/peer"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 0)

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ice", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[]}`))
	})

	sig := signaling.NewServer(signaling.Config{
		Logger:         logger,
		AllowedOrigins: []string{"*"},
	})
	sig.RegisterRoutes(mux)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	actualPort := ln.Addr().(*net.TCPAddr).Port
	if os.Getenv("ECHO_RECEIVER") == "1" {
		go func() {
			url := fmt.Sprintf("ws://%s/", net.JoinHostPort(bindHost, strconv.Itoa(actualPort)))
			if err := runEchoReceiver(ctx, url, logger); err != nil && ctx.Err() == nil {
				logger.Error("echo receiver failed", "err", err)
			}
		}()
	}
	fmt.Printf("READY %d\n", actualPort)

	select {
	case <-ctx.Done():
		sig.Close()
		_ = srv.Shutdown(context.Background())
		<-errCh
	case err := <-errCh:
		sig.Close()
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// runEchoReceiver answers one sender and echoes its data channel messages
// until ctx is cancelled.
func runEchoReceiver(ctx context.Context, url string, logger *slog.Logger) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	defer pc.Close()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			var err error
			if msg.IsString {
				err = dc.SendText(string(msg.Data))
			} else {
				err = dc.Send(msg.Data)
			}
			if err != nil {
				logger.Warn("echo_send_failed", "err", err)
			}
		})
	})

	client, err := peer.Dial(ctx, url, relay.RoleReceiver, peer.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := peer.Negotiate(ctx, client, pc, relay.RoleReceiver); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}
