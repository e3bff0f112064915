// Package proxy implements the Aegis MITM Proxy: a loopback-bound
// CONNECT tunnel that splices traffic to hosts the Site Registry doesn't
// recognize and terminates TLS with a CA-minted leaf for hosts it does,
// gating forwarding on the Classifier Pipeline and Rule Engine.
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"aegis/internal/ca"
	"aegis/internal/classify"
	"aegis/internal/extract"
	"aegis/internal/metrics"
	"aegis/internal/profile"
	"aegis/internal/registry"
	"aegis/internal/rules"
	"aegis/internal/store"
	"aegis/internal/telemetry"
)

// Config holds the proxy's tunable knobs, sourced from the top-level
// config file (ports, buffer sizes, timeouts) per spec.md §6.
type Config struct {
	// ListenAddr is the loopback address:port to accept CONNECT tunnels
	// on (default "127.0.0.1:8766").
	ListenAddr string

	// PayloadMaxBytes bounds request-body buffering; bodies larger than
	// this are extracted from the truncated prefix only.
	PayloadMaxBytes int

	// StreamBufSize is the response-stream accumulation threshold in
	// bytes before a check fires (spec default 500).
	StreamBufSize int
	// StreamOverlapSize is retained from the tail of each scanned window
	// so patterns spanning chunk boundaries are still caught.
	StreamOverlapSize int
	// StreamCheckInterval forces a scan of whatever has accumulated even
	// below StreamBufSize, so a slow trickle of tokens still gets checked
	// (spec default 2000ms).
	StreamCheckInterval time.Duration

	// BodyReadTimeout bounds how long request-body buffering may block;
	// on timeout the request is allowed through (log-only), per spec.md
	// §5's cancellation/timeout rules.
	BodyReadTimeout time.Duration

	// CaptureMode is "all" (every checked prompt gets an events row, the
	// full audit trail) or "flagged_only" (skip plain Allow verdicts, to
	// bound event volume on a busy desktop). The local-settings overlay
	// can override it; the value is read once when the proxy is built.
	CaptureMode string
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          "127.0.0.1:8766",
		PayloadMaxBytes:     256 * 1024,
		StreamBufSize:       500,
		StreamOverlapSize:   128,
		StreamCheckInterval: 2 * time.Second,
		BodyReadTimeout:     5 * time.Second,
		CaptureMode:         "all",
	}
}

// Proxy is the MITM proxy server.
type Proxy struct {
	cfg Config

	authority  *ca.Authority
	registry   *registry.Registry
	extractor  *extract.Registry
	classifier *classify.Pipeline
	profiles   *profile.Manager
	guardrail  *rules.VolumeGuardrail
	state      *StateCache
	db         *store.Store
	tracer     *telemetry.Provider

	upstream *http.Client
}

// New wires the proxy's collaborators together. tracer may be nil, in
// which case request spans are skipped (telemetry is observability, not
// a dependency for serving traffic).
func New(cfg Config, authority *ca.Authority, reg *registry.Registry, extractor *extract.Registry,
	classifier *classify.Pipeline, profiles *profile.Manager, guardrail *rules.VolumeGuardrail,
	state *StateCache, db *store.Store, tracer *telemetry.Provider) *Proxy {

	return &Proxy{
		cfg:        cfg,
		authority:  authority,
		registry:   reg,
		extractor:  extractor,
		classifier: classifier,
		profiles:   profiles,
		guardrail:  guardrail,
		state:      state,
		db:         db,
		tracer:     tracer,
		upstream: &http.Client{
			Transport: &http.Transport{
				ForceAttemptHTTP2:   true,
				MaxIdleConnsPerHost: 16,
			},
			// The proxy owns redirect handling per-hop: never auto-follow,
			// forward the 3xx back to the client unmodified.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// ListenAndServe accepts CONNECT tunnels on cfg.ListenAddr until ctx is
// done.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("proxy: listen on %s: %w", p.cfg.ListenAddr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("proxy: listening", "addr", p.cfg.ListenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("proxy: accept failed", "error", err)
			continue
		}
		go p.handleConn(ctx, conn)
	}
}

// handleConn reads a single CONNECT request, extracts SNI from the
// target authority, and either splices the raw byte stream (unmatched
// host) or terminates TLS and runs the decrypted stream through the
// request/response pipeline (matched host). Matches the proxy's
// ACCEPT -> (SPLICE | HANDSHAKE) -> ... state machine from spec.md §4.8.
func (p *Proxy) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connID := connIdentity(conn)

	reader := bufio.NewReader(conn)
	req, err := http.ReadRequest(reader)
	if err != nil {
		return
	}
	if req.Method != http.MethodConnect {
		slog.Warn("proxy: expected CONNECT, got other method", "method", req.Method)
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		return
	}

	host, _, err := net.SplitHostPort(req.Host)
	if err != nil {
		host = req.Host
	}

	entry, matched := p.registry.Lookup(host)
	metrics.RecordConnection(matched)

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	if !matched {
		p.splice(ctx, conn, req.Host)
		return
	}

	tlsConn := tls.Server(conn, p.authority.TLSConfig())
	defer tlsConn.Close()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		slog.Debug("proxy: TLS handshake failed", "host", host, "error", err)
		return
	}

	p.serveDecrypted(ctx, tlsConn, host, entry, connID)
}

// splice forwards raw bytes in both directions without TLS termination,
// for hosts the Site Registry does not recognize.
func (p *Proxy) splice(ctx context.Context, clientConn net.Conn, hostport string) {
	upstreamConn, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, "tcp", hostport)
	if err != nil {
		slog.Debug("proxy: splice dial failed", "host", hostport, "error", err)
		return
	}
	defer upstreamConn.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstreamConn, clientConn); done <- struct{}{} }()
	go func() { io.Copy(clientConn, upstreamConn); done <- struct{}{} }()
	<-done
}

// serveDecrypted reads HTTP requests from the decrypted client stream and
// runs each through the request/response pipeline, keeping the tunnel
// open for as many requests as the client sends on it (HTTP keep-alive).
func (p *Proxy) serveDecrypted(ctx context.Context, tlsConn *tls.Conn, host string, entry registry.Entry, connID string) {
	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		req = req.WithContext(ctx)

		if isWebSocketUpgrade(req) {
			if err := p.handleWebSocket(ctx, tlsConn, reader, req, host, entry, connID); err != nil {
				slog.Debug("proxy: websocket handling ended tunnel", "host", host, "error", err)
			}
			return
		}

		if err := p.handleRequest(tlsConn, req, host, entry, connID); err != nil {
			slog.Debug("proxy: request handling ended tunnel", "host", host, "error", err)
			return
		}
	}
}

func connIdentity(conn net.Conn) string {
	return conn.RemoteAddr().String()
}
