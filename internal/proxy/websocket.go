package proxy

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"aegis/internal/extract"
	"aegis/internal/metrics"
	"aegis/internal/registry"
	"aegis/internal/rules"
)

// wsHeadersToForward lists the client headers worth relaying to the
// upstream WebSocket handshake. Hop-by-hop and Sec-WebSocket-* headers
// are handled by the coder/websocket dialer itself and are deliberately
// excluded.
var wsHeadersToForward = []string{
	"Authorization",
	"Cookie",
	"User-Agent",
	"OpenAI-Beta",
	"OpenAI-Organization",
	"X-Api-Key",
	"Anthropic-Version",
	"Anthropic-Beta",
}

// isWebSocketUpgrade reports whether req asks to upgrade the connection
// to the WebSocket protocol.
func isWebSocketUpgrade(req *http.Request) bool {
	conn := strings.ToLower(req.Header.Get("Connection"))
	return strings.Contains(conn, "upgrade") && strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

// handleWebSocket upgrades the decrypted client stream and the matching
// upstream connection to WebSocket, then proxies frames bidirectionally.
// Text frames are run through the same extract -> classify -> evaluate
// pipeline as ordinary HTTP request bodies (spec.md §4.8 extends to the
// WebSocket-framed transports some monitored sites use for streaming
// chat, e.g. Perplexity's socket.io-over-WS); binary frames pass through
// unexamined.
func (p *Proxy) handleWebSocket(ctx context.Context, conn net.Conn, reader *bufio.Reader, req *http.Request, host string, entry registry.Entry, connID string) error {
	fw := newHijackResponseWriter(conn, reader)
	clientConn, err := websocket.Accept(fw, req, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // the proxy itself already terminated TLS for this host
	})
	if err != nil {
		slog.Debug("proxy: websocket accept failed", "host", host, "error", err)
		return err
	}
	defer clientConn.CloseNow()

	backendConn, err := dialUpstreamWebSocket(ctx, host, req)
	if err != nil {
		slog.Warn("proxy: websocket upstream dial failed", "host", host, "error", err)
		clientConn.Close(websocket.StatusInternalError, "upstream connection failed")
		return err
	}
	defer backendConn.CloseNow()

	if p.cfg.PayloadMaxBytes > 0 {
		clientConn.SetReadLimit(int64(p.cfg.PayloadMaxBytes))
		backendConn.SetReadLimit(int64(p.cfg.PayloadMaxBytes))
	}

	slog.Info("proxy: websocket tunnel established", "host", host, "service", entry.ServiceName)

	proxyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.forwardWebSocketFrames(proxyCtx, clientConn, backendConn, host, entry, connID, cancel)
	}()
	go func() {
		defer wg.Done()
		p.forwardWebSocketFrames(proxyCtx, backendConn, clientConn, host, entry, connID, cancel)
	}()
	wg.Wait()

	return nil
}

// forwardWebSocketFrames copies frames from src to dst, gating text
// frames on the classifier/rule pipeline. A Block verdict drops the
// frame and tears down the tunnel rather than letting a partially
// filtered stream continue.
func (p *Proxy) forwardWebSocketFrames(ctx context.Context, src, dst *websocket.Conn, host string, entry registry.Entry, connID string, cancel context.CancelFunc) {
	for {
		msgType, data, err := src.Read(ctx)
		if err != nil {
			cancel()
			return
		}

		if msgType == websocket.MessageText && p.state.IsFilteringEnabled() {
			verdict := p.evaluateWebSocketFrame(data, host, entry)
			p.guardrail.Record(connID, verdict.Action)
			if verdict.Action == rules.ActionBlock {
				slog.Warn("proxy: websocket frame blocked", "host", host, "reason", verdict.Reason)
				src.Close(websocket.StatusPolicyViolation, "blocked by content policy")
				dst.Close(websocket.StatusPolicyViolation, "blocked by content policy")
				cancel()
				return
			}
		}

		if err := dst.Write(ctx, msgType, data); err != nil {
			cancel()
			return
		}
	}
}

// evaluateWebSocketFrame runs one text frame's body through the same
// extract/classify/evaluate path as an HTTP request, recording events and
// flags exactly as handleRequest does.
func (p *Proxy) evaluateWebSocketFrame(data []byte, host string, entry registry.Entry) rules.Verdict {
	truncated := false
	if p.cfg.PayloadMaxBytes > 0 && len(data) > p.cfg.PayloadMaxBytes {
		data = data[:p.cfg.PayloadMaxBytes]
		truncated = true
	}

	prompts := p.extractor.Extract(extract.Request{
		Body:        data,
		ContentType: "application/json",
		Host:        host,
		Method:      "POST",
		ParserHint:  entry.ParserID,
		Truncated:   truncated,
	})

	strongest := rules.Verdict{Action: rules.ActionAllow, Reason: "allowed", Source: rules.Source{Kind: rules.SourceNone}}
	profile := p.profiles.Current()

	for _, prompt := range prompts {
		if !prompt.IsCurrent {
			continue
		}
		classification := p.classifier.Classify(prompt.Text)
		metrics.ObserveTierLatency(string(classification.TerminalTier), float64(classification.LatencyUS)/1e6)
		v := rules.Evaluate(classification, time.Now(), profile, rules.ProtectionState{Active: true})
		metrics.RecordVerdict(string(v.Action), string(v.Source.Category))

		p.recordEvent(profile.ID, entry.ServiceName, prompt.Text, classification, v)
		p.recordFlags(profile.ID, entry.ServiceName, prompt.Text, classification)

		if rules.StrongestAction(strongest.Action, v.Action) != strongest.Action {
			strongest = v
		}
		if strongest.Action == rules.ActionBlock {
			break
		}
	}

	return strongest
}

// dialUpstreamWebSocket opens a WebSocket connection to the real
// upstream host, preserving the inbound request's path, query, and a
// conservative allowlist of headers.
func dialUpstreamWebSocket(ctx context.Context, host string, origReq *http.Request) (*websocket.Conn, error) {
	target := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     origReq.URL.Path,
		RawPath:  origReq.URL.RawPath,
		RawQuery: origReq.URL.RawQuery,
	}

	headers := make(http.Header)
	for _, name := range wsHeadersToForward {
		if values := origReq.Header.Values(name); len(values) > 0 {
			for _, v := range values {
				headers.Add(name, v)
			}
		}
	}

	conn, resp, err := websocket.Dial(ctx, target.String(), &websocket.DialOptions{HTTPHeader: headers})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// hijackResponseWriter adapts a raw net.Conn the proxy already owns (post
// CONNECT, post TLS handshake) into the http.ResponseWriter +
// http.Hijacker pair coder/websocket.Accept expects, so the WebSocket
// handshake can be completed without standing up a net/http.Server.
type hijackResponseWriter struct {
	header http.Header
	conn   net.Conn
	rw     *bufio.ReadWriter
}

func newHijackResponseWriter(conn net.Conn, reader *bufio.Reader) *hijackResponseWriter {
	return &hijackResponseWriter{
		header: make(http.Header),
		conn:   conn,
		rw:     bufio.NewReadWriter(reader, bufio.NewWriter(conn)),
	}
}

func (w *hijackResponseWriter) Header() http.Header         { return w.header }
func (w *hijackResponseWriter) Write(b []byte) (int, error) { return w.rw.Write(b) }
func (w *hijackResponseWriter) WriteHeader(int)             {}

func (w *hijackResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.conn, w.rw, nil
}
