package proxy

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"aegis/internal/rules"
)

// hopByHopHeaders are stripped before forwarding in either direction, per
// RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Transfer-Encoding",
	"TE", "Trailer", "Upgrade", "Proxy-Authenticate", "Proxy-Authorization",
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// forward sends the (already verdict-cleared) request upstream over TLS
// and relays the response back to w, scanning streaming responses as
// they arrive.
func (p *Proxy) forward(w io.Writer, req *http.Request, body []byte, host string) error {
	outURL := fmt.Sprintf("https://%s%s", host, req.URL.RequestURI())
	outReq, err := http.NewRequestWithContext(req.Context(), req.Method, outURL, bytes.NewReader(body))
	if err != nil {
		return writeUpstreamError(w, err)
	}
	outReq.Header = req.Header.Clone()
	stripHopByHop(outReq.Header)
	outReq.Host = host
	outReq.ContentLength = int64(len(body))

	resp, err := p.upstream.Do(outReq)
	if err != nil {
		slog.Warn("proxy: upstream request failed", "host", host, "error", err)
		return writeUpstreamError(w, err)
	}
	defer resp.Body.Close()

	if isStreamingResponse(resp) {
		return p.forwardStreaming(w, resp, host)
	}
	return p.forwardStandard(w, resp)
}

func writeUpstreamError(w io.Writer, cause error) error {
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"error":"upstream unavailable"}`)),
	}
	resp.ContentLength = int64(len(`{"error":"upstream unavailable"}`))
	return resp.Write(w)
}

func isStreamingResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/event-stream") {
		return true
	}
	for _, enc := range resp.TransferEncoding {
		if enc == "chunked" {
			return true
		}
	}
	return resp.ContentLength < 0
}

// forwardStandard relays a non-streaming response verbatim; spec.md's
// response-path scanning only applies to event-stream/chunked bodies.
func (p *Proxy) forwardStandard(w io.Writer, resp *http.Response) error {
	stripHopByHop(resp.Header)
	return resp.Write(w)
}

// forwardStreaming relays a streaming response chunk-by-chunk, scanning
// accumulated text with the Classifier Pipeline's StreamingScanner and
// substituting the block sentinel the moment a window evaluates to
// Block, per spec.md §4.8's response-path algorithm.
func (p *Proxy) forwardStreaming(w io.Writer, resp *http.Response, host string) error {
	stripHopByHop(resp.Header)
	resp.Header.Set("Transfer-Encoding", "chunked")

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	resp.Header.Write(bw)
	fmt.Fprint(bw, "\r\n")

	scanner := p.classifier.NewStreamingScanner(p.cfg.StreamBufSize, p.cfg.StreamOverlapSize)
	profile := p.profiles.Current()

	buf := make([]byte, 4096)
	lastCheck := time.Now()

	writeChunk := func(chunk []byte) error {
		if _, err := fmt.Fprintf(bw, "%x\r\n", len(chunk)); err != nil {
			return err
		}
		if _, err := bw.Write(chunk); err != nil {
			return err
		}
		if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
			return err
		}
		return bw.Flush()
	}

	blockAndStop := func() error {
		sentinel := []byte(streamBlockSentinel)
		if err := writeChunk(sentinel); err != nil {
			return err
		}
		fmt.Fprint(bw, "0\r\n\r\n")
		bw.Flush()
		return fmt.Errorf("response blocked mid-stream")
	}

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]

			if filtering := p.state.IsFilteringEnabled(); filtering {
				if classification := scanner.ScanChunk(chunk); classification != nil {
					lastCheck = time.Now()
					v := rules.Evaluate(*classification, time.Now(), profile, rules.ProtectionState{Active: true})
					if v.Action == rules.ActionBlock {
						slog.Warn("proxy: streaming response blocked", "host", host, "reason", v.Reason)
						return blockAndStop()
					}
				} else if time.Since(lastCheck) >= p.cfg.StreamCheckInterval {
					lastCheck = time.Now()
					if classification := scanner.Finalize(); classification != nil {
						v := rules.Evaluate(*classification, time.Now(), profile, rules.ProtectionState{Active: true})
						if v.Action == rules.ActionBlock {
							slog.Warn("proxy: streaming response blocked (timeout flush)", "host", host, "reason", v.Reason)
							return blockAndStop()
						}
					}
				}
			}

			if err := writeChunk(chunk); err != nil {
				return err
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				slog.Debug("proxy: error reading upstream stream", "host", host, "error", readErr)
			}
			break
		}
	}

	if p.state.IsFilteringEnabled() {
		if classification := scanner.Finalize(); classification != nil {
			v := rules.Evaluate(*classification, time.Now(), profile, rules.ProtectionState{Active: true})
			if v.Action == rules.ActionBlock {
				slog.Warn("proxy: streaming response blocked at finalize", "host", host, "reason", v.Reason)
				return blockAndStop()
			}
		}
	}

	fmt.Fprint(bw, "0\r\n\r\n")
	return bw.Flush()
}
