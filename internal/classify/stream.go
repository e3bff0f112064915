package classify

// StreamingScanner accumulates response-stream chunks and re-invokes the
// pipeline each time the configured buffer size is reached, keeping an
// overlap window so a pattern split across two chunks is still caught.
// Accumulation and re-checking continues window after window only while
// no window has produced a blocking classification yet: once the proxy
// observes a Block from one window, the stream is torn down and no
// further windows are ever scanned for that connection (the per-stream
// "fire once" behavior is a consequence of the proxy stopping, not a
// property of the scanner itself).
type StreamingScanner struct {
	pipeline    *Pipeline
	overlapBuf  []byte
	overlapSize int
	bufSize     int
	accumulated []byte
	windows     int
}

// NewStreamingScanner builds a scanner. bufSize is the accumulation
// threshold (spec default 500 chars); overlapSize defaults to bufSize if
// zero.
func (p *Pipeline) NewStreamingScanner(bufSize, overlapSize int) *StreamingScanner {
	if bufSize <= 0 {
		bufSize = 500
	}
	if overlapSize <= 0 {
		overlapSize = bufSize
	}
	return &StreamingScanner{
		pipeline:    p,
		overlapSize: overlapSize,
		bufSize:     bufSize,
	}
}

// ScanChunk folds chunk into the accumulation buffer. It returns a non-nil
// Classification whenever enough content has accumulated to trigger a
// check; the caller stops calling ScanChunk once a check comes back as a
// block (the rule engine's concern, not the scanner's).
func (s *StreamingScanner) ScanChunk(chunk []byte) *Classification {
	if len(chunk) == 0 {
		return nil
	}

	s.accumulated = append(s.accumulated, chunk...)
	if len(s.accumulated) < s.bufSize {
		return nil
	}

	window := append(append([]byte{}, s.overlapBuf...), s.accumulated...)
	result := s.pipeline.Classify(string(window))
	s.windows++

	if len(chunk) >= s.overlapSize {
		s.overlapBuf = append([]byte{}, chunk[len(chunk)-s.overlapSize:]...)
	} else {
		s.overlapBuf = append([]byte{}, chunk...)
	}
	s.accumulated = nil

	return &result
}

// Finalize scans whatever remains in the accumulation buffer when the
// stream ends, even if it never reached bufSize.
func (s *StreamingScanner) Finalize() *Classification {
	if len(s.accumulated) == 0 {
		return nil
	}
	window := append(append([]byte{}, s.overlapBuf...), s.accumulated...)
	result := s.pipeline.Classify(string(window))
	s.windows++
	s.accumulated = nil
	return &result
}

// WindowsScanned reports how many check windows have fired so far.
func (s *StreamingScanner) WindowsScanned() int {
	return s.windows
}
