package sender

// CharCountSender implements Grbl-family character-counting flow control: a sliding window of
// bytes in flight, bounded by a configured receive-buffer size chosen smaller than the
// device's true capacity to leave headroom for out-of-band realtime queries.
type CharCountSender struct {
	base
	bufferSize    int
	bytesInFlight int
	inFlight      []inFlightLine // FIFO of sent, unacknowledged lines
}

// inFlightLine is one written, unacknowledged line: its source text and the byte count
// (line + newline) it occupies in the device's receive buffer.
type inFlightLine struct {
	text  string
	bytes int
}

// NewCharCountSender creates a sender whose window never exceeds bufferSize bytes in flight.
func NewCharCountSender(bufferSize int) *CharCountSender {
	return &CharCountSender{bufferSize: bufferSize}
}

func (s *CharCountSender) Load(name, blob string) bool {
	lines, err := tokenize(blob, true)
	if err != nil || !hasGcode(lines) {
		return false
	}
	s.unload()
	s.name = name
	s.lines = lines
	s.total = len(lines)
	s.loaded = true
	return true
}

func (s *CharCountSender) Unload() {
	s.unload()
	s.bytesInFlight = 0
	s.inFlight = nil
}

func (s *CharCountSender) Rewind() {
	s.rewind()
	s.bytesInFlight = 0
	s.inFlight = nil
}

// Next emits as many of the next unsent lines as fit in the remaining window, in order. Blank
// lines count toward Sent/Received progress but are never written, so they consume no window.
func (s *CharCountSender) Next() []string {
	var out []string
	for s.sent < s.total {
		line := s.lines[s.sent]
		if line == "" {
			s.sent++
			s.received++
			continue
		}
		need := len(line) + 1 // newline accounted
		if need > s.bufferSize-s.bytesInFlight {
			break
		}
		out = append(out, line)
		s.inFlight = append(s.inFlight, inFlightLine{text: line, bytes: need})
		s.bytesInFlight += need
		s.sent++
	}
	return out
}

// Ack consumes the oldest in-flight line's acknowledgement (ok or error), in FIFO order.
func (s *CharCountSender) Ack() {
	if len(s.inFlight) == 0 {
		return
	}
	s.bytesInFlight -= s.inFlight[0].bytes
	s.inFlight = s.inFlight[1:]
	s.received++
}

func (s *CharCountSender) Status() Status {
	return Status{
		Name:          s.name,
		Total:         s.total,
		Sent:          s.sent,
		Received:      s.received,
		BytesInFlight: s.bytesInFlight,
		BufferSize:    s.bufferSize,
	}
}

func (s *CharCountSender) Peek() bool {
	return s.peek(s.Status())
}

func (s *CharCountSender) OldestInFlight() (string, bool) {
	if len(s.inFlight) == 0 {
		return "", false
	}
	return s.inFlight[0].text, true
}
