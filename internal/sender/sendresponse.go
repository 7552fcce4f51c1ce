package sender

// SendResponseSender implements TinyG2's send/response flow control: at most one line in
// flight at a time, gated by the controller's ack/queue-report logic rather than byte counts.
type SendResponseSender struct {
	base
	inFlight string
}

func NewSendResponseSender() *SendResponseSender {
	return &SendResponseSender{}
}

func (s *SendResponseSender) Load(name, blob string) bool {
	lines, err := tokenize(blob, false)
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

func (s *SendResponseSender) Unload() {
	s.unload()
	s.inFlight = ""
}

func (s *SendResponseSender) Rewind() {
	s.rewind()
	s.inFlight = ""
}

// Next emits the next line only if no line is currently outstanding. Blank lines count toward
// Sent/Received progress but are never written, so they can't have a response outstanding.
func (s *SendResponseSender) Next() []string {
	if s.sent != s.received {
		return nil
	}
	for s.sent < s.total && s.lines[s.sent] == "" {
		s.sent++
		s.received++
	}
	if s.sent >= s.total {
		return nil
	}
	line := s.lines[s.sent]
	s.inFlight = line
	s.sent++
	return []string{line}
}

func (s *SendResponseSender) Ack() {
	if s.received >= s.sent {
		return
	}
	s.received++
	s.inFlight = ""
}

func (s *SendResponseSender) Status() Status {
	return Status{
		Name:     s.name,
		Total:    s.total,
		Sent:     s.sent,
		Received: s.received,
	}
}

func (s *SendResponseSender) Peek() bool {
	return s.peek(s.Status())
}

func (s *SendResponseSender) OldestInFlight() (string, bool) {
	if s.received >= s.sent {
		return "", false
	}
	return s.inFlight, true
}
