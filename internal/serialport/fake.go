package serialport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opencnc/cncstream/internal/protocol"
)

// FakePort is an in-memory protocol.Port for tests: Write appends to an internal log, and
// FeedLine pushes a synthetic inbound line to be delivered as a data event.
type FakePort struct {
	mu      sync.Mutex
	open    bool
	eventCh chan protocol.PortEvent
	written []string
}

func NewFakePort() *FakePort {
	return &FakePort{}
}

func (f *FakePort) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	f.eventCh = make(chan protocol.PortEvent, 256)
	return nil
}

func (f *FakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return 0, fmt.Errorf("fakeport: write: not open")
	}
	f.written = append(f.written, string(p))
	return len(p), nil
}

func (f *FakePort) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakePort) Events() <-chan protocol.PortEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventCh
}

func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil
	}
	f.open = false
	close(f.eventCh)
	return nil
}

// FeedLine delivers a synthetic inbound line, as if the device had sent it.
func (f *FakePort) FeedLine(line string) {
	f.mu.Lock()
	ch := f.eventCh
	f.mu.Unlock()
	if ch == nil {
		return
	}
	ch <- protocol.PortEvent{Kind: protocol.PortEventData, Line: line}
}

// Written returns a copy of every byte slice passed to Write so far, one entry per call;
// newline-terminated writes and bare realtime bytes are both preserved verbatim.
func (f *FakePort) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

// WrittenString concatenates every write, for tests asserting on the full wire sequence.
func (f *FakePort) WrittenString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.written, "")
}
