// Package sender implements the two job-streaming flow-control protocols: character-counting
// (Grbl family) and send/response (TinyG2), sharing a common G-code tokenization step.
package sender

import (
	"strings"

	"github.com/opencnc/cncstream/internal/gcode"
)

// Status is a snapshot of a sender's progress, suitable for a sender:status event.
type Status struct {
	Name          string
	Total         int
	Sent          int
	Received      int
	BytesInFlight int // character-counting only; zero for send/response
	BufferSize    int // character-counting only; zero for send/response
}

// Sender is implemented by CharCountSender and SendResponseSender.
type Sender interface {
	Load(name, blob string) bool
	Unload()
	Rewind()
	Next() []string
	Ack()
	Status() Status
	Peek() bool
	// OldestInFlight returns the text of the oldest sent-but-not-yet-acknowledged line (the one
	// the next Ack will consume), for reporting which line a firmware error applies to.
	OldestInFlight() (string, bool)
}

// tokenize splits a G-code blob into lines, trimming trailing whitespace. Blank lines are kept
// in the returned slice so line indexing and Status totals match the source file, but Next
// never writes them to the wire. Each non-blank line is additionally parsed with the G-code
// tokenizer, both to reject malformed input and, if eepromCheck is set, to reject lines that
// would mutate Grbl's EEPROM-backed settings (unsafe to interleave with in-flight
// unacknowledged lines under character-counting flow control). The line text sent to the
// device is the original source text, not a re-serialized form, so transmitted byte counts
// match the source exactly.
func tokenize(blob string, eepromCheck bool) ([]string, error) {
	var lines []string
	for _, raw := range strings.Split(strings.TrimSuffix(blob, "\n"), "\n") {
		line := strings.TrimRight(raw, " \t\r")
		if line != "" {
			parser := gcode.NewParser(strings.NewReader(line + "\n"))
			_, block, _, err := parser.Next()
			if err != nil {
				return nil, err
			}
			if eepromCheck && block != nil && block.IsEEPROM() {
				return nil, errEEPROM(line)
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// hasGcode reports whether at least one indexed line is non-blank, i.e. the job would write
// anything at all.
func hasGcode(lines []string) bool {
	for _, line := range lines {
		if line != "" {
			return true
		}
	}
	return false
}

type eepromError string

func (e eepromError) Error() string {
	return "eeprom-mutating command not supported under character-counting streaming: " + string(e)
}

func errEEPROM(line string) error { return eepromError(line) }

// base holds the progress fields and the unload/rewind/peek logic common to both sender
// variants; tokenization is the separate tokenize function.
type base struct {
	name     string
	lines    []string
	total    int
	sent     int
	received int
	loaded   bool

	lastPeek Status
	hasPeek  bool
}

func (b *base) unload() {
	b.name = ""
	b.lines = nil
	b.total = 0
	b.sent = 0
	b.received = 0
	b.loaded = false
}

func (b *base) rewind() {
	b.sent = 0
	b.received = 0
}

func (b *base) peek(current Status) bool {
	changed := !b.hasPeek || current != b.lastPeek
	b.lastPeek = current
	b.hasPeek = true
	return changed
}
