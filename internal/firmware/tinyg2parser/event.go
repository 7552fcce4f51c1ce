package tinyg2parser

import "encoding/json"

// EventKind tags the variant held by an Event.
type EventKind int

const (
	EventUnknown      EventKind = iota
	EventResponse               // {"r":{...},"f":[...]}
	EventStatusReport           // {"sr":{...}}
	EventQueueReport            // {"qr":n,"qi":n,"qo":n}
	EventFeedback               // {"fb":...}
	EventHardware               // {"hp":...}
)

// Footer is TinyG2's `f` array: [responseCategory, statusCode, millisecondsInCommand, checksum].
// A non-zero StatusCode while the controller isn't Idle is a firmware-reported error.
type Footer struct {
	Raw        []int
	StatusCode int
}

// Response is the decoded `r` object of a command-acknowledgement line. LineNumber is the `Nk`
// line number the command was framed with, recovered either from an explicit "n" field or, if
// absent, parsed back out of the echoed "gc" text.
type Response struct {
	LineNumber int
	HasLine    bool
	Raw        json.RawMessage
}

// QueueReport is the device's planner-queue announcement: qr is the number of free buffers, qi/qo
// are the write/read indices used by the controller to tell whether an arc has committed.
type QueueReport struct {
	QR int
	QI int
	QO int
}

// Event is the single decoded unit emitted by the parser for each line received from a TinyG2
// device. Exactly one of the optional fields is populated, selected by Kind.
type Event struct {
	Kind EventKind
	Raw  string

	Response *Response
	Footer   *Footer // present alongside Response when the envelope carries an "f" field

	StatusReport *StatusReport
	QueueReport  *QueueReport

	Text string // payload for Feedback/Hardware/Unknown
}
