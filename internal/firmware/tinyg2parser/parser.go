// Package tinyg2parser decodes JSON-framed lines received from a g2core/TinyG2 controller into
// a tagged Event union. Unlike Grbl's line-oriented text protocol, every inbound line is a JSON
// object; this package classifies it by which top-level key is present and decodes accordingly.
package tinyg2parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Parser decodes one framed JSON line at a time. Like grblparser.Parser it carries no state
// across calls; the controller tracks whatever state (sender mode, queue status) the sequence
// of decoded events implies.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

var lineNumberPrefix = regexp.MustCompile(`^N(\d+)\s`)

// Feed decodes a single line (without its trailing newline) into an Event. Malformed JSON and
// lines with none of the recognized top-level keys decode as EventUnknown, carrying the parse
// error (if any) in Text for diagnostics.
func (p *Parser) Feed(line string) Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{Kind: EventUnknown, Raw: line}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		return Event{Kind: EventUnknown, Raw: line, Text: err.Error()}
	}

	if raw, ok := envelope["sr"]; ok {
		sr, err := decodeStatusReport(raw)
		if err != nil {
			return Event{Kind: EventUnknown, Raw: line, Text: err.Error()}
		}
		return Event{Kind: EventStatusReport, Raw: line, StatusReport: sr}
	}

	if raw, ok := envelope["qr"]; ok {
		qr, err := decodeQueueReport(raw, envelope)
		if err != nil {
			return Event{Kind: EventUnknown, Raw: line, Text: err.Error()}
		}
		return Event{Kind: EventQueueReport, Raw: line, QueueReport: qr}
	}

	if raw, ok := envelope["r"]; ok {
		resp := decodeResponse(raw)
		evt := Event{Kind: EventResponse, Raw: line, Response: resp}
		if fraw, ok := envelope["f"]; ok {
			evt.Footer = decodeFooter(fraw)
		}
		return evt
	}

	if raw, ok := envelope["fb"]; ok {
		return Event{Kind: EventFeedback, Raw: line, Text: string(raw)}
	}

	if raw, ok := envelope["hp"]; ok {
		return Event{Kind: EventHardware, Raw: line, Text: string(raw)}
	}

	return Event{Kind: EventUnknown, Raw: line, Text: line}
}

// decodeResponse pulls the acknowledged line number out of an `r` envelope. Some firmware
// builds echo it as a numeric "n" field directly; others only echo the original "gc" text,
// which carries the `Nk ` prefix the controller framed the command with.
func decodeResponse(raw json.RawMessage) *Response {
	resp := &Response{Raw: raw}

	var withN struct {
		N *int `json:"n"`
	}
	if err := json.Unmarshal(raw, &withN); err == nil && withN.N != nil {
		resp.LineNumber = *withN.N
		resp.HasLine = true
		return resp
	}

	var withGC struct {
		GC *string `json:"gc"`
	}
	if err := json.Unmarshal(raw, &withGC); err == nil && withGC.GC != nil {
		if m := lineNumberPrefix.FindStringSubmatch(*withGC.GC); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				resp.LineNumber = n
				resp.HasLine = true
			}
		}
	}

	return resp
}

func decodeFooter(raw json.RawMessage) *Footer {
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return &Footer{}
	}
	f := &Footer{Raw: values}
	if len(values) > 1 {
		f.StatusCode = values[1]
	}
	return f
}

// decodeQueueReport reads qi/qo from sibling keys in the same envelope as qr: the device emits
// the flattened `{"qr":n,"qi":n,"qo":n}` shape, not a nested object.
func decodeQueueReport(qrRaw json.RawMessage, envelope map[string]json.RawMessage) (*QueueReport, error) {
	var qr QueueReport
	if err := json.Unmarshal(qrRaw, &qr.QR); err != nil {
		return nil, err
	}
	if raw, ok := envelope["qi"]; ok {
		if err := json.Unmarshal(raw, &qr.QI); err != nil {
			return nil, err
		}
	}
	if raw, ok := envelope["qo"]; ok {
		if err := json.Unmarshal(raw, &qr.QO); err != nil {
			return nil, err
		}
	}
	return &qr, nil
}
