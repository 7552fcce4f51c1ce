// Package grblparser decodes lines received from Grbl-family firmware (Grbl, Smoothieware) into
// a tagged Event union, and holds the handful of realtime command bytes those firmwares accept.
package grblparser

import (
	"strconv"
	"strings"
)

// Parser decodes one framed line at a time. It carries no state across calls; the type exists
// so the controller can hold it the same way the TinyG2 controller holds a tinyg2parser.Parser
// (which is stateless too).
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Feed decodes a single line (without its trailing newline) into an Event.
func (p *Parser) Feed(line string) Event {
	switch {
	case line == "ok":
		return Event{Kind: EventOk, Raw: line}
	case strings.HasPrefix(line, "error:"):
		return decodeError(line)
	case strings.HasPrefix(line, "ALARM:"):
		return decodeAlarm(line)
	case strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">"):
		return decodeStatus(line)
	case strings.HasPrefix(line, "[GC:"):
		return Event{Kind: EventParserState, Raw: line, Text: trimBracket(line, "GC")}
	case strings.HasPrefix(line, "[MSG:"):
		return Event{Kind: EventFeedback, Raw: line, Text: trimBracket(line, "MSG")}
	case strings.HasPrefix(line, "[HLP:"):
		return Event{Kind: EventHelp, Raw: line, Text: trimBracket(line, "HLP")}
	case strings.HasPrefix(line, "[VER:"):
		return Event{Kind: EventVersion, Raw: line, Text: trimBracket(line, "VER")}
	case strings.HasPrefix(line, "[OPT:"):
		return Event{Kind: EventOption, Raw: line, Text: trimBracket(line, "OPT")}
	case strings.HasPrefix(line, "[echo:"):
		return Event{Kind: EventEcho, Raw: line, Text: trimBracket(line, "echo")}
	case isGcodeParam(line):
		return Event{Kind: EventParameters, Raw: line, Text: line}
	case strings.HasPrefix(line, "Grbl ") || strings.HasPrefix(line, "Smoothie"):
		return Event{Kind: EventStartup, Raw: line, Text: line}
	case strings.HasPrefix(line, "$") && strings.Contains(line, "="):
		return Event{Kind: EventSettings, Raw: line, Text: line}
	default:
		return Event{Kind: EventUnknown, Raw: line, Text: line}
	}
}

var gcodeParamPrefixes = []string{
	"[G54:", "[G55:", "[G56:", "[G57:", "[G58:", "[G59:",
	"[G28:", "[G30:", "[G92:", "[TLO:", "[PRB:",
}

func isGcodeParam(line string) bool {
	for _, prefix := range gcodeParamPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func trimBracket(line, tag string) string {
	s := strings.TrimPrefix(line, "["+tag+":")
	s = strings.TrimSuffix(s, "]")
	return s
}

func decodeError(line string) Event {
	codeStr := strings.TrimPrefix(line, "error:")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return Event{Kind: EventError, Raw: line, ErrorMessage: "malformed error code: " + codeStr}
	}
	return Event{Kind: EventError, Raw: line, ErrorCode: code, ErrorMessage: errorMessage(code)}
}

func decodeAlarm(line string) Event {
	codeStr := strings.TrimPrefix(line, "ALARM:")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return Event{Kind: EventAlarm, Raw: line, AlarmMessage: "malformed alarm code: " + codeStr}
	}
	return Event{Kind: EventAlarm, Raw: line, AlarmCode: code, AlarmMessage: alarmMessage(code)}
}

func decodeStatus(line string) Event {
	sr, err := parseStatusReport(line)
	if err != nil {
		return Event{Kind: EventUnknown, Raw: line, Text: err.Error()}
	}
	return Event{Kind: EventStatus, Raw: line, Status: sr}
}
