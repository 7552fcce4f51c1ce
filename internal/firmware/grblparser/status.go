package grblparser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	cncfmt "github.com/opencnc/cncstream/internal/fmt"
)

// MachineState is the device's active motion state, as reported in a status message — distinct
// from the controller's own workflow state (Idle/Running/Paused).
type MachineState struct {
	State    string
	SubState *int
}

func parseMachineState(field string) (*MachineState, error) {
	parts := strings.Split(field, ":")
	if len(parts) < 1 || len(parts) > 2 {
		return nil, fmt.Errorf("machine state field malformed: %q", field)
	}
	ms := &MachineState{State: parts[0]}
	if len(parts) == 2 {
		sub, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("machine state substate invalid: %q", field)
		}
		ms.SubState = &sub
	}
	return ms, nil
}

func (m *MachineState) SubStateString() string {
	if m.SubState == nil {
		return ""
	}
	switch m.State {
	case "Hold":
		switch *m.SubState {
		case 0:
			return "complete"
		case 1:
			return "in-progress"
		}
	case "Door":
		switch *m.SubState {
		case 0:
			return "closed"
		case 1:
			return "ajar"
		case 2:
			return "opened"
		case 3:
			return "resuming"
		}
	}
	return fmt.Sprintf("unknown (%d)", *m.SubState)
}

// Position is a 3 or 4 axis coordinate (X, Y, Z, optional A).
type Position struct {
	X float64
	Y float64
	Z float64
	A *float64
}

// String renders a position to 3 decimal places, trimming trailing zeros.
func (p *Position) String() string {
	s := fmt.Sprintf("X%s Y%s Z%s", cncfmt.SprintFloat(p.X, 3), cncfmt.SprintFloat(p.Y, 3), cncfmt.SprintFloat(p.Z, 3))
	if p.A != nil {
		s += fmt.Sprintf(" A%s", cncfmt.SprintFloat(*p.A, 3))
	}
	return s
}

func parsePosition(label string, values []string) (*Position, error) {
	if len(values) < 3 || len(values) > 4 {
		return nil, fmt.Errorf("%s field malformed: %v", label, values)
	}
	p := &Position{}
	var err error
	if p.X, err = strconv.ParseFloat(values[0], 64); err != nil {
		return nil, fmt.Errorf("%s X invalid: %q", label, values[0])
	}
	if p.Y, err = strconv.ParseFloat(values[1], 64); err != nil {
		return nil, fmt.Errorf("%s Y invalid: %q", label, values[1])
	}
	if p.Z, err = strconv.ParseFloat(values[2], 64); err != nil {
		return nil, fmt.Errorf("%s Z invalid: %q", label, values[2])
	}
	if len(values) > 3 {
		a, err := strconv.ParseFloat(values[3], 64)
		if err != nil {
			return nil, fmt.Errorf("%s A invalid: %q", label, values[3])
		}
		p.A = &a
	}
	return p, nil
}

// BufferState reports available planner blocks and serial RX buffer bytes (the `Bf` field).
// The character-counting sender tracks its own window rather than trusting this value, but it
// is still surfaced for diagnostics.
type BufferState struct {
	AvailableBlocks int
	AvailableBytes  int
}

func parseBufferState(values []string) (*BufferState, error) {
	if len(values) != 2 {
		return nil, fmt.Errorf("buffer state field malformed: %v", values)
	}
	blocks, err := strconv.Atoi(values[0])
	if err != nil {
		return nil, fmt.Errorf("buffer state available blocks invalid: %q", values[0])
	}
	bytesAvail, err := strconv.Atoi(values[1])
	if err != nil {
		return nil, fmt.Errorf("buffer state available bytes invalid: %q", values[1])
	}
	return &BufferState{AvailableBlocks: blocks, AvailableBytes: bytesAvail}, nil
}

type PinState struct {
	XLimit, YLimit, ZLimit, ALimit bool
	Probe, Door, Hold              bool
	SoftReset, CycleStart          bool
}

func parsePinState(values []string) (*PinState, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("pin state field malformed: %v", values)
	}
	ps := &PinState{}
	for _, pin := range values[0] {
		switch pin {
		case 'X':
			ps.XLimit = true
		case 'Y':
			ps.YLimit = true
		case 'Z':
			ps.ZLimit = true
		case 'A':
			ps.ALimit = true
		case 'P':
			ps.Probe = true
		case 'D':
			ps.Door = true
		case 'H':
			ps.Hold = true
		case 'R':
			ps.SoftReset = true
		case 'S':
			ps.CycleStart = true
		default:
			return nil, fmt.Errorf("pin state unknown pin: %q", string(pin))
		}
	}
	return ps, nil
}

func (p *PinState) String() string {
	var buf bytes.Buffer
	write := func(on bool, c byte) {
		if on {
			buf.WriteByte(c)
		}
	}
	write(p.XLimit, 'X')
	write(p.YLimit, 'Y')
	write(p.ZLimit, 'Z')
	write(p.ALimit, 'A')
	write(p.Probe, 'P')
	write(p.Door, 'D')
	write(p.Hold, 'H')
	write(p.SoftReset, 'R')
	write(p.CycleStart, 'S')
	return buf.String()
}

type OverrideValues struct {
	Feed, Rapids, Spindle float64
}

func parseOverrideValues(values []string) (*OverrideValues, error) {
	if len(values) != 3 {
		return nil, fmt.Errorf("override values field malformed: %v", values)
	}
	var ov OverrideValues
	var err error
	if ov.Feed, err = strconv.ParseFloat(values[0], 64); err != nil {
		return nil, fmt.Errorf("override feed invalid: %q", values[0])
	}
	if ov.Rapids, err = strconv.ParseFloat(values[1], 64); err != nil {
		return nil, fmt.Errorf("override rapids invalid: %q", values[1])
	}
	if ov.Spindle, err = strconv.ParseFloat(values[2], 64); err != nil {
		return nil, fmt.Errorf("override spindle invalid: %q", values[2])
	}
	return &ov, nil
}

type AccessoryState struct {
	SpindleCW, SpindleCCW, FloodCoolant, MistCoolant bool
}

func parseAccessoryState(values []string) (*AccessoryState, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("accessory state field malformed: %v", values)
	}
	as := &AccessoryState{}
	for _, a := range values[0] {
		switch a {
		case 'S':
			as.SpindleCW = true
		case 'C':
			as.SpindleCCW = true
		case 'F':
			as.FloodCoolant = true
		case 'M':
			as.MistCoolant = true
		default:
			return nil, fmt.Errorf("accessory state unknown accessory: %q", string(a))
		}
	}
	return as, nil
}

// StatusReport is the decoded `<...>` status message.
type StatusReport struct {
	Raw                  string
	MachineState         MachineState
	MachinePosition      *Position
	WorkPosition         *Position
	WorkCoordinateOffset *Position
	BufferState          *BufferState
	LineNumber           *int
	Feed                 *float64
	FeedSpindle          *[2]float64
	PinState             *PinState
	OverrideValues       *OverrideValues
	AccessoryState       *AccessoryState
}

//gocyclo:ignore
func parseStatusReport(raw string) (*StatusReport, error) {
	if !strings.HasPrefix(raw, "<") || !strings.HasSuffix(raw, ">") {
		return nil, fmt.Errorf("status report malformed: %q", raw)
	}
	fields := strings.Split(raw[1:len(raw)-1], "|")
	if len(fields) < 1 {
		return nil, fmt.Errorf("status report missing fields: %q", raw)
	}
	machineState, err := parseMachineState(fields[0])
	if err != nil {
		return nil, fmt.Errorf("status report: %w", err)
	}
	sr := &StatusReport{Raw: raw, MachineState: *machineState}

	for _, field := range fields[1:] {
		parts := strings.SplitN(field, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("status report malformed field: %q", field)
		}
		values := strings.Split(parts[1], ",")
		switch parts[0] {
		case "MPos":
			if sr.MachinePosition, err = parsePosition("machine position", values); err != nil {
				return nil, err
			}
		case "WPos":
			if sr.WorkPosition, err = parsePosition("work position", values); err != nil {
				return nil, err
			}
		case "WCO":
			if sr.WorkCoordinateOffset, err = parsePosition("work coordinate offset", values); err != nil {
				return nil, err
			}
		case "Bf":
			if sr.BufferState, err = parseBufferState(values); err != nil {
				return nil, err
			}
		case "Ln":
			n, err := strconv.Atoi(values[0])
			if err != nil {
				return nil, fmt.Errorf("line number invalid: %q", values[0])
			}
			sr.LineNumber = &n
		case "F":
			f, err := strconv.ParseFloat(values[0], 64)
			if err != nil {
				return nil, fmt.Errorf("feed invalid: %q", values[0])
			}
			sr.Feed = &f
		case "FS":
			if len(values) != 2 {
				return nil, fmt.Errorf("feed/spindle field malformed: %v", values)
			}
			f, err := strconv.ParseFloat(values[0], 64)
			if err != nil {
				return nil, fmt.Errorf("feed invalid: %q", values[0])
			}
			s, err := strconv.ParseFloat(values[1], 64)
			if err != nil {
				return nil, fmt.Errorf("spindle speed invalid: %q", values[1])
			}
			fs := [2]float64{f, s}
			sr.FeedSpindle = &fs
		case "Pn":
			if sr.PinState, err = parsePinState(values); err != nil {
				return nil, err
			}
		case "Ov":
			if sr.OverrideValues, err = parseOverrideValues(values); err != nil {
				return nil, err
			}
		case "A":
			if sr.AccessoryState, err = parseAccessoryState(values); err != nil {
				return nil, err
			}
		}
	}
	return sr, nil
}
