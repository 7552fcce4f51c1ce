// Package protocol holds the types shared by every controller implementation:
// workflow state, firmware tags, connection options, the serial transport
// interface, the tagged command/event unions, and the process-wide registry
// contract. Firmware-specific wire decoding lives in internal/firmware/*.
package protocol

import "context"

// WorkflowState is the controller's job-level state, distinct from the device's own
// motion/active state as reported in a status message.
type WorkflowState int

const (
	Idle WorkflowState = iota
	Running
	Paused
)

func (s WorkflowState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// FirmwareTag identifies which firmware family a controller has detected or assumed.
type FirmwareTag int

const (
	Grbl FirmwareTag = iota
	Smoothie
	TinyG2
)

func (t FirmwareTag) String() string {
	switch t {
	case Grbl:
		return "Grbl"
	case Smoothie:
		return "Smoothie"
	case TinyG2:
		return "TinyG2"
	default:
		return "Unknown"
	}
}

// Options configures a controller at construction time. Immutable afterwards.
type Options struct {
	Port     string
	BaudRate int
}

// DefaultBaudRate is used whenever Options.BaudRate is left at zero.
const DefaultBaudRate = 115200

// ClientHandle identifies a connected client for echo correlation; opaque to the core.
type ClientHandle string

// Port is the serial transport the core depends on, implemented by internal/serialport.
type Port interface {
	Open(ctx context.Context) error
	Close() error
	Write(p []byte) (int, error)
	IsOpen() bool
	// Events delivers framed input lines, disconnects, and I/O errors until Close.
	Events() <-chan PortEvent
}

type PortEventKind int

const (
	PortEventData PortEventKind = iota
	PortEventDisconnect
	PortEventError
)

type PortEvent struct {
	Kind PortEventKind
	Line string
	Err  error
}

// Controller is the minimal surface the process-wide registry needs.
type Controller interface {
	Close() error
	Port() string
}

// MacroLookup resolves a configured macro id to a name and G-code blob.
type MacroLookup interface {
	LoadMacro(ctx context.Context, id string) (name string, gcode string, err error)
}

// FileLoader reads a G-code file from wherever it's stored.
type FileLoader interface {
	LoadFile(ctx context.Context, path string) (name string, gcode string, err error)
}

// Client-facing event names, published on a connection as it subscribes and as the controller
// reacts to device output.
const (
	EventSerialPortOpen  = "serialport:open"
	EventSerialPortClose = "serialport:close"
	EventSerialPortError = "serialport:error"
	EventSerialPortRead  = "serialport:read"
	EventSerialPortWrite = "serialport:write"
	EventFeederStatus    = "feeder:status"
	EventSenderStatus    = "sender:status"
	EventGrblState       = "Grbl:state"
	EventTinyG2State     = "TinyG2:state"
)

// Registry is the process-wide map of port -> controller instance, passed into whatever wires
// controllers together rather than held as an ambient global.
type Registry interface {
	Register(port string, c Controller) (previous Controller, hadPrevious bool)
	Unregister(port string)
	Get(port string) (Controller, bool)
	List() []Controller
}
