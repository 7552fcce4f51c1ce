package controller

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fornellas/slogxt/log"

	"github.com/opencnc/cncstream/internal/feeder"
	"github.com/opencnc/cncstream/internal/firmware/grblparser"
	"github.com/opencnc/cncstream/internal/protocol"
	"github.com/opencnc/cncstream/internal/sender"
	"github.com/opencnc/cncstream/internal/workerpool"
)

// GrblBufferSize is the character-counting window used for Grbl-family controllers. Grbl
// advertises a 127-byte receive buffer; 120 leaves headroom for the two out-of-band realtime
// queries (`?` and `$G\n`) the query timer interleaves with job lines.
const GrblBufferSize = 120

const (
	grblQueryInterval          = 250 * time.Millisecond
	grblParserStateMinInterval = 500 * time.Millisecond
	grblStopHoldDelay          = 50 * time.Millisecond
	grblInitFirstDelay         = 500 * time.Millisecond
	grblInitProbeDelay         = 50 * time.Millisecond
	connectionBufferSize       = 64
)

// GrblState is the broadcast payload of a Grbl:state event: everything a client needs to
// render the device's current identity and machine/parser state.
type GrblState struct {
	Firmware    protocol.FirmwareTag
	Status      *grblparser.StatusReport
	ParserState string
}

// GrblController owns the feeder, sender, parser, serial transport, connections and query timer
// for a Grbl-family device (Grbl itself, or its Smoothieware variant): a single serial
// connection, a response/push message split, and a startup fingerprint probe, driven as a
// tagged-event/tagged-command state machine.
type GrblController struct {
	options  protocol.Options
	port     protocol.Port
	registry protocol.Registry
	macros   protocol.MacroLookup
	files    protocol.FileLoader

	grblParser *grblparser.Parser
	feeder     *feeder.Feeder
	sender     sender.Sender
	mux        *ConnectionMux
	pool       *workerpool.Pool

	cmdCh      chan protocol.Command
	internalCh chan func()
	closedCh   chan struct{}
	closeOnce  sync.Once

	logger *slog.Logger

	// Everything below is mutated only from the event-loop goroutine (loop), or from a thunk
	// submitted to internalCh and executed by it.
	workflow               protocol.WorkflowState
	firmware               protocol.FirmwareTag
	ready                  bool
	statusInFlight         bool
	parserStateInFlight    bool
	parserStateAwaitingOk  bool
	lastParserStateQuery   time.Time
	pendingParserStateText string
	lastStatus             *grblparser.StatusReport
	lastParserStateText    string
	lastGrblState          GrblState
}

// NewGrblController constructs a controller for a not-yet-open port. macros and files may be
// nil; loadmacro/loadfile commands then fail via their callback.
func NewGrblController(options protocol.Options, port protocol.Port, registry protocol.Registry, macros protocol.MacroLookup, files protocol.FileLoader) *GrblController {
	if options.BaudRate == 0 {
		options.BaudRate = protocol.DefaultBaudRate
	}
	return &GrblController{
		options:    options,
		port:       port,
		registry:   registry,
		macros:     macros,
		files:      files,
		grblParser: grblparser.NewParser(),
		feeder:     feeder.New(),
		sender:     sender.NewCharCountSender(GrblBufferSize),
		mux:        NewConnectionMux(),
		pool:       workerpool.New(),
		cmdCh:      make(chan protocol.Command, 32),
		internalCh: make(chan func(), 8),
		closedCh:   make(chan struct{}),
	}
}

func (c *GrblController) Port() string { return c.options.Port }

// Open opens the serial port, registers the controller, and starts its event loop and startup
// fingerprint probe. A port previously registered without a clean close is superseded, with the
// anomaly logged.
func (c *GrblController) Open(ctx context.Context) error {
	ctx, logger := log.MustWithGroup(ctx, "GrblController")

	if err := c.port.Open(ctx); err != nil {
		return fmt.Errorf("controller: grbl: open %s: %w", c.options.Port, err)
	}

	if previous, had := c.registry.Register(c.options.Port, c); had {
		logger.Warn("Port reopened without a prior clean close; new controller supersedes it",
			"port", c.options.Port, "previousPort", previous.Port())
	}

	c.pool.Add("EventLoop", c.loop)
	c.pool.Start(ctx)

	go c.runInitProbe()

	return nil
}

// runInitProbe is the startup fingerprint sequence: pause, write `version`, pause,
// then flag the controller ready. Smoothieware answers `version` with a parseable line that
// sets the firmware tag to Smoothie; Grbl silently ignores it.
func (c *GrblController) runInitProbe() {
	if !c.sleep(grblInitFirstDelay) {
		return
	}
	if !c.runInLoop(func() { c.writeLine("version") }) {
		return
	}
	if !c.sleep(grblInitProbeDelay) {
		return
	}
	c.runInLoop(func() { c.ready = true })
}

func (c *GrblController) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.closedCh:
		return false
	}
}

// runInLoop submits fn to the event-loop goroutine and reports whether it was accepted; it is
// never accepted once the controller has closed. Used by goroutines outside the loop (the init
// probe, delayed stop writes, macro/file lookups) to rejoin the single mutator of controller
// state without introducing locks on that state.
func (c *GrblController) runInLoop(fn func()) bool {
	select {
	case c.internalCh <- fn:
		return true
	case <-c.closedCh:
		return false
	}
}

func (c *GrblController) delayedWrite(d time.Duration, fn func()) {
	go func() {
		if c.sleep(d) {
			c.runInLoop(fn)
		}
	}()
}

// Command submits cmd for the event loop to act on. Never blocks on the loop itself; if the
// controller has already closed, a load-family command's callback is invoked with an error
// instead of being silently dropped.
func (c *GrblController) Command(cmd protocol.Command) {
	select {
	case c.cmdCh <- cmd:
	case <-c.closedCh:
		if cmd.Callback != nil {
			cmd.Callback(protocol.LoadResult{Err: fmt.Errorf("controller: grbl: %s: controller closed", c.options.Port)})
		}
	}
}

// AddConnection subscribes client and immediately pushes it serialport:open, a Grbl:state
// snapshot if the controller already has known state, and a sender:status snapshot.
func (c *GrblController) AddConnection(client protocol.ClientHandle) <-chan OutboundEvent {
	resultCh := make(chan (<-chan OutboundEvent), 1)
	ok := c.runInLoop(func() {
		ch := c.mux.Add(client, connectionBufferSize)
		c.mux.SendTo(client, protocol.EventSerialPortOpen, c.options.Port)
		if c.lastStatus != nil || c.lastParserStateText != "" {
			c.mux.SendTo(client, protocol.EventGrblState, c.lastGrblState)
		}
		c.mux.SendTo(client, protocol.EventSenderStatus, c.sender.Status())
		resultCh <- ch
	})
	if !ok {
		return nil
	}
	return <-resultCh
}

func (c *GrblController) RemoveConnection(client protocol.ClientHandle) {
	c.runInLoop(func() { c.mux.Remove(client) })
}

// Close tears down the controller: cancels the query timer and event loop, unregisters from the
// process-wide map, broadcasts serialport:close, and closes the transport. A second call is a
// no-op.
func (c *GrblController) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.registry.Unregister(c.options.Port)
		c.pool.Cancel()
		c.pool.Wait()
		c.mux.Broadcast(protocol.EventSerialPortClose, nil)
		closeErr = c.port.Close()
		c.mux.Close()
	})
	return closeErr
}

//gocyclo:ignore
func (c *GrblController) loop(ctx context.Context) error {
	ctx, logger := log.MustWithGroup(ctx, "Loop")
	c.logger = logger
	defer close(c.closedCh)

	ticker := time.NewTicker(grblQueryInterval)
	defer ticker.Stop()

	portEvents := c.port.Events()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-portEvents:
			if !ok {
				return nil
			}
			c.handlePortEvent(ctx, evt)
		case cmd := <-c.cmdCh:
			c.handleCommand(ctx, cmd)
		case fn := <-c.internalCh:
			fn()
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *GrblController) handlePortEvent(ctx context.Context, evt protocol.PortEvent) {
	switch evt.Kind {
	case protocol.PortEventData:
		c.handleLine(evt.Line)
	case protocol.PortEventError:
		c.logger.Error("Serial port error", "err", evt.Err)
		c.mux.Broadcast(protocol.EventSerialPortError, evt.Err.Error())
		go c.Close()
	case protocol.PortEventDisconnect:
		c.logger.Info("Serial port disconnected")
		go c.Close()
	}
}

//gocyclo:ignore
func (c *GrblController) handleLine(line string) {
	evt := c.grblParser.Feed(line)

	switch evt.Kind {
	case grblparser.EventOk:
		c.handleOk(evt)
	case grblparser.EventError:
		c.handleError(evt)
	case grblparser.EventStatus:
		c.statusInFlight = false
		c.lastStatus = evt.Status
		if evt.Status.MachinePosition != nil {
			c.logger.Debug("Machine position", "state", evt.Status.MachineState.State, "mpos", evt.Status.MachinePosition.String())
		}
		c.mux.RouteByPrefix("?", protocol.EventSerialPortRead, evt.Raw)
	case grblparser.EventParserState:
		c.parserStateInFlight = false
		c.parserStateAwaitingOk = true
		c.pendingParserStateText = evt.Raw
		c.lastParserStateText = evt.Text
	case grblparser.EventStartup:
		if strings.HasPrefix(evt.Raw, "Grbl") {
			c.statusInFlight = false
			c.parserStateInFlight = false
			c.parserStateAwaitingOk = false
			c.firmware = protocol.Grbl
		} else {
			c.firmware = protocol.Smoothie
		}
		c.mux.Broadcast(protocol.EventSerialPortRead, evt.Raw)
	default:
		c.mux.Broadcast(protocol.EventSerialPortRead, evt.Raw)
	}
}

func (c *GrblController) handleOk(evt grblparser.Event) {
	if c.parserStateAwaitingOk {
		c.parserStateAwaitingOk = false
		c.mux.RouteByPrefix("$G", protocol.EventSerialPortRead, c.pendingParserStateText)
		return
	}
	if c.workflow == protocol.Running {
		c.sender.Ack()
		c.emitSenderLines(c.sender.Next())
		return
	}
	c.mux.Broadcast(protocol.EventSerialPortRead, evt.Raw)
	c.feederNext()
}

func (c *GrblController) handleError(evt grblparser.Event) {
	if c.workflow == protocol.Running {
		line, _ := c.sender.OldestInFlight()
		c.mux.Broadcast(protocol.EventSerialPortRead,
			fmt.Sprintf("> %s\nerror=%s, line=%d", line, evt.ErrorMessage, c.sender.Status().Received+1))
		c.sender.Ack()
		c.emitSenderLines(c.sender.Next())
		return
	}
	c.mux.Broadcast(protocol.EventSerialPortRead, evt.Raw)
	c.feederNext()
}

func (c *GrblController) feederNext() {
	item, ok := c.feeder.Next()
	if !ok {
		return
	}
	c.emitFeederItem(item)
}

func (c *GrblController) emitFeederItem(item feeder.Item) {
	if item.Line == "" {
		c.feederNext()
		return
	}
	if len(item.Line) == 1 {
		if rt, err := grblparser.NewRealTimeCommand(item.Line[0]); err == nil {
			c.mux.SetLastSentCommand(item.Client, item.Line)
			c.mux.Broadcast(protocol.EventSerialPortWrite, item.Line)
			c.writeRealtime(byte(rt))
			return
		}
	}
	c.mux.SetLastSentCommand(item.Client, item.Line+"\n")
	c.mux.Broadcast(protocol.EventSerialPortWrite, item.Line+"\n")
	c.writeLine(item.Line)
}

func (c *GrblController) emitSenderLines(lines []string) {
	for _, line := range lines {
		c.writeLine(line)
	}
}

func (c *GrblController) tick() {
	if !c.port.IsOpen() || !c.ready {
		return
	}

	if !c.statusInFlight {
		c.statusInFlight = true
		c.writeRealtime(byte(grblparser.RealTimeCommandStatusReportQuery))
	}

	if !c.parserStateInFlight && !c.parserStateAwaitingOk &&
		time.Since(c.lastParserStateQuery) >= grblParserStateMinInterval {
		c.parserStateInFlight = true
		c.lastParserStateQuery = time.Now()
		c.writeLine("$G")
	}

	if c.feeder.Peek() {
		c.mux.Broadcast(protocol.EventFeederStatus, c.feeder.Status())
	}
	if c.sender.Peek() {
		c.mux.Broadcast(protocol.EventSenderStatus, c.sender.Status())
	}

	state := GrblState{Firmware: c.firmware, Status: c.lastStatus, ParserState: c.lastParserStateText}
	if !reflect.DeepEqual(state, c.lastGrblState) {
		c.lastGrblState = state
		c.mux.Broadcast(protocol.EventGrblState, state)
	}
}

//gocyclo:ignore
func (c *GrblController) handleCommand(ctx context.Context, cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.CommandLoad:
		c.doLoad(cmd.Name, cmd.Gcode, cmd.Callback)
	case protocol.CommandUnload:
		c.workflow = protocol.Idle
		c.sender.Unload()
	case protocol.CommandStart:
		c.feeder.Clear()
		c.workflow = protocol.Running
		c.sender.Rewind()
		c.emitSenderLines(c.sender.Next())
	case protocol.CommandStop:
		c.workflow = protocol.Idle
		c.sender.Rewind()
		c.doStop()
	case protocol.CommandPause:
		if c.workflow == protocol.Running {
			c.workflow = protocol.Paused
		}
		c.writeRealtime(byte(grblparser.RealTimeCommandFeedHold))
	case protocol.CommandResume:
		c.writeRealtime(byte(grblparser.RealTimeCommandCycleStartResume))
		if c.workflow == protocol.Paused {
			c.workflow = protocol.Running
			c.emitSenderLines(c.sender.Next())
		}
	case protocol.CommandReset:
		if c.workflow != protocol.Idle {
			c.workflow = protocol.Idle
			c.sender.Rewind()
		}
		c.writeRealtime(byte(grblparser.RealTimeCommandSoftReset))
	case protocol.CommandUnlock:
		c.writeLine("$X")
	case protocol.CommandHoming:
		c.writeLine("$H")
	case protocol.CommandCheck:
		c.writeLine("$C")
	case protocol.CommandGcode:
		c.feeder.Feed(feeder.Item{Client: cmd.Client, Line: cmd.Line})
		if !c.feeder.IsPending() {
			c.feederNext()
		}
	case protocol.CommandLoadMacro:
		c.doLoadMacro(ctx, cmd.MacroID, cmd.Callback)
	case protocol.CommandLoadFile:
		c.doLoadFile(ctx, cmd.Path, cmd.Callback)
	default:
		c.logger.Error("Unknown command", "kind", cmd.Kind)
	}
}

func (c *GrblController) doLoad(name, gcode string, cb func(protocol.LoadResult)) {
	c.workflow = protocol.Idle
	if !c.sender.Load(name, gcode) {
		if cb != nil {
			cb(protocol.LoadResult{Err: fmt.Errorf("controller: grbl: load %q: empty or invalid gcode", name)})
		}
		return
	}
	if cb != nil {
		cb(protocol.LoadResult{Name: name, Gcode: gcode})
	}
}

func (c *GrblController) doLoadMacro(ctx context.Context, id string, cb func(protocol.LoadResult)) {
	if c.macros == nil {
		if cb != nil {
			cb(protocol.LoadResult{Err: fmt.Errorf("controller: grbl: loadmacro %q: no macro store configured", id)})
		}
		return
	}
	go func() {
		name, gcode, err := c.macros.LoadMacro(ctx, id)
		c.runInLoop(func() {
			if err != nil {
				if cb != nil {
					cb(protocol.LoadResult{Err: fmt.Errorf("controller: grbl: loadmacro %q: %w", id, err)})
				}
				return
			}
			c.doLoad(name, gcode, cb)
		})
	}()
}

func (c *GrblController) doLoadFile(ctx context.Context, path string, cb func(protocol.LoadResult)) {
	if c.files == nil {
		if cb != nil {
			cb(protocol.LoadResult{Err: fmt.Errorf("controller: grbl: loadfile %q: no file reader configured", path)})
		}
		return
	}
	go func() {
		name, gcode, err := c.files.LoadFile(ctx, path)
		c.runInLoop(func() {
			if err != nil {
				if cb != nil {
					cb(protocol.LoadResult{Err: fmt.Errorf("controller: grbl: loadfile %q: %w", path, err)})
				}
				return
			}
			c.doLoad(name, gcode, cb)
		})
	}()
}

// doStop is the stop sequence: feed-hold (or, on Smoothie, resume out of
// Hold) while motion is active, then a soft reset 50ms later; otherwise reset immediately.
func (c *GrblController) doStop() {
	if c.activeMotion() {
		if c.firmware == protocol.Smoothie {
			c.writeRealtime(byte(grblparser.RealTimeCommandCycleStartResume))
		} else {
			c.writeRealtime(byte(grblparser.RealTimeCommandFeedHold))
		}
		c.delayedWrite(grblStopHoldDelay, func() { c.writeRealtime(byte(grblparser.RealTimeCommandSoftReset)) })
		return
	}
	c.writeRealtime(byte(grblparser.RealTimeCommandSoftReset))
}

func (c *GrblController) activeMotion() bool {
	if c.lastStatus == nil {
		return false
	}
	if c.firmware == protocol.Smoothie {
		return c.lastStatus.MachineState.State == "Hold"
	}
	return c.lastStatus.MachineState.State == "Run"
}

func (c *GrblController) writeLine(line string) {
	if _, err := c.port.Write([]byte(line + "\n")); err != nil {
		c.logger.Error("Write failed", "err", err, "line", line)
	}
}

func (c *GrblController) writeRealtime(b byte) {
	if _, err := c.port.Write([]byte{b}); err != nil {
		c.logger.Error("Write failed", "err", err, "byte", b)
	}
}
