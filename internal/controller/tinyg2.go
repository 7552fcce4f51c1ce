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
	"github.com/opencnc/cncstream/internal/firmware/tinyg2parser"
	"github.com/opencnc/cncstream/internal/gcode"
	"github.com/opencnc/cncstream/internal/protocol"
	"github.com/opencnc/cncstream/internal/sender"
	"github.com/opencnc/cncstream/internal/workerpool"
)

// DefaultLowWaterMark is a conservative fraction of g2core's default 28-slot planner buffer:
// low enough that a single qr reading above it reliably means room exists, high enough that the
// controller doesn't starve the planner waiting for reports. See DESIGN.md.
const DefaultLowWaterMark = 4

const (
	tinyG2StopClearDelay = 250 * time.Millisecond
)

// senderMode classifies how a line affects the device's planner queue: a
// cartesian move occupies exactly one planner entry (Run); an arc expands into several as the
// firmware interpolates it (Wait, until a qr confirms it has committed); a non-motion command
// like a dwell or tool change never reaches the planner at all (NoQr).
type senderMode int

const (
	senderModeRun senderMode = iota
	senderModeWait
	senderModeNoQr
)

type qrState int

const (
	qrStateUnknown qrState = iota
	qrStateOk
)

type plannerQueueStatus int

const (
	plannerQueueReady plannerQueueStatus = iota
	plannerQueueBlocked
)

type bufferState int

const (
	bufferStateIdle bufferState = iota
	bufferStateAck
)

// classifySenderMode resolves a line's sender mode via real G-code tokenization
// rather than naive substring matching: arc arguments I/J/K take
// priority over axis words, since an arc line like "G2 X10 Y10 I5 J0" carries both.
func classifySenderMode(line string) senderMode {
	parser := gcode.NewParser(strings.NewReader(line + "\n"))
	_, block, _, err := parser.Next()
	if err != nil || block == nil || !block.IsCommand() {
		return senderModeNoQr
	}
	for _, w := range block.Arguments() {
		switch w.Letter() {
		case 'I', 'J', 'K':
			return senderModeWait
		}
	}
	for _, w := range block.Arguments() {
		switch w.Letter() {
		case 'X', 'Y', 'Z':
			return senderModeRun
		}
	}
	return senderModeNoQr
}

// TinyG2Options configures a TinyG2Controller at construction time.
type TinyG2Options struct {
	protocol.Options
	// LowWaterMark is the free planner-buffer count (qr) that a queue report must exceed before
	// the next line advances. Zero means DefaultLowWaterMark.
	LowWaterMark int
}

// initStep is one line of TinyG2Controller's startup script.
type initStep struct {
	line       string
	pauseAfter time.Duration
}

// initScript is the ordered startup configuration sequence: enable JSON mode, set
// verbosities, configure the status report's fields and interval, request the reports the
// controller drives state from, then a final status query with a settling pause.
var initScript = []initStep{
	{line: `{"ej":1}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"jv":4}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"qv":2}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"sv":1}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"si":250}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"sr":{"line":true,"posx":true,"posy":true,"posz":true,"vel":true,"stat":true}}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"hp":null}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"fb":null}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"mt":null}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"qr":null}`, pauseAfter: 50 * time.Millisecond},
	{line: `{"sr":null}`, pauseAfter: 50 * time.Millisecond},
	{line: `?`, pauseAfter: 250 * time.Millisecond},
}

// TinyG2State is the broadcast payload of a TinyG2:state event.
type TinyG2State struct {
	Status             *tinyg2parser.StatusReport
	SenderMode         senderMode
	QRState            qrState
	PlannerQueueStatus plannerQueueStatus
	BufferState        bufferState
}

// TinyG2Controller owns the feeder, send/response sender, JSON parser, serial transport,
// connections and query timer for a g2core/TinyG2 device. GrblController's sibling: same
// event-loop shape, different wire codec and planner-queue-aware flow control.
type TinyG2Controller struct {
	options  TinyG2Options
	port     protocol.Port
	registry protocol.Registry
	macros   protocol.MacroLookup
	files    protocol.FileLoader

	parser *tinyg2parser.Parser
	feeder *feeder.Feeder
	sender sender.Sender
	mux    *ConnectionMux
	pool   *workerpool.Pool

	cmdCh      chan protocol.Command
	internalCh chan func()
	closedCh   chan struct{}
	closeOnce  sync.Once

	logger *slog.Logger

	// Mutated only from the event-loop goroutine, or from a thunk routed through runInLoop.
	workflow    protocol.WorkflowState
	ready       bool
	lineNum     int
	senderMode  senderMode
	qrState     qrState
	queueStatus plannerQueueStatus
	bufState    bufferState
	lastQR      int
	lastQI      int
	lastQO      int
	lastStatus  *tinyg2parser.StatusReport
	lastState   TinyG2State
}

func NewTinyG2Controller(options TinyG2Options, port protocol.Port, registry protocol.Registry, macros protocol.MacroLookup, files protocol.FileLoader) *TinyG2Controller {
	if options.BaudRate == 0 {
		options.BaudRate = protocol.DefaultBaudRate
	}
	if options.LowWaterMark == 0 {
		options.LowWaterMark = DefaultLowWaterMark
	}
	return &TinyG2Controller{
		options:  options,
		port:     port,
		registry: registry,
		macros:   macros,
		files:    files,
		parser:   tinyg2parser.NewParser(),
		feeder:   feeder.New(),
		sender:   sender.NewSendResponseSender(),
		mux:      NewConnectionMux(),
		pool:     workerpool.New(),

		cmdCh:      make(chan protocol.Command, 32),
		internalCh: make(chan func(), 8),
		closedCh:   make(chan struct{}),
	}
}

func (c *TinyG2Controller) Port() string { return c.options.Port }

// Open opens the serial port, registers the controller, starts its event loop, and runs the
// JSON configuration script before flagging the controller ready.
func (c *TinyG2Controller) Open(ctx context.Context) error {
	if err := c.port.Open(ctx); err != nil {
		return fmt.Errorf("controller: tinyg2: open %s: %w", c.options.Port, err)
	}

	_, logger := log.MustWithGroup(ctx, "TinyG2Controller")
	if previous, had := c.registry.Register(c.options.Port, c); had {
		logger.Warn("Port reopened without a prior clean close; new controller supersedes it",
			"port", c.options.Port, "previousPort", previous.Port())
	}

	c.pool.Add("EventLoop", c.loop)
	c.pool.Start(ctx)

	go c.runInitScript()

	return nil
}

func (c *TinyG2Controller) runInitScript() {
	for _, step := range initScript {
		line := step.line
		if !c.runInLoop(func() { c.writeLine(line) }) {
			return
		}
		if !c.sleep(step.pauseAfter) {
			return
		}
	}
	c.runInLoop(func() { c.ready = true })
}

func (c *TinyG2Controller) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.closedCh:
		return false
	}
}

func (c *TinyG2Controller) runInLoop(fn func()) bool {
	select {
	case c.internalCh <- fn:
		return true
	case <-c.closedCh:
		return false
	}
}

func (c *TinyG2Controller) delayedWrite(d time.Duration, fn func()) {
	go func() {
		if c.sleep(d) {
			c.runInLoop(fn)
		}
	}()
}

func (c *TinyG2Controller) Command(cmd protocol.Command) {
	select {
	case c.cmdCh <- cmd:
	case <-c.closedCh:
		if cmd.Callback != nil {
			cmd.Callback(protocol.LoadResult{Err: fmt.Errorf("controller: tinyg2: %s: controller closed", c.options.Port)})
		}
	}
}

func (c *TinyG2Controller) AddConnection(client protocol.ClientHandle) <-chan OutboundEvent {
	resultCh := make(chan (<-chan OutboundEvent), 1)
	ok := c.runInLoop(func() {
		ch := c.mux.Add(client, connectionBufferSize)
		c.mux.SendTo(client, protocol.EventSerialPortOpen, c.options.Port)
		if c.lastStatus != nil {
			c.mux.SendTo(client, protocol.EventTinyG2State, c.lastState)
		}
		c.mux.SendTo(client, protocol.EventSenderStatus, c.sender.Status())
		resultCh <- ch
	})
	if !ok {
		return nil
	}
	return <-resultCh
}

func (c *TinyG2Controller) RemoveConnection(client protocol.ClientHandle) {
	c.runInLoop(func() { c.mux.Remove(client) })
}

func (c *TinyG2Controller) Close() error {
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

func (c *TinyG2Controller) loop(ctx context.Context) error {
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
			c.handlePortEvent(evt)
		case cmd := <-c.cmdCh:
			c.handleCommand(ctx, cmd)
		case fn := <-c.internalCh:
			fn()
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *TinyG2Controller) handlePortEvent(evt protocol.PortEvent) {
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

func (c *TinyG2Controller) handleLine(line string) {
	evt := c.parser.Feed(line)

	switch evt.Kind {
	case tinyg2parser.EventResponse:
		c.handleResponse(evt)
	case tinyg2parser.EventQueueReport:
		c.handleQueueReport(evt)
	case tinyg2parser.EventStatusReport:
		c.lastStatus = evt.StatusReport
		c.handleStatusAdvance(evt.StatusReport)
		c.mux.RouteByPrefix("?", protocol.EventSerialPortRead, evt.Raw)
	default:
		c.mux.Broadcast(protocol.EventSerialPortRead, evt.Raw)
	}
}

// handleResponse applies the ack-gating rule for the `r` envelope.
func (c *TinyG2Controller) handleResponse(evt tinyg2parser.Event) {
	if evt.Footer != nil && evt.Footer.StatusCode != 0 && c.workflow != protocol.Idle {
		c.handleError(evt.Footer.StatusCode)
		return
	}

	if c.workflow != protocol.Running {
		c.feederNext()
		return
	}
	if c.senderMode == senderModeWait {
		return
	}
	c.bufState = bufferStateAck
	if c.queueStatus == plannerQueueReady && c.qrState == qrStateOk {
		c.advance()
		c.qrState = qrStateUnknown
	}
}

func (c *TinyG2Controller) handleError(statusCode int) {
	line, _ := c.sender.OldestInFlight()
	wasBlocked := c.queueStatus == plannerQueueBlocked
	c.mux.Broadcast(protocol.EventSerialPortRead,
		fmt.Sprintf("> %s\nerror=%d, line=%d", line, statusCode, c.sender.Status().Received+1))
	c.sender.Ack()
	if !wasBlocked {
		c.feederNext()
	}
}

// handleQueueReport applies the planner-queue gating rule for the `qr` envelope.
func (c *TinyG2Controller) handleQueueReport(evt tinyg2parser.Event) {
	qr := evt.QueueReport
	c.lastQR, c.lastQI, c.lastQO = qr.QR, qr.QI, qr.QO

	c.qrState = qrStateOk
	c.queueStatus = plannerQueueBlocked

	if c.senderMode == senderModeWait && (qr.QI == 0 || qr.QO > qr.QI) {
		c.senderMode = senderModeRun
	}

	if qr.QR > c.options.LowWaterMark && c.bufState == bufferStateAck {
		if c.workflow == protocol.Running && c.senderMode == senderModeRun {
			c.advance()
		} else {
			c.feederNext()
		}
		c.queueStatus = plannerQueueReady
	}
}

// handleStatusAdvance is the belt-and-braces advance path: some firmware builds
// elide the `r` acknowledgement entirely, so a status report carrying a line number at or
// behind the last line sent can stand in for it.
func (c *TinyG2Controller) handleStatusAdvance(sr *tinyg2parser.StatusReport) {
	if sr == nil || sr.LineNumber == nil {
		return
	}
	if *sr.LineNumber > c.lineNum {
		return
	}
	if c.workflow == protocol.Running && c.queueStatus == plannerQueueReady && c.qrState == qrStateOk {
		c.advance()
		c.qrState = qrStateUnknown
	}
}

// advance acks the sender's in-flight line and, if another line follows, emits it framed with
// the next line number and classifies its sender mode for the gating logic above.
func (c *TinyG2Controller) advance() {
	c.sender.Ack()
	c.emitSenderLines(c.sender.Next())
}

func (c *TinyG2Controller) feederNext() {
	item, ok := c.feeder.Next()
	if !ok {
		return
	}
	if item.Line == "" {
		c.feederNext()
		return
	}
	c.mux.SetLastSentCommand(item.Client, item.Line)
	c.mux.Broadcast(protocol.EventSerialPortWrite, item.Line+"\n")
	c.writeFramed(item.Line, true)
}

func (c *TinyG2Controller) emitSenderLines(lines []string) {
	for _, line := range lines {
		c.senderMode = classifySenderMode(line)
		c.writeFramed(line, false)
		if c.senderMode == senderModeNoQr {
			c.writeLine(`{"qr":null}`)
		}
	}
}

// writeFramed emits line with an incremented `N<k> ` prefix, wrapping ad-hoc feeder lines (as
// opposed to job lines already owned by the sender) in a `{"gc":"..."}` envelope.
func (c *TinyG2Controller) writeFramed(line string, fromFeeder bool) {
	c.lineNum++
	if fromFeeder {
		c.writeLine(fmt.Sprintf(`{"gc":"N%d %s"}`, c.lineNum, line))
		return
	}
	c.writeLine(fmt.Sprintf("N%d %s", c.lineNum, line))
}

func (c *TinyG2Controller) tick() {
	if !c.port.IsOpen() || !c.ready {
		return
	}

	if c.feeder.Peek() {
		c.mux.Broadcast(protocol.EventFeederStatus, c.feeder.Status())
	}
	if c.sender.Peek() {
		c.mux.Broadcast(protocol.EventSenderStatus, c.sender.Status())
	}

	state := TinyG2State{
		Status:             c.lastStatus,
		SenderMode:         c.senderMode,
		QRState:            c.qrState,
		PlannerQueueStatus: c.queueStatus,
		BufferState:        c.bufState,
	}
	if !reflect.DeepEqual(state, c.lastState) {
		c.lastState = state
		c.mux.Broadcast(protocol.EventTinyG2State, state)
	}
}

//gocyclo:ignore
func (c *TinyG2Controller) handleCommand(ctx context.Context, cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.CommandLoad:
		c.doLoad(cmd.Name, cmd.Gcode, cmd.Callback)
	case protocol.CommandUnload:
		c.workflow = protocol.Idle
		c.sender.Unload()
	case protocol.CommandStart:
		c.feeder.Clear()
		c.lineNum = 0
		c.workflow = protocol.Running
		c.emitSenderLines(c.sender.Next())
	case protocol.CommandStop:
		c.workflow = protocol.Idle
		c.sender.Rewind()
		c.writeLine("!%")
		c.delayedWrite(tinyG2StopClearDelay, func() {
			c.writeLine(`{"clear":null}`)
			c.writeLine(`{"qr":""}`)
		})
	case protocol.CommandPause:
		if c.workflow == protocol.Running {
			c.workflow = protocol.Paused
		}
		c.writeLine("!")
		c.writeLine(`{"qr":""}`)
	case protocol.CommandResume:
		c.writeLine("~")
		c.writeLine(`{"qr":""}`)
		if c.workflow == protocol.Paused {
			c.workflow = protocol.Running
			c.emitSenderLines(c.sender.Next())
		} else {
			c.feederNext()
		}
	case protocol.CommandQueueFlush:
		c.writeLine("!%")
		c.writeLine(`{"qr":""}`)
	case protocol.CommandKillJob:
		c.writeRealtime(0x04)
	case protocol.CommandReset:
		if c.workflow != protocol.Idle {
			c.workflow = protocol.Idle
			c.sender.Rewind()
		}
		c.writeRealtime(0x18)
	case protocol.CommandUnlock:
		c.writeLine(`{"clear":null}`)
	case protocol.CommandHoming:
		c.writeLine(`{"home":1}`)
	case protocol.CommandCheck:
		// TinyG2 has no equivalent of Grbl's check mode.
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

func (c *TinyG2Controller) doLoad(name, gcode string, cb func(protocol.LoadResult)) {
	c.workflow = protocol.Idle
	if !c.sender.Load(name, gcode) {
		if cb != nil {
			cb(protocol.LoadResult{Err: fmt.Errorf("controller: tinyg2: load %q: empty or invalid gcode", name)})
		}
		return
	}
	if cb != nil {
		cb(protocol.LoadResult{Name: name, Gcode: gcode})
	}
}

func (c *TinyG2Controller) doLoadMacro(ctx context.Context, id string, cb func(protocol.LoadResult)) {
	if c.macros == nil {
		if cb != nil {
			cb(protocol.LoadResult{Err: fmt.Errorf("controller: tinyg2: loadmacro %q: no macro store configured", id)})
		}
		return
	}
	go func() {
		name, gcode, err := c.macros.LoadMacro(ctx, id)
		c.runInLoop(func() {
			if err != nil {
				if cb != nil {
					cb(protocol.LoadResult{Err: fmt.Errorf("controller: tinyg2: loadmacro %q: %w", id, err)})
				}
				return
			}
			c.doLoad(name, gcode, cb)
		})
	}()
}

func (c *TinyG2Controller) doLoadFile(ctx context.Context, path string, cb func(protocol.LoadResult)) {
	if c.files == nil {
		if cb != nil {
			cb(protocol.LoadResult{Err: fmt.Errorf("controller: tinyg2: loadfile %q: no file reader configured", path)})
		}
		return
	}
	go func() {
		name, gcode, err := c.files.LoadFile(ctx, path)
		c.runInLoop(func() {
			if err != nil {
				if cb != nil {
					cb(protocol.LoadResult{Err: fmt.Errorf("controller: tinyg2: loadfile %q: %w", path, err)})
				}
				return
			}
			c.doLoad(name, gcode, cb)
		})
	}()
}

func (c *TinyG2Controller) writeLine(line string) {
	if _, err := c.port.Write([]byte(line + "\n")); err != nil {
		c.logger.Error("Write failed", "err", err, "line", line)
	}
}

func (c *TinyG2Controller) writeRealtime(b byte) {
	if _, err := c.port.Write([]byte{b, '\n'}); err != nil {
		c.logger.Error("Write failed", "err", err, "byte", b)
	}
}
