package controller

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencnc/cncstream/internal/firmware/grblparser"
	"github.com/opencnc/cncstream/internal/protocol"
	"github.com/opencnc/cncstream/internal/serialport"
)

func testContext() context.Context {
	return log.WithLogger(context.Background(), slog.New(slog.DiscardHandler))
}

func newTestGrblController(t *testing.T) (*GrblController, *serialport.FakePort) {
	t.Helper()
	port := serialport.NewFakePort()
	registry := NewRegistry()
	c := NewGrblController(protocol.Options{Port: "/dev/fake"}, port, registry, nil, nil)
	require.NoError(t, c.Open(testContext()))
	t.Cleanup(func() { _ = c.Close() })
	return c, port
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", d)
}

// TestGrblControllerInitProbe covers the startup fingerprint: a "version" probe is written
// shortly after Open, and Grbl's reply flags the firmware accordingly.
func TestGrblControllerInitProbe(t *testing.T) {
	c, port := newTestGrblController(t)

	waitFor(t, time.Second, func() bool {
		return strings.Contains(port.WrittenString(), "version\n")
	})

	ch := c.AddConnection(protocol.ClientHandle("observer"))
	drainSnapshot(t, ch)

	// Grbl's startup banner is broadcast verbatim to subscribers once received.
	port.FeedLine("Grbl 1.1h ['$' for help]")
	evt := requireEvent(t, ch, protocol.EventSerialPortRead)
	assert.Equal(t, "Grbl 1.1h ['$' for help]", evt.Payload)
}

// TestGrblControllerLoadAndStart exercises load -> start -> ack. Both job lines fit in the
// character-counting window, so start writes them together; the "ok" then acknowledges the
// first one while the second is already on the wire.
func TestGrblControllerLoadAndStart(t *testing.T) {
	c, port := newTestGrblController(t)

	done := make(chan protocol.LoadResult, 1)
	c.Command(protocol.Command{
		Kind:     protocol.CommandLoad,
		Name:     "job",
		Gcode:    "G1 X10\nG1 Y20\n",
		Callback: func(r protocol.LoadResult) { done <- r },
	})
	result := <-done
	require.NoError(t, result.Err)

	c.Command(protocol.Command{Kind: protocol.CommandStart})

	waitFor(t, time.Second, func() bool {
		return strings.Contains(port.WrittenString(), "G1 X10\n")
	})

	port.FeedLine("ok")

	waitFor(t, time.Second, func() bool {
		return strings.Contains(port.WrittenString(), "G1 Y20\n")
	})
}

// TestGrblControllerStopSendsFeedHoldThenSoftReset: while the device reports active motion,
// Stop writes a feed hold immediately and a soft reset only after the hold delay.
func TestGrblControllerStopSendsFeedHoldThenSoftReset(t *testing.T) {
	c, port := newTestGrblController(t)

	port.FeedLine("<Run|MPos:1.000,2.000,3.000|FS:100,0>")
	waitFor(t, time.Second, func() bool {
		seen := make(chan bool, 1)
		if !c.runInLoop(func() { seen <- c.lastStatus != nil && c.lastStatus.MachineState.State == "Run" }) {
			return false
		}
		return <-seen
	})

	c.Command(protocol.Command{Kind: protocol.CommandStop})

	waitFor(t, time.Second, func() bool {
		return strings.Contains(port.WrittenString(), string(rune(grblparser.RealTimeCommandFeedHold)))
	})
	assert.NotContains(t, port.WrittenString(), string(rune(grblparser.RealTimeCommandSoftReset)),
		"soft reset must not be written before the hold delay elapses")

	waitFor(t, 500*time.Millisecond, func() bool {
		return strings.Contains(port.WrittenString(), string(rune(grblparser.RealTimeCommandSoftReset)))
	})
}

// TestGrblControllerBroadcastsAlarmToAllClients: an unsolicited ALARM isn't addressed to
// anyone's last-sent-command, so every subscribed client receives it.
func TestGrblControllerBroadcastsAlarmToAllClients(t *testing.T) {
	c, port := newTestGrblController(t)

	chA := c.AddConnection(protocol.ClientHandle("clientA"))
	chB := c.AddConnection(protocol.ClientHandle("clientB"))
	require.NotNil(t, chA)
	require.NotNil(t, chB)

	drainSnapshot(t, chA)
	drainSnapshot(t, chB)

	port.FeedLine("ALARM:1")

	evtA := requireEvent(t, chA, protocol.EventSerialPortRead)
	evtB := requireEvent(t, chB, protocol.EventSerialPortRead)
	assert.Equal(t, "ALARM:1", evtA.Payload)
	assert.Equal(t, "ALARM:1", evtB.Payload)
}

// TestGrblControllerRoutesParserStateToAsker: a client-issued "$G" query is correlated via
// last-sent-command and its reply routed only to that client, not broadcast.
func TestGrblControllerRoutesParserStateToAsker(t *testing.T) {
	c, port := newTestGrblController(t)

	chAsker := c.AddConnection(protocol.ClientHandle("asker"))
	chOther := c.AddConnection(protocol.ClientHandle("other"))
	require.NotNil(t, chAsker)
	require.NotNil(t, chOther)

	drainSnapshot(t, chAsker)
	drainSnapshot(t, chOther)

	c.Command(protocol.Command{Kind: protocol.CommandGcode, Client: protocol.ClientHandle("asker"), Line: "$G"})

	waitFor(t, time.Second, func() bool {
		return strings.Contains(port.WrittenString(), "$G\n")
	})

	gcState := "[GC:G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0]"
	port.FeedLine(gcState)
	port.FeedLine("ok")

	evt := requireEvent(t, chAsker, protocol.EventSerialPortRead)
	assert.Equal(t, gcState, evt.Payload)

	// The other client still sees the shared serialport:write broadcast, but the reply itself
	// must stay private to the asker.
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case evt := <-chOther:
			if evt.Name == protocol.EventSerialPortRead {
				t.Fatalf("reply delivered to non-asking client: %+v", evt)
			}
		case <-deadline:
			return
		}
	}
}

func TestGrblControllerCloseIsIdempotent(t *testing.T) {
	c, _ := newTestGrblController(t)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

// drainSnapshot consumes the connection-time burst (serialport:open, any state snapshot,
// sender:status) so tests can assert on the first event they themselves provoke.
func drainSnapshot(t *testing.T, ch <-chan OutboundEvent) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected initial connection snapshot, got nothing")
	}
	for {
		select {
		case <-ch:
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func requireEvent(t *testing.T, ch <-chan OutboundEvent, name string) OutboundEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Name == name {
				return evt
			}
		case <-deadline:
			t.Fatalf("event %q not received within deadline", name)
		}
	}
}
