package controller

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencnc/cncstream/internal/protocol"
	"github.com/opencnc/cncstream/internal/serialport"
)

func newTestTinyG2Controller(t *testing.T) (*TinyG2Controller, *serialport.FakePort) {
	t.Helper()
	port := serialport.NewFakePort()
	registry := NewRegistry()
	c := NewTinyG2Controller(TinyG2Options{Options: protocol.Options{Port: "/dev/fake"}}, port, registry, nil, nil)
	require.NoError(t, c.Open(testContext()))
	t.Cleanup(func() { _ = c.Close() })
	return c, port
}

// TestClassifySenderMode checks the sender-mode table, resolved via real G-code tokenization
// rather than naive substring matching: arc arguments take priority over axis words, and
// non-motion commands never reach the planner.
func TestClassifySenderMode(t *testing.T) {
	assert.Equal(t, senderModeRun, classifySenderMode("G1 X10 Y20"))
	assert.Equal(t, senderModeWait, classifySenderMode("G2 X10 Y10 I5 J0"))
	assert.Equal(t, senderModeNoQr, classifySenderMode("G4 P1"))
	assert.Equal(t, senderModeNoQr, classifySenderMode("M6 T2"))
}

// TestTinyG2ControllerLoadAndStartAdvancesOnQueueReport covers the planner-queue gating rule:
// a command's `r` acknowledgement alone doesn't advance the sender while the queue state is
// unknown, but a subsequent queue report above the low-water-mark does.
func TestTinyG2ControllerLoadAndStartAdvancesOnQueueReport(t *testing.T) {
	c, port := newTestTinyG2Controller(t)

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
		return strings.Contains(port.WrittenString(), "N1 G1 X10")
	})

	port.FeedLine(`{"r":{"n":1},"f":[1,0,0,0]}`)
	time.Sleep(20 * time.Millisecond)
	assert.NotContains(t, port.WrittenString(), "N2 G1 Y20",
		"a bare response must not advance the sender before the queue state is known")

	port.FeedLine(`{"qr":10,"qi":1,"qo":1}`)
	waitFor(t, time.Second, func() bool {
		return strings.Contains(port.WrittenString(), "N2 G1 Y20")
	})
}

// TestTinyG2ControllerDwellEmitsQueueReportProbe: a non-motion command is framed and
// immediately followed by a {"qr":null} probe so the device reports its planner state even
// though the dwell never enters the planner queue.
func TestTinyG2ControllerDwellEmitsQueueReportProbe(t *testing.T) {
	c, port := newTestTinyG2Controller(t)

	done := make(chan protocol.LoadResult, 1)
	c.Command(protocol.Command{
		Kind:     protocol.CommandLoad,
		Name:     "job",
		Gcode:    "G4 P1\n",
		Callback: func(r protocol.LoadResult) { done <- r },
	})
	require.NoError(t, (<-done).Err)

	c.Command(protocol.Command{Kind: protocol.CommandStart})

	waitFor(t, time.Second, func() bool {
		written := port.WrittenString()
		return strings.Contains(written, "N1 G4 P1\n"+`{"qr":null}`+"\n")
	})
}

// TestTinyG2ControllerStopWritesHoldThenDelayedClear: stop writes an immediate
// queue-flush/feed-hold pair, then a delayed clear once motion has settled.
func TestTinyG2ControllerStopWritesHoldThenDelayedClear(t *testing.T) {
	c, port := newTestTinyG2Controller(t)

	c.Command(protocol.Command{Kind: protocol.CommandStop})

	waitFor(t, time.Second, func() bool {
		return strings.Contains(port.WrittenString(), "!%\n")
	})
	assert.NotContains(t, port.WrittenString(), `{"clear":null}`,
		"clear must not be written before the stop-clear delay elapses")

	waitFor(t, time.Second, func() bool {
		return strings.Contains(port.WrittenString(), `{"clear":null}`)
	})
}
