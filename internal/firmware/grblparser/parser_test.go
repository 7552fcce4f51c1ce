package grblparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedOk(t *testing.T) {
	p := NewParser()
	ev := p.Feed("ok")
	assert.Equal(t, EventOk, ev.Kind)
}

func TestFeedError(t *testing.T) {
	p := NewParser()
	ev := p.Feed("error:9")
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, 9, ev.ErrorCode)
	assert.Equal(t, "G-code lock", ev.ErrorMessage)
}

func TestFeedUnknownError(t *testing.T) {
	p := NewParser()
	ev := p.Feed("error:999")
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, 999, ev.ErrorCode)
	assert.Contains(t, ev.ErrorMessage, "unknown error code")
}

func TestFeedAlarm(t *testing.T) {
	p := NewParser()
	ev := p.Feed("ALARM:1")
	assert.Equal(t, EventAlarm, ev.Kind)
	assert.Equal(t, 1, ev.AlarmCode)
	assert.Equal(t, "Hard limit triggered", ev.AlarmMessage)
}

func TestFeedStatusReport(t *testing.T) {
	p := NewParser()
	ev := p.Feed("<Idle|MPos:0.000,0.000,0.000|FS:0,0|Pn:XY|Ov:100,100,100>")
	require.Equal(t, EventStatus, ev.Kind)
	require.NotNil(t, ev.Status)
	assert.Equal(t, "Idle", ev.Status.MachineState.State)
	require.NotNil(t, ev.Status.MachinePosition)
	assert.Equal(t, 0.0, ev.Status.MachinePosition.X)
	require.NotNil(t, ev.Status.PinState)
	assert.True(t, ev.Status.PinState.XLimit)
	assert.True(t, ev.Status.PinState.YLimit)
	require.NotNil(t, ev.Status.OverrideValues)
	assert.Equal(t, 100.0, ev.Status.OverrideValues.Feed)
}

func TestFeedHoldSubState(t *testing.T) {
	p := NewParser()
	ev := p.Feed("<Hold:1|MPos:1.000,2.000,3.000>")
	require.Equal(t, EventStatus, ev.Kind)
	assert.Equal(t, "in-progress", ev.Status.MachineState.SubStateString())
}

func TestFeedParserState(t *testing.T) {
	p := NewParser()
	ev := p.Feed("[GC:G0 G54 G17 G21 G90 G94 M0 M5 M9 T0 F0. S0.]")
	assert.Equal(t, EventParserState, ev.Kind)
	assert.Contains(t, ev.Text, "G0 G54")
}

func TestFeedGcodeParam(t *testing.T) {
	p := NewParser()
	ev := p.Feed("[G54:0.000,0.000,0.000]")
	assert.Equal(t, EventParameters, ev.Kind)
}

func TestFeedStartup(t *testing.T) {
	p := NewParser()
	ev := p.Feed("Grbl 1.1f ['$' for help]")
	assert.Equal(t, EventStartup, ev.Kind)
}

func TestFeedUnknown(t *testing.T) {
	p := NewParser()
	ev := p.Feed("garbage line")
	assert.Equal(t, EventUnknown, ev.Kind)
}

func TestNewRealTimeCommand(t *testing.T) {
	rtc, err := NewRealTimeCommand('?')
	require.NoError(t, err)
	assert.Equal(t, RealTimeCommandStatusReportQuery, rtc)

	_, err = NewRealTimeCommand(0x01)
	assert.ErrorIs(t, err, ErrNotRealTimeCommand)
}
