package grblparser

import (
	"errors"
	"fmt"
)

var ErrNotRealTimeCommand = errors.New("not a real time command")

// RealTimeCommand is a single byte sent outside the character-counting window: Grbl acts on it
// immediately regardless of how much is queued in its RX buffer.
type RealTimeCommand byte

var realTimeCommandNames = map[RealTimeCommand]string{
	RealTimeCommandSoftReset:          "Soft-Reset",
	RealTimeCommandStatusReportQuery:  "Status Report Query",
	RealTimeCommandCycleStartResume:   "Cycle Start / Resume",
	RealTimeCommandFeedHold:           "Feed Hold",
	RealTimeCommandSafetyDoor:         "Safety Door",
	RealTimeCommandJogCancel:          "Jog Cancel",
	RealTimeCommandFeedOverride100:    "Feed Override: 100%",
	RealTimeCommandFeedOverrideUp10:   "Feed Override: +10%",
	RealTimeCommandFeedOverrideDown10: "Feed Override: -10%",
	RealTimeCommandFeedOverrideUp1:    "Feed Override: +1%",
	RealTimeCommandFeedOverrideDown1:  "Feed Override: -1%",
	RealTimeCommandToggleSpindleStop:  "Toggle Spindle Stop",
	RealTimeCommandToggleFloodCoolant: "Toggle Flood Coolant",
	RealTimeCommandToggleMistCoolant:  "Toggle Mist Coolant",
}

func NewRealTimeCommand(b byte) (RealTimeCommand, error) {
	rtc := RealTimeCommand(b)
	if _, ok := realTimeCommandNames[rtc]; ok {
		return rtc, nil
	}
	return 0, ErrNotRealTimeCommand
}

func (c RealTimeCommand) String() string {
	if name, ok := realTimeCommandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown realtime command (%#x)", byte(c))
}

var (
	RealTimeCommandSoftReset         RealTimeCommand = 0x18
	RealTimeCommandStatusReportQuery RealTimeCommand = '?'
	RealTimeCommandCycleStartResume  RealTimeCommand = '~'
	RealTimeCommandFeedHold          RealTimeCommand = '!'
	RealTimeCommandSafetyDoor        RealTimeCommand = 0x84
	RealTimeCommandJogCancel         RealTimeCommand = 0x85

	RealTimeCommandFeedOverride100    RealTimeCommand = 0x90
	RealTimeCommandFeedOverrideUp10   RealTimeCommand = 0x91
	RealTimeCommandFeedOverrideDown10 RealTimeCommand = 0x92
	RealTimeCommandFeedOverrideUp1    RealTimeCommand = 0x93
	RealTimeCommandFeedOverrideDown1  RealTimeCommand = 0x94

	RealTimeCommandToggleSpindleStop  RealTimeCommand = 0x9E
	RealTimeCommandToggleFloodCoolant RealTimeCommand = 0xA0
	RealTimeCommandToggleMistCoolant  RealTimeCommand = 0xA1
)
