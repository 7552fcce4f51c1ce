package grblparser

import "fmt"

// errorMessages maps Grbl's numeric error codes (returned as `error:N`) to their description.
var errorMessages = map[int]string{
	1:  "Expected command letter",
	2:  "Bad number format",
	3:  "Invalid statement",
	4:  "Value < 0",
	5:  "Setting disabled",
	6:  "Value < 3 usec",
	7:  "EEPROM read fail. Using defaults",
	8:  "Not idle",
	9:  "G-code lock",
	10: "Homing not enabled",
	11: "Line overflow",
	12: "Step rate > 30kHz",
	13: "Check door",
	14: "Line length exceeded",
	15: "Travel exceeded",
	16: "Invalid jog command",
	17: "Setting disabled",
	20: "Unsupported command",
	21: "Modal group violation",
	22: "Undefined feed rate",
	23: "Command value not integer",
	24: "Axis words conflict",
	25: "Word repeated",
	26: "No axis words",
	27: "Invalid line number",
	28: "Value word missing",
	29: "Unsupported coordinate system",
	30: "G53 invalid motion mode",
	31: "Axis words without motion command",
	32: "No arc axis words",
	33: "Invalid target",
	34: "Arc radius error",
	35: "No arc offsets in plane",
	36: "Unused words",
	37: "Offset axis not assigned",
	38: "Invalid target for line number",
}

func errorMessage(code int) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error code %d", code)
}

// alarmMessages maps Grbl's numeric alarm codes (pushed as `ALARM:N`) to their description.
var alarmMessages = map[int]string{
	1:  "Hard limit triggered",
	2:  "Soft limit alarm",
	3:  "Abort during cycle",
	4:  "Probe fail",
	5:  "Probe fail",
	6:  "Homing fail",
	7:  "Homing fail",
	8:  "Homing fail",
	9:  "Homing fail",
	10: "Homing fail",
}

func alarmMessage(code int) string {
	if msg, ok := alarmMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown alarm code %d", code)
}
