package rest

import "github.com/opencnc/cncstream/internal/protocol"

// commandRequest is the JSON body of a POST .../command request.
type commandRequest struct {
	Command string `json:"command" binding:"required"`
	Name    string `json:"name,omitempty"`
	Gcode   string `json:"gcode,omitempty"`
	Line    string `json:"line,omitempty"`
	MacroID string `json:"macroId,omitempty"`
	Path    string `json:"path,omitempty"`
}

var commandKindsByName = map[string]protocol.CommandKind{
	"load":       protocol.CommandLoad,
	"unload":     protocol.CommandUnload,
	"start":      protocol.CommandStart,
	"stop":       protocol.CommandStop,
	"pause":      protocol.CommandPause,
	"resume":     protocol.CommandResume,
	"reset":      protocol.CommandReset,
	"unlock":     protocol.CommandUnlock,
	"homing":     protocol.CommandHoming,
	"check":      protocol.CommandCheck,
	"gcode":      protocol.CommandGcode,
	"loadmacro":  protocol.CommandLoadMacro,
	"loadfile":   protocol.CommandLoadFile,
	"queueflush": protocol.CommandQueueFlush,
	"killjob":    protocol.CommandKillJob,
}

func (r commandRequest) toCommand() (protocol.Command, bool) {
	kind, ok := commandKindsByName[r.Command]
	if !ok {
		return protocol.Command{}, false
	}
	return protocol.Command{
		Kind:    kind,
		Name:    r.Name,
		Gcode:   r.Gcode,
		Line:    r.Line,
		MacroID: r.MacroID,
		Path:    r.Path,
	}, true
}
