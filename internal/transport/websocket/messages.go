package websocket

import (
	"encoding/json"

	"github.com/opencnc/cncstream/internal/protocol"
)

// outboundMessage is the JSON wire shape of an internal/controller.OutboundEvent.
type outboundMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// inboundMessage is the JSON wire shape of a client-submitted command, matching
// protocol.CommandKind by name rather than by its numeric tag.
type inboundMessage struct {
	Command string `json:"command"`
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

// toCommand converts a decoded inboundMessage into a protocol.Command tagged by client;
// unknown command names are rejected here rather than threading an Unknown CommandKind
// through the controller.
func (m inboundMessage) toCommand(client protocol.ClientHandle) (protocol.Command, bool) {
	kind, ok := commandKindsByName[m.Command]
	if !ok {
		return protocol.Command{}, false
	}
	return protocol.Command{
		Kind:    kind,
		Client:  client,
		Name:    m.Name,
		Gcode:   m.Gcode,
		Line:    m.Line,
		MacroID: m.MacroID,
		Path:    m.Path,
	}, true
}

func marshalOutbound(name string, payload any) ([]byte, error) {
	return json.Marshal(outboundMessage{Event: name, Payload: payload})
}
