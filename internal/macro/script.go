package macro

import (
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
)

// Render turns a Macro into a sendable G-code blob. KindGcode is returned as-is; KindScript is
// evaluated with yaegi and its Gcode() function's return value is joined into a blob.
func Render(m Macro) (string, error) {
	switch m.Kind {
	case KindGcode, "":
		return m.Body, nil
	case KindScript:
		return renderScript(m.Body)
	default:
		return "", fmt.Errorf("macro: %q: unknown kind %q", m.Name, m.Kind)
	}
}

func renderScript(source string) (string, error) {
	interpreter := interp.New(interp.Options{})

	if _, err := interpreter.Eval(source); err != nil {
		return "", fmt.Errorf("macro: script: eval: %w", err)
	}

	value, err := interpreter.Eval("Gcode()")
	if err != nil {
		return "", fmt.Errorf("macro: script: call Gcode(): %w", err)
	}

	lines, ok := value.Interface().([]string)
	if !ok {
		return "", fmt.Errorf("macro: script: Gcode() must return []string, got %T", value.Interface())
	}

	return strings.Join(lines, "\n"), nil
}
