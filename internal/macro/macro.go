// Package macro provides the persistent store for named macros and the confined reader for
// on-disk G-code files, adapting both into protocol.MacroLookup/protocol.FileLoader for
// controllers to consume.
package macro

import (
	"context"
	"fmt"

	"github.com/opencnc/cncstream/internal/protocol"
)

// Kind selects how a Macro's body is turned into a G-code blob.
type Kind string

const (
	KindGcode  Kind = "gcode"
	KindScript Kind = "script"
)

// Macro is a named, stored command sequence. For KindGcode, Body is the literal blob to send.
// For KindScript, Body is Go source evaluated with yaegi; it must define a Gcode() function
// returning []string, letting a macro compute its lines instead of only replaying a fixed blob.
type Macro struct {
	ID   string
	Name string
	Kind Kind
	Body string
}

// Store is the persistent configuration store for macros.
type Store interface {
	Get(ctx context.Context, id string) (Macro, error)
	List(ctx context.Context) ([]Macro, error)
	Put(ctx context.Context, m Macro) error
	Delete(ctx context.Context, id string) error
}

// ErrNotFound is returned by Store.Get/Delete when id isn't present.
var ErrNotFound = fmt.Errorf("macro: not found")

// Lookup adapts a Store into protocol.MacroLookup, rendering a stored Macro's body into the
// name/gcode pair a controller's loadmacro command expects.
type Lookup struct {
	Store Store
}

func NewLookup(store Store) *Lookup {
	return &Lookup{Store: store}
}

func (l *Lookup) LoadMacro(ctx context.Context, id string) (string, string, error) {
	m, err := l.Store.Get(ctx, id)
	if err != nil {
		return "", "", fmt.Errorf("macro: loadmacro %q: %w", id, err)
	}
	gcode, err := Render(m)
	if err != nil {
		return "", "", fmt.Errorf("macro: loadmacro %q: %w", id, err)
	}
	return m.Name, gcode, nil
}

var _ protocol.MacroLookup = (*Lookup)(nil)
