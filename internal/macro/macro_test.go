package macro_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencnc/cncstream/internal/macro"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := macro.NewMemoryStore()
	ctx := context.Background()

	m := macro.Macro{ID: "home-corner", Name: "Home Corner", Kind: macro.KindGcode, Body: "G28\nG0 X0 Y0"}
	require.NoError(t, store.Put(ctx, m))

	got, err := store.Get(ctx, "home-corner")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, "home-corner"))
	_, err = store.Get(ctx, "home-corner")
	assert.ErrorIs(t, err, macro.ErrNotFound)
}

func TestLookupRendersGcodeMacro(t *testing.T) {
	store := macro.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, macro.Macro{ID: "probe", Name: "Probe Z", Kind: macro.KindGcode, Body: "G38.2 Z-10 F50"}))

	lookup := macro.NewLookup(store)
	name, gcode, err := lookup.LoadMacro(ctx, "probe")
	require.NoError(t, err)
	assert.Equal(t, "Probe Z", name)
	assert.Equal(t, "G38.2 Z-10 F50", gcode)
}

func TestLookupUnknownID(t *testing.T) {
	lookup := macro.NewLookup(macro.NewMemoryStore())
	_, _, err := lookup.LoadMacro(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestRenderScriptMacro(t *testing.T) {
	m := macro.Macro{
		ID:   "square",
		Name: "Square",
		Kind: macro.KindScript,
		Body: `
package main

func Gcode() []string {
	return []string{"G0 X0 Y0", "G1 X10 Y0", "G1 X10 Y10", "G1 X0 Y10", "G1 X0 Y0"}
}
`,
	}

	gcode, err := macro.Render(m)
	require.NoError(t, err)
	assert.Equal(t, "G0 X0 Y0\nG1 X10 Y0\nG1 X10 Y10\nG1 X0 Y10\nG1 X0 Y0", gcode)
}
