package gcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserBlocks(t *testing.T) {
	p := NewParser(strings.NewReader("G1 X10 Y20\nG0 Z5\n"))
	blocks, err := p.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "G1 X10.0000 Y20.0000", blocks[0].NormalizedString())
	assert.Equal(t, "G0 Z5.0000", blocks[1].NormalizedString())
}

func TestParserSystemCommand(t *testing.T) {
	p := NewParser(strings.NewReader("$G\n"))
	eof, block, _, err := p.Next()
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.False(t, eof)
	assert.True(t, block.IsSystem())
	assert.Equal(t, "$G", block.String())
}

func TestBlockIsEEPROM(t *testing.T) {
	p := NewParser(strings.NewReader("G10 L2 P1 X0 Y0\nG1 X1\n$120=100\n$G\n"))
	blocks, err := p.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	assert.True(t, blocks[0].IsEEPROM())
	assert.False(t, blocks[1].IsEEPROM())
	assert.True(t, blocks[2].IsEEPROM())
	assert.False(t, blocks[3].IsEEPROM())
}
