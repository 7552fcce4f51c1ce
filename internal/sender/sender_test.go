package sender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharCountSenderCountsBytesInFlight(t *testing.T) {
	s := NewCharCountSender(120)
	ok := s.Load("job", "G1 X10\nG1 Y20\nG1 Z5\n")
	require.True(t, ok)

	lines := s.Next()
	assert.Equal(t, []string{"G1 X10", "G1 Y20", "G1 Z5"}, lines)
	assert.Equal(t, 23, s.Status().BytesInFlight)
	assert.Equal(t, 3, s.Status().Sent)

	s.Ack()
	s.Ack()
	s.Ack()
	assert.Equal(t, 3, s.Status().Received)
	assert.Equal(t, 0, s.Status().BytesInFlight)
}

func TestCharCountSenderWindowBoundary(t *testing.T) {
	// buffer_size - 1 exactly fills the window with one line; no second line fits until ack.
	s := NewCharCountSender(10)
	ok := s.Load("job", "G1 X1234\nG1 Y1\n")
	require.True(t, ok)
	lines := s.Next()
	require.Len(t, lines, 1)
	assert.Equal(t, "G1 X1234", lines[0])
	assert.Equal(t, 9, s.Status().BytesInFlight)

	assert.Empty(t, s.Next())
	s.Ack()
	lines = s.Next()
	require.Len(t, lines, 1)
	assert.Equal(t, "G1 Y1", lines[0])
}

func TestCharCountSenderIndexesBlankLinesWithoutSending(t *testing.T) {
	s := NewCharCountSender(120)
	require.True(t, s.Load("job", "G1 X1\n\nG1 Y1\n"))
	assert.Equal(t, 3, s.Status().Total, "blank line counts toward indexing")

	lines := s.Next()
	assert.Equal(t, []string{"G1 X1", "G1 Y1"}, lines, "blank line never reaches the wire")
	assert.Equal(t, 3, s.Status().Sent)
	assert.Equal(t, 12, s.Status().BytesInFlight, "blank line consumes no window")

	s.Ack()
	s.Ack()
	assert.Equal(t, 3, s.Status().Received)
}

func TestSendResponseSenderIndexesBlankLinesWithoutSending(t *testing.T) {
	s := NewSendResponseSender()
	require.True(t, s.Load("job", "G1 X1\n\nG1 Y1\n"))
	assert.Equal(t, 3, s.Status().Total, "blank line counts toward indexing")

	lines := s.Next()
	require.Len(t, lines, 1)
	assert.Equal(t, "G1 X1", lines[0])
	s.Ack()

	lines = s.Next()
	require.Len(t, lines, 1)
	assert.Equal(t, "G1 Y1", lines[0], "blank line never reaches the wire")
	s.Ack()
	assert.Equal(t, 3, s.Status().Received)
}

func TestCharCountSenderRejectsEmptyBlob(t *testing.T) {
	s := NewCharCountSender(120)
	ok := s.Load("job", "   \n\n")
	assert.False(t, ok)
}

func TestCharCountSenderRejectsEEPROM(t *testing.T) {
	s := NewCharCountSender(120)
	ok := s.Load("job", "G1 X1\nG10 L2 P1 X0\n")
	assert.False(t, ok)
}

func TestCharCountSenderUnloadResetsStatus(t *testing.T) {
	s := NewCharCountSender(120)
	require.True(t, s.Load("job", "G1 X1\n"))
	s.Unload()
	assert.Equal(t, 0, s.Status().Total)
}

func TestCharCountSenderErrorAdvancesLikeOk(t *testing.T) {
	s := NewCharCountSender(120)
	require.True(t, s.Load("job", "G1 X1\nG1 Y1\n"))
	s.Next()
	s.Ack() // simulates both ok and error consuming the oldest in-flight line
	assert.Equal(t, 1, s.Status().Received)
}

func TestSendResponseSenderOneInFlight(t *testing.T) {
	s := NewSendResponseSender()
	require.True(t, s.Load("job", "G1 X1\nG1 Y1\n"))

	lines := s.Next()
	require.Len(t, lines, 1)
	assert.Empty(t, s.Next(), "no second line until ack")

	s.Ack()
	lines = s.Next()
	require.Len(t, lines, 1)
	assert.Equal(t, "G1 Y1", lines[0])
}

func TestSendResponsePauseResumeNoSkip(t *testing.T) {
	s := NewSendResponseSender()
	require.True(t, s.Load("job", "G1 X1\nG1 Y1\nG1 Z1\n"))
	s.Next()
	s.Ack()
	paused := s.Status()
	// pause: no next() calls happen; resume: next() resumes from the unacknowledged line.
	lines := s.Next()
	require.Len(t, lines, 1)
	assert.Equal(t, "G1 Y1", lines[0])
	assert.Equal(t, paused.Sent, 1)
}
