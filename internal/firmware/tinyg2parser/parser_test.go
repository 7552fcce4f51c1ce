package tinyg2parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedResponseWithLineNumber(t *testing.T) {
	p := NewParser()
	evt := p.Feed(`{"r":{"n":5},"f":[1,0,12]}`)
	require.Equal(t, EventResponse, evt.Kind)
	require.NotNil(t, evt.Response)
	assert.True(t, evt.Response.HasLine)
	assert.Equal(t, 5, evt.Response.LineNumber)
	require.NotNil(t, evt.Footer)
	assert.Equal(t, 0, evt.Footer.StatusCode)
}

func TestFeedResponseLineNumberFromEchoedGcode(t *testing.T) {
	p := NewParser()
	evt := p.Feed(`{"r":{"gc":"N7 G1 X10\n"},"f":[1,0,3]}`)
	require.NotNil(t, evt.Response)
	assert.True(t, evt.Response.HasLine)
	assert.Equal(t, 7, evt.Response.LineNumber)
}

func TestFeedResponseWithErrorFooter(t *testing.T) {
	p := NewParser()
	evt := p.Feed(`{"r":{"n":3},"f":[1,53,5]}`)
	require.NotNil(t, evt.Footer)
	assert.Equal(t, 53, evt.Footer.StatusCode)
}

func TestFeedQueueReport(t *testing.T) {
	p := NewParser()
	evt := p.Feed(`{"qr":28,"qi":0,"qo":28}`)
	require.Equal(t, EventQueueReport, evt.Kind)
	require.NotNil(t, evt.QueueReport)
	assert.Equal(t, 28, evt.QueueReport.QR)
	assert.Equal(t, 0, evt.QueueReport.QI)
	assert.Equal(t, 28, evt.QueueReport.QO)
}

func TestFeedStatusReportWithLineNumber(t *testing.T) {
	p := NewParser()
	evt := p.Feed(`{"sr":{"line":12,"posx":1.5}}`)
	require.Equal(t, EventStatusReport, evt.Kind)
	require.NotNil(t, evt.StatusReport)
	require.NotNil(t, evt.StatusReport.LineNumber)
	assert.Equal(t, 12, *evt.StatusReport.LineNumber)
}

func TestFeedFeedbackAndHardware(t *testing.T) {
	p := NewParser()
	assert.Equal(t, EventFeedback, p.Feed(`{"fb":100.26}`).Kind)
	assert.Equal(t, EventHardware, p.Feed(`{"hp":440.20}`).Kind)
}

func TestFeedUnknownOnMalformedJSON(t *testing.T) {
	p := NewParser()
	evt := p.Feed(`not json`)
	assert.Equal(t, EventUnknown, evt.Kind)
	assert.NotEmpty(t, evt.Text)
}

func TestFeedUnknownOnEmptyLine(t *testing.T) {
	p := NewParser()
	evt := p.Feed("   ")
	assert.Equal(t, EventUnknown, evt.Kind)
}
