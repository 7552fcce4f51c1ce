package tinyg2parser

import "encoding/json"

// StatusReport is the decoded `sr` object. TinyG2's status-report field set is configured at
// init time (see controller's init script); only the fields this controller core actually
// drives flow control or diagnostics from are pulled out, the rest stay in Raw.
type StatusReport struct {
	LineNumber *int
	Raw        json.RawMessage
}

func decodeStatusReport(raw json.RawMessage) (*StatusReport, error) {
	var fields struct {
		Line *int `json:"line"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return &StatusReport{LineNumber: fields.Line, Raw: raw}, nil
}
