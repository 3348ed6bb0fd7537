package executor

import (
	"encoding/json"
	"fmt"
)

// runRequest is the body of the run call.
type runRequest struct {
	Code string `json:"code"`
}

// runResponse is the backend reply. A non-empty uuid means the run streams;
// otherwise output and error carry the final text.
type runResponse struct {
	UUID   *string `json:"uuid"`
	Output *string `json:"output"`
	Error  *string `json:"error"`
}

// Outcome is the result of a successful run call: either Streaming or Immediate.
type Outcome interface {
	outcome()
}

// Streaming means the backend accepted the code. Output and the termination
// signal arrive later on the push channel, tagged with ExecutionID.
type Streaming struct {
	ExecutionID string
}

// Immediate means the backend ran (or rejected) the code synchronously.
// No push events will follow.
type Immediate struct {
	Output string
	Error  string
}

func (Streaming) outcome() {}
func (Immediate) outcome() {}

// Text combines output and error the way they are displayed.
func (i Immediate) Text() string {
	return i.Output + "\n" + i.Error
}

func decodeRunResponse(data []byte) (Outcome, error) {
	var resp runResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if resp.UUID != nil && *resp.UUID != "" {
		return Streaming{ExecutionID: *resp.UUID}, nil
	}

	if resp.Output == nil && resp.Error == nil {
		return nil, fmt.Errorf("%w: neither uuid nor output/error present", ErrMalformedResponse)
	}

	var out Immediate
	if resp.Output != nil {
		out.Output = *resp.Output
	}
	if resp.Error != nil {
		out.Error = *resp.Error
	}
	return out, nil
}
