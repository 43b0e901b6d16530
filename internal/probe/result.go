package probe

import (
	"encoding/json"
	"time"

	"github.com/anstrom/portprobe/internal/errors"
)

// Status is the tag of a Result.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
	StatusError  Status = "error"
)

// Result is the outcome of one probe.
//
// Open results carry the banner (possibly empty). Closed and error results
// carry the reason; both are reported as "not open".
type Result struct {
	Port     int
	Status   Status
	Banner   string
	Reason   *errors.ProbeError
	Duration time.Duration
}

// IsOpen reports whether the port accepted the connection.
func (r Result) IsOpen() bool {
	return r.Status == StatusOpen
}

// Code returns the failure code, or the empty code for open ports.
func (r Result) Code() errors.ErrorCode {
	if r.Reason == nil {
		return ""
	}
	return r.Reason.Code
}

type resultJSON struct {
	Port       int    `json:"port"`
	Status     Status `json:"status"`
	Banner     string `json:"banner,omitempty"`
	Code       string `json:"code,omitempty"`
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// MarshalJSON flattens the reason into code and message fields.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Port:       r.Port,
		Status:     r.Status,
		Banner:     r.Banner,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Reason != nil {
		out.Code = string(r.Reason.Code)
		if r.Reason.Cause != nil {
			out.Reason = r.Reason.Cause.Error()
		}
	}
	return json.Marshal(out)
}
