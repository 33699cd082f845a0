// Package health tracks liveness of the watch streams and serves the
// HTTP health and metrics endpoints.
package health

// Status is the health state of a stream or of the whole process.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Registered stream names.
const (
	StreamBlocks = "blocks"
	StreamFees   = "fees"
)

// StreamHealth is one stream's liveness view.
type StreamHealth struct {
	Status            Status `json:"status"`
	LastSuccess       string `json:"last_success,omitempty"`
	AgeSecs           int64  `json:"age_secs,omitempty"`
	Height            int64  `json:"height,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	LastError         string `json:"last_error,omitempty"`
}

// Report is the full liveness report. Status is the worst stream status.
type Report struct {
	Status  Status                  `json:"status"`
	Streams map[string]StreamHealth `json:"streams"`
}

var statusRank = map[Status]int{
	StatusHealthy:  0,
	StatusDegraded: 1,
	StatusCritical: 2,
}

func worst(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}
