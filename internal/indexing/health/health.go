// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// PipelineHealth contains health metrics for one indexing pipeline.
type PipelineHealth struct {
	Pipeline         string       `json:"pipeline"`
	Status           SystemStatus `json:"status"`
	State            string       `json:"state"`
	Watermark        *uint64      `json:"watermark,omitempty"`
	LatestCheckpoint uint64       `json:"latest_checkpoint"`
	Lag              int64        `json:"lag"`
	LastCommitAt     *time.Time   `json:"last_commit_at,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Storage      SystemStatus              `json:"storage"`
	RPC          SystemStatus              `json:"rpc"`
	Pipelines    map[string]PipelineHealth `json:"pipelines"`
}

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
