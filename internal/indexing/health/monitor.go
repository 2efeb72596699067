package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/offerwatch/internal/indexing/pipeline"
	"github.com/vietddude/offerwatch/internal/infra/rpc"
)

// StatusSource reports the progress of a running pipeline.
type StatusSource interface {
	Status() pipeline.Status
}

// HealthChecker is implemented by the storage backends.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RPCHealth is implemented by the node client.
type RPCHealth interface {
	Health() rpc.HealthStatus
}

// Thresholds decide when a pipeline counts as degraded or critical.
type Thresholds struct {
	LagDegraded int64
	LagCritical int64
	// StaleAfter is how long a pipeline may be behind the head without committing.
	StaleAfter time.Duration
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LagDegraded: 100,
		LagCritical: 10_000,
		StaleAfter:  5 * time.Minute,
	}
}

// Monitor aggregates health status from the pipelines and the store.
type Monitor struct {
	pipelines  []StatusSource
	storage    HealthChecker
	rpc        RPCHealth
	thresholds Thresholds
	cacheFor   time.Duration
	startedAt  time.Time
	now        func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor.
func NewMonitor(storage HealthChecker, thresholds Thresholds, pipelines ...StatusSource) *Monitor {
	return &Monitor{
		pipelines:  pipelines,
		storage:    storage,
		thresholds: thresholds,
		cacheFor:   2 * time.Second,
		startedAt:  time.Now(),
		now:        time.Now,
	}
}

// WithRPC adds the node client to the report.
func (m *Monitor) WithRPC(client RPCHealth) *Monitor {
	m.rpc = client
	return m
}

// CheckHealth evaluates every pipeline and the store.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid hammering the database
	if m.lastReport != nil && m.now().Sub(m.lastCheck) < m.cacheFor {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Storage:      StatusHealthy,
		RPC:          StatusHealthy,
		Pipelines:    make(map[string]PipelineHealth, len(m.pipelines)),
	}

	if m.storage != nil {
		if err := m.storage.Health(ctx); err != nil {
			report.Storage = StatusCritical
			report.SystemStatus = StatusCritical
		}
	}

	if m.rpc != nil {
		// The node being unreachable stalls the pipeline but loses no data.
		if h := m.rpc.Health(); !h.Available && h.FailureCount > 0 {
			report.RPC = StatusDegraded
			report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
		}
	}

	for _, p := range m.pipelines {
		h := m.evaluate(p.Status())
		report.Pipelines[h.Pipeline] = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	m.lastCheck = m.now()
	m.lastReport = &report
	return report
}

func (m *Monitor) evaluate(s pipeline.Status) PipelineHealth {
	h := PipelineHealth{
		Pipeline:         s.Pipeline,
		Status:           StatusHealthy,
		State:            string(s.State),
		Watermark:        s.Watermark,
		LatestCheckpoint: s.LatestCheckpoint,
		Lag:              s.Lag,
		LastError:        s.LastError,
	}
	if !s.LastCommitAt.IsZero() {
		at := s.LastCommitAt
		h.LastCommitAt = &at
	}

	// A pipeline that is behind but has not committed for a while is stuck.
	lastProgress := s.LastCommitAt
	if lastProgress.IsZero() {
		lastProgress = m.startedAt
	}
	stale := s.Lag > 0 && m.now().Sub(lastProgress) > m.thresholds.StaleAfter

	switch {
	case s.State == pipeline.StateStopped:
		h.Status = StatusCritical
	case s.Lag > m.thresholds.LagCritical:
		h.Status = StatusCritical
	case stale, s.State == pipeline.StateFailing, s.Lag > m.thresholds.LagDegraded:
		h.Status = StatusDegraded
	}
	return h
}
