// Package metrics names the pipeline's operational counters in one place so
// dashboards and code agree on spelling.
package metrics

import (
	"time"

	"github.com/jobsift/pipeline-api/internal/observability/statsd"
)

// Metric names, grouped by emitting service.
const (
	TriggerAccepted       = "trigger.accepted"
	TriggerRejected       = "trigger.rejected"
	TriggerPublishFailed  = "trigger.publish_failed"
	IngestApplied         = "ingest.applied"
	IngestDuplicates      = "ingest.duplicates"
	IngestStale           = "ingest.stale"
	IngestQuarantined     = "ingest.quarantined"
	IngestPlaceholders    = "ingest.placeholders"
	IngestHandleTime      = "ingest.handle_time"
	HubSubscribers        = "hub.subscribers"
	HubFramesDropped      = "hub.frames_dropped"
	HubSubscribersEvicted = "hub.subscribers_evicted"
)

// Pipeline wraps a statsd sink with the counters the services emit. A nil
// Pipeline is valid and discards everything.
type Pipeline struct {
	sink statsd.Sink
}

// New builds a Pipeline over the given sink.
func New(sink statsd.Sink) *Pipeline {
	if sink == nil {
		sink = statsd.Noop{}
	}
	return &Pipeline{sink: sink}
}

// Incr bumps a counter by one.
func (p *Pipeline) Incr(name string) {
	if p == nil {
		return
	}
	p.sink.Incr(name, 1)
}

// Gauge sets a gauge.
func (p *Pipeline) Gauge(name string, value float64) {
	if p == nil {
		return
	}
	p.sink.Gauge(name, value)
}

// Timing records a duration.
func (p *Pipeline) Timing(name string, d time.Duration) {
	if p == nil {
		return
	}
	p.sink.Timing(name, d)
}
