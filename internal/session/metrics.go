package session

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// pipeline counters, shared by every controller in the process.
type pipelineMetrics struct {
	framesCaptured    metric.Int64Counter
	framesDropped     metric.Int64Counter
	chunksSubmitted   metric.Int64Counter
	partialsMerged    metric.Int64Counter
	finalsCommitted   metric.Int64Counter
	correlationErrors metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metricsInst *pipelineMetrics
)

func getMetrics() *pipelineMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter("scribe-core/session")
		m := &pipelineMetrics{}
		m.framesCaptured, _ = meter.Int64Counter("scribe.session.frames_captured",
			metric.WithDescription("Audio frames received from the capture source"))
		m.framesDropped, _ = meter.Int64Counter("scribe.session.frames_dropped",
			metric.WithDescription("Frames evicted from the ring buffer on overflow"))
		m.chunksSubmitted, _ = meter.Int64Counter("scribe.session.chunks_submitted",
			metric.WithDescription("Encoded chunks submitted to the transcription engine"))
		m.partialsMerged, _ = meter.Int64Counter("scribe.session.partials_merged",
			metric.WithDescription("Partial segments accepted by the merge step"))
		m.finalsCommitted, _ = meter.Int64Counter("scribe.session.finals_committed",
			metric.WithDescription("Final segments committed to the transcript"))
		m.correlationErrors, _ = meter.Int64Counter("scribe.session.correlation_errors",
			metric.WithDescription("Segments dropped for regressing below the committed index"))
		metricsInst = m
	})
	return metricsInst
}

func (m *pipelineMetrics) add(c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(context.Background(), n)
	}
}
