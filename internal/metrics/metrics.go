// Package metrics collects operation counters and writes them in the node
// exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	NameSpace = "zipxtract"
	Subsystem = "operation"

	// OperationTime is a summary of the time taken by finished operations
	OperationTime = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name: prometheus.BuildFQName(NameSpace, Subsystem, "duration_seconds"),
		Help: "Time taken by extract and update operations",
	}, []string{"kind", "format"})

	// OperationCount counts finished operations by outcome
	OperationCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(NameSpace, Subsystem, "count"),
		Help: "How many operations finished, by outcome",
	}, []string{"kind", "status"})

	// BytesExtracted counts decoded bytes written to disk
	BytesExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(NameSpace, Subsystem, "extracted_bytes_total"),
		Help: "How many bytes were written by extractions",
	}, []string{"format"})

	// ItemsRewritten counts entries written by archive updates
	ItemsRewritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(NameSpace, Subsystem, "rewritten_items_total"),
		Help: "How many archive entries were written by updates",
	}, []string{"format"})

	// VolumesOpened counts physical volumes opened by volume providers
	VolumesOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(NameSpace, Subsystem, "volumes_opened_total"),
		Help: "How many volume files were opened",
	}, []string{"scheme"})
)

// Registry holds the zipxtract collectors. It is separate from the default
// registry so that a textfile contains nothing but these series.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(OperationTime)
	Registry.MustRegister(OperationCount)
	Registry.MustRegister(BytesExtracted)
	Registry.MustRegister(ItemsRewritten)
	Registry.MustRegister(VolumesOpened)
}

// ObserveOperation records one finished operation.
func ObserveOperation(kind, format, status string, elapsed time.Duration) {
	OperationTime.WithLabelValues(kind, format).Observe(elapsed.Seconds())
	OperationCount.WithLabelValues(kind, status).Inc()
}

// WriteTextfile writes the current state of Registry to path. An empty path
// is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, Registry)
}
