package prometheus

import (
	"net/http"

	tokensapp "github.com/CuckCybsacTEST/tokensapp"
	"github.com/CuckCybsacTEST/tokensapp/metrics/export/internaldefs"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() tokensapp.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter is a prometheus.Collector reading engine snapshots at scrape
// time. Every metric carries a constant "domain" label.
type Exporter struct {
	source     metricsSource
	counters   []*prom.Desc
	histograms []*prom.Desc
	dropped    *prom.Desc
}

var _ prom.Collector = (*Exporter)(nil)

// NewExporter creates a collector for engine.
func NewExporter(engine *tokensapp.Engine) *Exporter {
	return NewExporterFromSource(engine, engine.Domain())
}

// NewExporterFromSource creates a collector for any snapshot source.
func NewExporterFromSource(source metricsSource, domain string) *Exporter {
	labels := prom.Labels{"domain": domain}
	e := &Exporter{
		source:  source,
		dropped: prom.NewDesc("tokens_audit_dropped_total", "Audit events dropped by dispatcher backpressure.", nil, labels),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, prom.NewDesc(def.Name, def.Help, nil, labels))
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, prom.NewDesc(def.Name, def.Help, nil, labels))
	}
	return e
}

func (e *Exporter) Describe(ch chan<- *prom.Desc) {
	for _, d := range e.counters {
		ch <- d
	}
	for _, d := range e.histograms {
		ch <- d
	}
	ch <- e.dropped
}

func (e *Exporter) Collect(ch chan<- prom.Metric) {
	if e == nil || e.source == nil {
		return
	}
	snapshot := e.source.MetricsSnapshot()

	for i, def := range internaldefs.CounterDefs {
		ch <- prom.MustNewConstMetric(e.counters[i], prom.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for j, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[j]
		}
		// Snapshots carry no sum.
		ch <- prom.MustNewConstHistogram(e.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prom.MustNewConstMetric(e.dropped, prom.CounterValue, float64(e.source.AuditDropped()))
}

// Handler serves the exporter from a private registry.
func (e *Exporter) Handler() http.Handler {
	reg := prom.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
