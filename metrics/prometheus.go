package metrics

import (
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusGatherer adapts Registry to a prometheus.Collector so an
// external dashboard (out of scope per spec §1) can scrape a stable shape
// without this module depending on any HTTP exposition surface itself.
type PrometheusGatherer struct {
	namespace string
}

// NewPrometheusGatherer builds a Collector over Registry.
func NewPrometheusGatherer(namespace string) *PrometheusGatherer {
	return &PrometheusGatherer{namespace: namespace}
}

func (g *PrometheusGatherer) Describe(ch chan<- *prometheus.Desc) {
	// Dynamic metric set: deliberately unchecked collector, matching the
	// common pattern for bridging a foreign metrics registry.
}

func (g *PrometheusGatherer) Collect(ch chan<- prometheus.Metric) {
	Registry.Each(func(name string, i interface{}) {
		fqName := prometheus.BuildFQName(g.namespace, "", sanitize(name))
		switch m := i.(type) {
		case gometrics.Counter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName, name, nil, nil),
				prometheus.CounterValue, float64(m.Count()),
			)
		case gometrics.Histogram:
			snap := m.Snapshot()
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName, name, nil, nil),
				prometheus.GaugeValue, snap.Mean(),
			)
		}
	})
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '/' || r == '-' || r == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
