package metrics

import (
	"github.com/anupcshan/romcheck/checksum"
	"github.com/anupcshan/romcheck/fwimage"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts what imports and checksum checks saw. A nil Collector
// discards everything.
type Collector struct {
	records         *prometheus.CounterVec
	lineErrors      *prometheus.CounterVec
	writeFailures   prometheus.Counter
	checksumResults *prometheus.CounterVec
	importDuration  prometheus.Histogram
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "romcheck",
			Name:      "records_total",
			Help:      "Intel HEX records decoded, by record type",
		}, []string{"type"}),
		lineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "romcheck",
			Name:      "line_errors_total",
			Help:      "Intel HEX lines that were skipped or failed their checksum",
		}, []string{"kind"}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "romcheck",
			Name:      "write_failures_total",
			Help:      "Image bytes that fell outside the ROM",
		}),
		checksumResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "romcheck",
			Name:      "checksum_results_total",
			Help:      "Checksum region checks, by region and outcome",
		}, []string{"region", "status"}),
		importDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "romcheck",
			Name:      "import_duration_seconds",
			Help:      "Time taken to load an image",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	reg.MustRegister(c.records, c.lineErrors, c.writeFailures, c.checksumResults, c.importDuration)
	return c
}

func (c *Collector) ObserveImport(res *fwimage.Result) {
	if c == nil || res == nil {
		return
	}

	for recType, n := range res.Records {
		c.records.WithLabelValues(recType.String()).Add(float64(n))
	}
	for kind, n := range res.LineErrors {
		c.lineErrors.WithLabelValues(kind).Add(float64(n))
	}
	c.writeFailures.Add(float64(res.FailedWrites))
	c.importDuration.Observe(res.Duration.Seconds())
}

func (c *Collector) ObserveChecksums(results []checksum.Result) {
	if c == nil {
		return
	}

	for _, res := range results {
		status := "ok"
		if !res.Match {
			status = "mismatch"
		}
		c.checksumResults.WithLabelValues(res.Region.Name, status).Inc()
	}
}

// WriteTextfile dumps g in the text exposition format, for pickup by the
// node exporter textfile collector.
func WriteTextfile(fName string, g prometheus.Gatherer) error {
	return errors.Wrapf(prometheus.WriteToTextfile(fName, g), "writing metrics to %s", fName)
}
