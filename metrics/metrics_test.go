package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anupcshan/romcheck/checksum"
	"github.com/anupcshan/romcheck/fwimage"
	"github.com/anupcshan/romcheck/intelhex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func counterValues(t *testing.T, g prometheus.Gatherer, name string) map[string]float64 {
	t.Helper()

	families, err := g.Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, l := range m.GetLabel() {
				if key != "" {
					key += ","
				}
				key += l.GetValue()
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out
}

func TestObserveImport(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveImport(&fwimage.Result{
		Records: map[intelhex.RecordType]int{
			intelhex.RecordData: 10,
			intelhex.RecordEOF:  1,
		},
		LineErrors:   map[string]int{"no-marker": 2, fwimage.ChecksumErrorKind: 1},
		FailedWrites: 8,
		Duration:     3 * time.Millisecond,
	})

	require.Equal(t, map[string]float64{"data": 10, "eof": 1}, counterValues(t, reg, "romcheck_records_total"))
	require.Equal(t, map[string]float64{"no-marker": 2, "checksum": 1}, counterValues(t, reg, "romcheck_line_errors_total"))
	require.Equal(t, map[string]float64{"": 8}, counterValues(t, reg, "romcheck_write_failures_total"))
}

func TestObserveChecksums(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveChecksums([]checksum.Result{
		{Region: checksum.Region{Name: "firmware"}, Match: true},
		{Region: checksum.Region{Name: "bootloader"}},
		{Region: checksum.Region{Name: "bootloader"}},
	})

	require.Equal(t, map[string]float64{
		"firmware,ok":         1,
		"bootloader,mismatch": 2,
	}, counterValues(t, reg, "romcheck_checksum_results_total"))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveImport(&fwimage.Result{})
	c.ObserveChecksums([]checksum.Result{{}})
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveImport(&fwimage.Result{Records: map[intelhex.RecordType]int{intelhex.RecordData: 2}})

	fName := filepath.Join(t.TempDir(), "romcheck.prom")
	require.NoError(t, WriteTextfile(fName, reg))

	data, err := os.ReadFile(fName)
	require.NoError(t, err)
	require.Contains(t, string(data), `romcheck_records_total{type="data"} 2`)
	require.Contains(t, string(data), "romcheck_import_duration_seconds_count 1")
}
