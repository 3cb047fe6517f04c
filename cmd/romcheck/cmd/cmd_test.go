package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestFormatPages(t *testing.T) {
	tests := []struct {
		pages []int
		want  string
	}{
		{pages: nil, want: "none"},
		{pages: []int{3}, want: "3"},
		{pages: []int{0, 1, 2, 5}, want: "0-2,5"},
		{pages: []int{1, 3, 4, 31}, want: "1,3-4,31"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, formatPages(tt.pages))
	}
}

func TestFixThenVerify(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "app.bin")
	fixed := filepath.Join(dir, "app.hex")
	metricsFile := filepath.Join(dir, "romcheck.prom")
	require.NoError(t, os.WriteFile(in, []byte{0xDE, 0xAD, 0xBE, 0xEF}, 0644))

	_, err := run(t, "verify", in)
	require.True(t, errors.Is(err, errMismatch), "err = %v", err)

	out, err := run(t, "fix", "-i", in, "-o", fixed, "--first-page", "0", "--last-page", "31", "--metrics-file", metricsFile)
	require.NoError(t, err)
	require.Contains(t, out, "firmware")

	out, err = run(t, "verify", fixed)
	require.NoError(t, err)
	require.NotContains(t, out, "MISMATCH")

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	require.Contains(t, string(metrics), "romcheck_checksum_results_total")
}

func TestPages(t *testing.T) {
	in := filepath.Join(t.TempDir(), "app.hex")
	require.NoError(t, os.WriteFile(in, []byte(":0400000001020304F2\n"), 0644))

	out, err := run(t, "pages", in, "--metrics-file", "")
	require.NoError(t, err)
	require.Contains(t, out, "empty:    1-31\n")
	require.Contains(t, out, "modified: 0\n")
}

func TestReportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "app.hex")
	report := filepath.Join(dir, "app.report")
	require.NoError(t, os.WriteFile(in, []byte(":0400000001020304F2\n"), 0644))

	for _, format := range []string{"cbor", "proto"} {
		t.Run(format, func(t *testing.T) {
			_, err := run(t, "report", in, "-o", report, "--format", format, "--metrics-file", "")
			require.NoError(t, err)

			out, err := run(t, "show-report", report, "--format", format, "--raw=false")
			require.NoError(t, err)
			require.Contains(t, out, "source:   "+in)
			require.Contains(t, out, "modified: 0\n")
			require.Contains(t, out, "MISMATCH")
		})
	}

	out, err := run(t, "show-report", report, "--raw")
	require.NoError(t, err)
	require.Contains(t, out, "3: \"p21odp\"")
}
