package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/anupcshan/romcheck/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report FILE",
	Short: "Write a machine readable report of an image",
	Long: `Load and verify an image, then write a report with the import statistics,
checksum results, page usage and every diagnostic emitted along the way.

Example:
  romcheck report build/app.hex -o app.report --format proto`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var showReportCmd = &cobra.Command{
	Use:   "show-report FILE",
	Short: "Print a report written by the report command",
	Long: `Print a report. Use - to read from stdin. With --raw a protobuf report is
printed field by field without decoding it.`,
	Args: cobra.ExactArgs(1),
	RunE: runShowReport,
}

func init() {
	reportCmd.Flags().StringP("out", "o", "", "Output report file (required)")
	reportCmd.Flags().String("format", "cbor", "Report encoding (cbor, proto)")
	//nolint:errcheck
	reportCmd.MarkFlagRequired("out")

	showReportCmd.Flags().String("format", "cbor", "Report encoding (cbor, proto)")
	showReportCmd.Flags().Bool("raw", false, "Print protobuf fields without decoding")
}

func encodeReport(r *session.Report, format string) ([]byte, error) {
	switch format {
	case "cbor":
		return r.MarshalCBOR()
	case "proto":
		return r.MarshalProto()
	}
	return nil, errors.Errorf("unknown report format %q", format)
}

func decodeReport(b []byte, format string) (*session.Report, error) {
	r := &session.Report{}
	switch format {
	case "cbor":
		return r, r.UnmarshalCBOR(b)
	case "proto":
		return r, r.UnmarshalProto(b)
	}
	return nil, errors.Errorf("unknown report format %q", format)
}

func runReport(cmd *cobra.Command, args []string) (err error) {
	outputFile, _ := cmd.Flags().GetString("out")
	format, _ := cmd.Flags().GetString("format")

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); err == nil {
			err = cerr
		}
	}()

	s, err := e.newSession()
	if err != nil {
		return err
	}
	if _, err := s.Load(cmd.Context(), args[0]); err != nil {
		return err
	}
	if _, err := s.Verify(); err != nil {
		return err
	}

	b, err := encodeReport(s.Report(), format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputFile, b, 0644); err != nil {
		return errors.Wrap(err, "writing report")
	}

	e.logger.Info("Wrote report", "session", s.ID, "out", outputFile, "format", format, "bytes", len(b))
	return nil
}

func runShowReport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	raw, _ := cmd.Flags().GetBool("raw")

	var (
		b   []byte
		err error
	)
	if args[0] == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(args[0])
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if raw {
		fields := session.ParseFields(b)
		if fields == nil {
			return errors.New("not a protobuf message")
		}
		for _, field := range fields {
			fmt.Fprintf(out, "%s\n", field)
		}
		return nil
	}

	r, err := decodeReport(b, format)
	if err != nil {
		return errors.Wrapf(err, "decoding %s report", format)
	}

	fmt.Fprintf(out, "session:  %s\n", r.ID)
	fmt.Fprintf(out, "source:   %s (%s, profile %s)\n", r.Source, r.Format, r.Profile)
	fmt.Fprintf(out, "lines:    %d, %d skipped, %d checksum warnings\n", r.Lines, r.Skipped, r.ChecksumWarnings)
	for _, rc := range r.Records {
		fmt.Fprintf(out, "  %-26s %d\n", rc.Name, rc.Count)
	}
	fmt.Fprintf(out, "written:  %d bytes\n", r.BytesWritten)
	if r.FailedWrites > 0 {
		fmt.Fprintf(out, "failed:   %d bytes in 0x%X - 0x%X\n", r.FailedWrites, r.FailureMin, r.FailureMax)
	}
	fmt.Fprintf(out, "empty:    %s\n", formatPages(r.EmptyPages))
	fmt.Fprintf(out, "modified: %s\n", formatPages(r.ModifiedPages))
	for _, c := range r.Checksums {
		status := "ok"
		if !c.Match {
			status = "MISMATCH"
		}
		fmt.Fprintf(out, "  %-16s %-10s [%#06x, %#06x) stored 0x%08x calculated 0x%08x %s\n",
			c.Name, c.Algorithm, c.Start, c.End, c.Stored, c.Calculated, status)
	}
	return nil
}
