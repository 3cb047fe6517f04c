package cmd

import (
	"fmt"
	"runtime"

	"github.com/anupcshan/romcheck/checksum"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errMismatch = errors.New("checksum mismatch")

var verifyCmd = &cobra.Command{
	Use:   "verify FILE...",
	Short: "Check the stored checksums of firmware images",
	Long: `Load each image into its own virtual ROM and compare every checksum region of
the profile against the value stored in the image. Images are checked in
parallel. The command fails if any region of any image does not match.

Example:
  romcheck verify build/app.hex build/bootloader.hex`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().IntP("jobs", "j", runtime.NumCPU(), "Number of images to check at once")
}

func runVerify(cmd *cobra.Command, args []string) (err error) {
	jobs, _ := cmd.Flags().GetInt("jobs")

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); err == nil {
			err = cerr
		}
	}()

	results := make([][]checksum.Result, len(args))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(jobs, 1))
	for i, fName := range args {
		i, fName := i, fName
		g.Go(func() error {
			s, err := e.newSession()
			if err != nil {
				return err
			}
			if _, err := s.Load(ctx, fName); err != nil {
				return err
			}
			results[i], err = s.Verify()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	mismatches := 0
	out := cmd.OutOrStdout()
	for i, fName := range args {
		fmt.Fprintf(out, "%s:\n", fName)
		for _, res := range results[i] {
			fmt.Fprintf(out, "  %s\n", res)
			if !res.Match {
				mismatches++
			}
		}
	}

	if mismatches > 0 {
		return errors.Wrapf(errMismatch, "%d regions", mismatches)
	}
	return nil
}
