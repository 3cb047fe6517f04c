package cmd

import (
	"fmt"

	"github.com/anupcshan/romcheck/fwimage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Rewrite the stored checksums of a firmware image",
	Long: `Load an image, recompute the checksum of every profile region (or only the
regions named with --region) and write the patched image as Intel HEX.

Without --first-page/--last-page the output covers the modified pages of the
image.

Example:
  romcheck fix -i build/app.hex -o dist/app.hex --seed-settings`,
	RunE: runFix,
}

func init() {
	fixCmd.Flags().StringP("in", "i", "", "Input hex or bin file (required)")
	fixCmd.Flags().StringP("out", "o", "", "Output hex file (required)")
	fixCmd.Flags().StringSlice("region", nil, "Only fix these regions")
	fixCmd.Flags().Int("first-page", -1, "First page to write")
	fixCmd.Flags().Int("last-page", -1, "Last page to write (inclusive)")
	fixCmd.Flags().Int("binary-offset", -1, "Load address of .bin input (default: from profile)")
	fixCmd.Flags().StringSlice("base", nil, "Images to load before --in, e.g. a bootloader")
	fixCmd.Flags().Bool("seed-settings", false, "Copy the default settings page over the user settings page")
	//nolint:errcheck
	fixCmd.MarkFlagRequired("in")
	//nolint:errcheck
	fixCmd.MarkFlagRequired("out")
}

func runFix(cmd *cobra.Command, args []string) (err error) {
	inputFile, _ := cmd.Flags().GetString("in")
	outputFile, _ := cmd.Flags().GetString("out")
	regions, _ := cmd.Flags().GetStringSlice("region")
	firstPage, _ := cmd.Flags().GetInt("first-page")
	lastPage, _ := cmd.Flags().GetInt("last-page")
	binaryOffset, _ := cmd.Flags().GetInt("binary-offset")
	baseImages, _ := cmd.Flags().GetStringSlice("base")
	seedSettings, _ := cmd.Flags().GetBool("seed-settings")

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

	var opts []fwimage.Option
	if binaryOffset >= 0 {
		opts = append(opts, fwimage.WithBinaryOffset(binaryOffset))
	}
	for i, fName := range append(baseImages, inputFile) {
		loadOpts := opts
		if i > 0 {
			loadOpts = append(loadOpts, fwimage.WithOverwrite())
		}
		if _, err := s.Load(cmd.Context(), fName, loadOpts...); err != nil {
			return err
		}
	}

	if seedSettings {
		if err := s.SeedUserSettings(); err != nil {
			return err
		}
	}

	results, err := s.Fix(regions...)
	if err != nil {
		return err
	}
	for _, res := range results {
		fmt.Fprintln(cmd.OutOrStdout(), res)
	}

	if firstPage < 0 || lastPage < 0 {
		first, last, ok := s.ModifiedRange()
		if !ok {
			return errors.Wrap(fwimage.ErrNoData, "image has no modified pages")
		}
		if firstPage < 0 {
			firstPage = first
		}
		if lastPage < 0 {
			lastPage = last
		}
	}

	if err := s.Save(outputFile, firstPage, lastPage); err != nil {
		return err
	}

	e.logger.Info("Patched firmware", "in", inputFile, "out", outputFile, "first_page", firstPage, "last_page", lastPage)
	return nil
}
