package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pagesCmd = &cobra.Command{
	Use:   "pages FILE",
	Short: "List the empty and modified flash pages of an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runPages,
}

func runPages(cmd *cobra.Command, args []string) (err error) {
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

	mem := s.Memory()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pages:    %d x %#x bytes\n", mem.PageCount(), mem.PageSize())
	fmt.Fprintf(out, "empty:    %s\n", formatPages(mem.EmptyPages()))
	fmt.Fprintf(out, "modified: %s\n", formatPages(mem.ModifiedPages()))
	return nil
}
