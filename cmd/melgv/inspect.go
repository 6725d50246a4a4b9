package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-melgv/internal/gv"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the statistics stored in a GV parameters file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := gv.ReadResult(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "mean_gv\t%g\n", result.MeanGV)
			_, _ = fmt.Fprintf(out, "std_gv\t%g\n", result.StdGV)
			_, _ = fmt.Fprintf(out, "utterances\t%d\n", result.Utterances)
			_, _ = fmt.Fprintf(out, "frames\t%d\n", result.Frames)

			return nil
		},
	}
}
