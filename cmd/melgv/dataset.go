package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-melgv/internal/dataset"
)

func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Validation set tooling",
	}

	cmd.AddCommand(newDatasetInfoCmd())

	return cmd
}

func newDatasetInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Summarize the configured validation manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			manifest, err := dataset.ReadManifest(cfg.Paths.ValidationManifest)
			if err != nil {
				return err
			}

			var tokenized, text, stored, audio int
			for _, u := range manifest.Utterances {
				if len(u.Tokens) > 0 {
					tokenized++
				} else {
					text++
				}

				if u.Mel != "" {
					stored++
				} else {
					audio++
				}
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "utterances\t%d\n", len(manifest.Utterances))
			_, _ = fmt.Fprintf(out, "tokenized\t%d\n", tokenized)
			_, _ = fmt.Fprintf(out, "text\t%d\n", text)
			_, _ = fmt.Fprintf(out, "stored_mel\t%d\n", stored)
			_, _ = fmt.Fprintf(out, "audio\t%d\n", audio)

			return nil
		},
	}
}
