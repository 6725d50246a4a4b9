package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-melgv/internal/checkpoint"
	"github.com/example/go-melgv/internal/onnx"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Checkpoint tooling",
	}

	cmd.AddCommand(newCheckpointInfoCmd())
	cmd.AddCommand(newCheckpointSmokeCmd())

	return cmd
}

func newCheckpointInfoCmd() *cobra.Command {
	var checkpointPath string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Validate a checkpoint and print its hyperparameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ckpt, err := checkpoint.Open(checkpointPath)
			if err != nil {
				return err
			}
			defer ckpt.Close()

			hp := ckpt.Hparams()

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "format\t%s\n", checkpoint.FormatName)
			_, _ = fmt.Fprintf(out, "schema_version\t%s\n", checkpoint.SchemaVersion)
			_, _ = fmt.Fprintf(out, "vocab_size\t%d\n", hp.VocabSize)
			_, _ = fmt.Fprintf(out, "d_model\t%d\n", hp.DModel)
			_, _ = fmt.Fprintf(out, "n_mels\t%d\n", hp.NMels)
			_, _ = fmt.Fprintf(out, "max_frames\t%d\n", hp.MaxFrames)
			_, _ = fmt.Fprintf(out, "gate_threshold\t%g\n", hp.GateThreshold)
			_, _ = fmt.Fprintf(out, "weights\t%d\n", len(ckpt.WeightNames()))

			return nil
		},
	}

	cmd.Flags().StringVarP(&checkpointPath, "checkpoint-path", "c", defaultCheckpointPath, "Checkpoint file to inspect")

	return cmd
}

func newCheckpointSmokeCmd() *cobra.Command {
	var modelPath string
	var inputName string
	var tokenCount int

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run one inference through an exported ONNX acoustic graph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if cfg.Paths.ORTLibraryPath == "" {
				return errors.New("no ONNX Runtime library configured; set --ort-lib or MELGV_ORT_LIB")
			}

			err = onnx.Smoke(cmd.Context(), onnx.SmokeOptions{
				ModelPath:  modelPath,
				ORTLibrary: cfg.Paths.ORTLibraryPath,
				InputName:  inputName,
				TokenCount: tokenCount,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "PASS %s\n", modelPath)

			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "model.onnx", "Exported ONNX acoustic graph")
	cmd.Flags().StringVar(&inputName, "input-name", "tokens", "Name of the token input")
	cmd.Flags().IntVar(&tokenCount, "token-count", 8, "Length of the zero token sequence fed in")

	return cmd
}
