package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-melgv/internal/acoustic"
	"github.com/example/go-melgv/internal/checkpoint"
	"github.com/example/go-melgv/internal/config"
	"github.com/example/go-melgv/internal/dataset"
	"github.com/example/go-melgv/internal/gv"
	"github.com/example/go-melgv/internal/mel"
	"github.com/example/go-melgv/internal/tokenizer"
)

// ErrOutputExists is returned when the output file exists and --force was not
// given. The check runs before any model work.
var ErrOutputExists = errors.New("output file exists; pass --force to overwrite")

const (
	defaultCheckpointPath = "checkpoints/TestRun/checkpoint_50000.safetensors"
	defaultOutputPath     = "gv_parameters.safetensors"
)

func newGVCmd() *cobra.Command {
	var checkpointPath string
	var outputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "gv",
		Short: "Compute mel global variance statistics over the validation set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			return runGV(cmd, cfg, checkpointPath, outputPath, force)
		},
	}

	cmd.Flags().StringVarP(&checkpointPath, "checkpoint-path", "c", defaultCheckpointPath, "Trained acoustic model checkpoint")
	cmd.Flags().StringVarP(&outputPath, "output-file", "o", defaultOutputPath, "Output file for the GV statistics")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite the output file if it exists")

	return cmd
}

func runGV(cmd *cobra.Command, cfg config.Config, checkpointPath, outputPath string, force bool) error {
	// Refuse before any computation.
	if _, err := os.Stat(checkpointPath); err != nil {
		return fmt.Errorf("checkpoint %s: %w", checkpointPath, err)
	}

	if _, err := os.Stat(outputPath); err == nil && !force {
		return fmt.Errorf("%s: %w", outputPath, ErrOutputExists)
	}

	ckpt, err := checkpoint.Open(checkpointPath)
	if err != nil {
		return err
	}
	defer ckpt.Close()

	model, err := acoustic.Load(ckpt)
	if err != nil {
		return err
	}

	// Statistics are computed in the model's feature space.
	model.DisableNormaliser()

	hp := model.Hparams()
	if cfg.Mel.NMels != hp.NMels {
		return fmt.Errorf("mel.n_mels %d does not match checkpoint n_mels %d", cfg.Mel.NMels, hp.NMels)
	}

	iter, err := openValidationSet(cfg)
	if err != nil {
		return err
	}

	logger := slog.Default().With(slog.String("checkpoint", checkpointPath))
	logger.Info("computing global variance",
		slog.String("manifest", cfg.Paths.ValidationManifest),
		slog.Int("batch_size", cfg.Data.BatchSize))

	result, err := gv.Compute(cmd.Context(), model, iter, gv.Options{Logger: logger})
	if err != nil {
		return err
	}

	if err := gv.WriteResult(outputPath, result); err != nil {
		return err
	}

	logger.Info("global variance written",
		slog.String("output", outputPath),
		slog.Float64("mean_gv", result.MeanGV),
		slog.Float64("std_gv", result.StdGV),
		slog.Int("utterances", result.Utterances),
		slog.Int("frames", result.Frames))

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "mean_gv\t%g\nstd_gv\t%g\n", result.MeanGV, result.StdGV)

	return nil
}

// openValidationSet builds the batch iterator from the configured manifest,
// attaching a tokenizer and mel extractor only when the manifest needs them.
func openValidationSet(cfg config.Config) (*dataset.Iterator, error) {
	manifest, err := dataset.ReadManifest(cfg.Paths.ValidationManifest)
	if err != nil {
		return nil, err
	}

	opts := dataset.LoaderOptions{}

	if cfg.Paths.TokenizerModel != "" {
		tok, err := tokenizer.NewSentencePiece(cfg.Paths.TokenizerModel)
		if err != nil {
			return nil, err
		}

		opts.Tokenizer = tok
	}

	extractor, err := mel.NewExtractor(cfg.MelExtractorConfig())
	if err != nil {
		return nil, err
	}

	opts.Extractor = extractor

	loader, err := dataset.NewLoader(manifest, opts)
	if err != nil {
		return nil, err
	}

	return loader.Iter(cfg.Data.BatchSize, cfg.Data.FramesPerStep)
}
