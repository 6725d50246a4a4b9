// Package gv computes global variance statistics over the mel spectrograms a
// trained acoustic model predicts for a validation set. The statistics are the
// scalar mean and sample standard deviation of every valid spectrogram value,
// with padded frames excluded via length masks.
package gv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/example/go-melgv/internal/dataset"
	"github.com/example/go-melgv/internal/tensor"
)

// ErrEmptySelection is returned when masking leaves no spectrogram values to
// aggregate, for example when every sampled utterance has zero frames.
var ErrEmptySelection = errors.New("gv: no spectrogram values selected")

// Sampler produces a predicted mel spectrogram of shape [frames, n_mels] for
// a token sequence.
type Sampler interface {
	Sample(ctx context.Context, tokens []int64) (*tensor.Tensor, error)
}

// BatchSource yields collated validation batches until io.EOF.
type BatchSource interface {
	Next() (*dataset.Batch, error)
}

// Options configures a Compute run. The zero value is usable.
type Options struct {
	// Logger receives per-batch progress. Nil disables progress logging.
	Logger *slog.Logger
}

// Result holds the statistics of one full validation pass.
type Result struct {
	MeanGV     float64
	StdGV      float64
	Utterances int
	Frames     int
}

// Compute samples the model once per validation utterance and aggregates the
// predicted spectrogram values into a running mean and sample standard
// deviation. Predicted spectrograms within a batch are stacked into a padded
// block and the padding is masked out before aggregation, so batch
// composition never influences the result.
func Compute(ctx context.Context, sampler Sampler, batches BatchSource, opts Options) (*Result, error) {
	if sampler == nil {
		return nil, errors.New("gv: sampler is nil")
	}
	if batches == nil {
		return nil, errors.New("gv: batch source is nil")
	}

	var (
		stats      welford
		utterances int
		frames     int
		batchIndex int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gv: %w", err)
		}

		batch, err := batches.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gv: read batch %d: %w", batchIndex, err)
		}

		outputs := make([]*tensor.Tensor, 0, batch.Size())
		lengths := make([]int, 0, batch.Size())

		for i := 0; i < batch.Size(); i++ {
			out, err := sampler.Sample(ctx, batch.TruncatedTokens(i))
			if err != nil {
				return nil, fmt.Errorf("gv: sample utterance %d of batch %d: %w", i, batchIndex, err)
			}
			if out.Rank() != 2 {
				return nil, fmt.Errorf("gv: sampler returned rank %d output, want [frames, n_mels]", out.Rank())
			}

			outputs = append(outputs, out)
			lengths = append(lengths, int(out.Shape()[0]))
		}

		values, err := selectValid(outputs, lengths)
		if err != nil {
			return nil, fmt.Errorf("gv: batch %d: %w", batchIndex, err)
		}

		for _, v := range values {
			stats.Add(float64(v))
		}

		utterances += batch.Size()
		for _, n := range lengths {
			frames += n
		}

		if opts.Logger != nil {
			opts.Logger.Info("sampled batch",
				slog.Int("batch", batchIndex),
				slog.Int("utterances", utterances),
				slog.Int("frames", frames))
		}

		batchIndex++
	}

	if utterances == 0 {
		return nil, errors.New("gv: validation set is empty")
	}
	if stats.Count() == 0 {
		return nil, ErrEmptySelection
	}

	return &Result{
		MeanGV:     stats.Mean(),
		StdGV:      stats.SampleStandardDeviation(),
		Utterances: utterances,
		Frames:     frames,
	}, nil
}

// selectValid stacks ragged spectrograms into a padded block and masks the
// padding out again. Zero-length outputs contribute nothing.
func selectValid(outputs []*tensor.Tensor, lengths []int) ([]float32, error) {
	total := 0
	for _, n := range lengths {
		total += n
	}
	if total == 0 {
		return nil, nil
	}

	padded, err := tensor.PadStack(outputs)
	if err != nil {
		return nil, err
	}

	return tensor.MaskedSelect(padded, lengths)
}
