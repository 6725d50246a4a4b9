package dataset

import (
	"errors"
	"fmt"
	"io"

	"github.com/example/go-melgv/internal/tensor"
)

// Batch is a collated group of utterances: right-padded token sequences with
// their true lengths, padded mel targets, per-frame gate (stop) targets and
// true mel lengths. Padding is zero everywhere except the gate targets, which
// are 1 from each utterance's final valid frame onward.
type Batch struct {
	TextPadded  [][]int64
	TextLengths []int
	MelPadded   *tensor.Tensor // [B, maxT, n_mels]
	GatePadded  *tensor.Tensor // [B, maxT]
	MelLengths  []int
}

// Size returns the number of utterances in the batch.
func (b *Batch) Size() int {
	return len(b.TextLengths)
}

// MaxTextLength returns the longest true token length in the batch.
func (b *Batch) MaxTextLength() int {
	maxLen := 0
	for _, l := range b.TextLengths {
		if l > maxLen {
			maxLen = l
		}
	}

	return maxLen
}

// TruncatedTokens returns row i's tokens cut back to their true length.
func (b *Batch) TruncatedTokens(i int) []int64 {
	return b.TextPadded[i][:b.TextLengths[i]]
}

// Collate pads a group of utterances into a Batch. Mel lengths are rounded up
// to a multiple of framesPerStep before padding, mirroring the decoder's
// frame grouping.
func Collate(utts []*Utterance, framesPerStep int) (*Batch, error) {
	if len(utts) == 0 {
		return nil, errors.New("dataset: collate requires at least one utterance")
	}

	if framesPerStep <= 0 {
		return nil, fmt.Errorf("dataset: frames per step %d must be > 0", framesPerStep)
	}

	maxText := 0
	maxFrames := 0
	channels := int64(0)

	for i, u := range utts {
		if u == nil {
			return nil, fmt.Errorf("dataset: collate utterance %d is nil", i)
		}

		if len(u.Tokens) > maxText {
			maxText = len(u.Tokens)
		}

		shape := u.Mel.Shape()
		if len(shape) != 2 {
			return nil, fmt.Errorf("dataset: utterance %q mel rank %d, want 2", u.ID, len(shape))
		}

		if channels == 0 {
			channels = shape[1]
		} else if shape[1] != channels {
			return nil, fmt.Errorf("dataset: utterance %q has %d mel channels, want %d", u.ID, shape[1], channels)
		}

		if int(shape[0]) > maxFrames {
			maxFrames = int(shape[0])
		}
	}

	if rem := maxFrames % framesPerStep; rem != 0 {
		maxFrames += framesPerStep - rem
	}

	batch := &Batch{
		TextPadded:  make([][]int64, len(utts)),
		TextLengths: make([]int, len(utts)),
		MelLengths:  make([]int, len(utts)),
	}

	melData := make([]float32, len(utts)*maxFrames*int(channels))
	gateData := make([]float32, len(utts)*maxFrames)

	for i, u := range utts {
		row := make([]int64, maxText)
		copy(row, u.Tokens)
		batch.TextPadded[i] = row
		batch.TextLengths[i] = len(u.Tokens)

		frames := int(u.Mel.Shape()[0])
		batch.MelLengths[i] = frames

		copy(melData[i*maxFrames*int(channels):], u.Mel.RawData())

		// Stop target fires on the last valid frame and stays high through
		// the padding region.
		gateRow := gateData[i*maxFrames : (i+1)*maxFrames]

		start := frames - 1
		if start < 0 {
			start = 0
		}

		for t := start; t < maxFrames; t++ {
			gateRow[t] = 1
		}
	}

	melPadded, err := tensor.New(melData, []int64{int64(len(utts)), int64(maxFrames), channels})
	if err != nil {
		return nil, err
	}

	gatePadded, err := tensor.New(gateData, []int64{int64(len(utts)), int64(maxFrames)})
	if err != nil {
		return nil, err
	}

	batch.MelPadded = melPadded
	batch.GatePadded = gatePadded

	return batch, nil
}

// Iterator yields collated batches over a loader in declared order.
type Iterator struct {
	loader        *Loader
	batchSize     int
	framesPerStep int
	pos           int
}

// Iter creates a batch iterator. Iteration is sequential and deterministic;
// the last batch may be smaller than batchSize.
func (l *Loader) Iter(batchSize, framesPerStep int) (*Iterator, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size %d must be > 0", batchSize)
	}

	if framesPerStep <= 0 {
		return nil, fmt.Errorf("dataset: frames per step %d must be > 0", framesPerStep)
	}

	return &Iterator{loader: l, batchSize: batchSize, framesPerStep: framesPerStep}, nil
}

// Next returns the next batch, or io.EOF when the validation set is exhausted.
func (it *Iterator) Next() (*Batch, error) {
	if it.pos >= it.loader.Len() {
		return nil, io.EOF
	}

	end := it.pos + it.batchSize
	if end > it.loader.Len() {
		end = it.loader.Len()
	}

	utts := make([]*Utterance, 0, end-it.pos)

	for i := it.pos; i < end; i++ {
		u, err := it.loader.Utterance(i)
		if err != nil {
			return nil, err
		}

		utts = append(utts, u)
	}

	it.pos = end

	return Collate(utts, it.framesPerStep)
}
