package gv

import (
	"context"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/example/go-melgv/internal/dataset"
	"github.com/example/go-melgv/internal/safetensors"
	"github.com/example/go-melgv/internal/tensor"
)

// frameSampler emits one frame per token, all values equal to base plus the
// first token ID. Frame counts therefore track token counts exactly.
type frameSampler struct {
	base     float32
	channels int
}

func (s frameSampler) Sample(_ context.Context, tokens []int64) (*tensor.Tensor, error) {
	value := s.base
	if len(tokens) > 0 {
		value += float32(tokens[0])
	}

	data := make([]float32, len(tokens)*s.channels)
	for i := range data {
		data[i] = value
	}

	return tensor.New(data, []int64{int64(len(tokens)), int64(s.channels)})
}

// sliceBatches replays a fixed batch sequence.
type sliceBatches struct {
	batches []*dataset.Batch
	pos     int
}

func (s *sliceBatches) Next() (*dataset.Batch, error) {
	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}

	b := s.batches[s.pos]
	s.pos++

	return b, nil
}

func batchFromTokens(t *testing.T, tokenSets [][]int64) *dataset.Batch {
	t.Helper()

	utts := make([]*dataset.Utterance, len(tokenSets))
	for i, tokens := range tokenSets {
		mel, err := tensor.Zeros([]int64{1, 2})
		if err != nil {
			t.Fatalf("tensor.Zeros: %v", err)
		}

		utts[i] = &dataset.Utterance{ID: "u", Tokens: tokens, Mel: mel}
	}

	batch, err := dataset.Collate(utts, 1)
	if err != nil {
		t.Fatalf("Collate: %v", err)
	}

	return batch
}

func TestCompute_ConstantOutputs(t *testing.T) {
	// Ragged lengths, constant value 2.0 everywhere: mean 2, std 0.
	batches := &sliceBatches{batches: []*dataset.Batch{
		batchFromTokens(t, [][]int64{make([]int64, 5), make([]int64, 3)}),
		batchFromTokens(t, [][]int64{make([]int64, 7)}),
	}}

	res, err := Compute(context.Background(), frameSampler{base: 2, channels: 4}, batches, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if res.MeanGV != 2 {
		t.Fatalf("MeanGV = %v, want 2", res.MeanGV)
	}
	if res.StdGV != 0 {
		t.Fatalf("StdGV = %v, want 0", res.StdGV)
	}
	if res.Utterances != 3 {
		t.Fatalf("Utterances = %d, want 3", res.Utterances)
	}
	if res.Frames != 15 {
		t.Fatalf("Frames = %d, want 15", res.Frames)
	}
}

func TestCompute_PaddingNeverInfluences(t *testing.T) {
	// Same utterances, different batch splits. Padding amounts differ between
	// the two runs but the statistics must not.
	tokenSets := [][]int64{
		{1, 1},
		{3, 3, 3, 3, 3},
		{7},
	}

	run := func(splits [][][]int64) *Result {
		bs := make([]*dataset.Batch, len(splits))
		for i, split := range splits {
			bs[i] = batchFromTokens(t, split)
		}

		res, err := Compute(context.Background(), frameSampler{channels: 3}, &sliceBatches{batches: bs}, Options{})
		if err != nil {
			t.Fatalf("Compute: %v", err)
		}

		return res
	}

	oneBatch := run([][][]int64{tokenSets})
	perUtterance := run([][][]int64{{tokenSets[0]}, {tokenSets[1]}, {tokenSets[2]}})

	if math.Abs(oneBatch.MeanGV-perUtterance.MeanGV) > 1e-12 {
		t.Fatalf("mean differs across batchings: %v vs %v", oneBatch.MeanGV, perUtterance.MeanGV)
	}
	if math.Abs(oneBatch.StdGV-perUtterance.StdGV) > 1e-12 {
		t.Fatalf("std differs across batchings: %v vs %v", oneBatch.StdGV, perUtterance.StdGV)
	}
}

func TestCompute_KnownStatistics(t *testing.T) {
	// Two utterances of one frame and one channel, values 1 and 3.
	// Mean 2, sample variance ((1-2)^2 + (3-2)^2) / (2-1) = 2.
	batches := &sliceBatches{batches: []*dataset.Batch{
		batchFromTokens(t, [][]int64{{1}, {3}}),
	}}

	res, err := Compute(context.Background(), frameSampler{channels: 1}, batches, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if math.Abs(res.MeanGV-2) > 1e-12 {
		t.Fatalf("MeanGV = %v, want 2", res.MeanGV)
	}
	if math.Abs(res.StdGV-math.Sqrt2) > 1e-12 {
		t.Fatalf("StdGV = %v, want sqrt(2)", res.StdGV)
	}
}

func TestCompute_SingleValue(t *testing.T) {
	batches := &sliceBatches{batches: []*dataset.Batch{
		batchFromTokens(t, [][]int64{{5}}),
	}}

	res, err := Compute(context.Background(), frameSampler{channels: 1}, batches, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if res.StdGV != 0 {
		t.Fatalf("StdGV = %v, want 0 for a single value", res.StdGV)
	}
	if math.IsNaN(res.MeanGV) || math.IsNaN(res.StdGV) {
		t.Fatal("statistics must never be NaN")
	}
}

func TestCompute_EmptyValidationSet(t *testing.T) {
	_, err := Compute(context.Background(), frameSampler{channels: 1}, &sliceBatches{}, Options{})
	if err == nil {
		t.Fatal("Compute over an empty validation set should fail")
	}
}

func TestCompute_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batches := &sliceBatches{batches: []*dataset.Batch{
		batchFromTokens(t, [][]int64{{1}}),
	}}

	if _, err := Compute(ctx, frameSampler{channels: 1}, batches, Options{}); err == nil {
		t.Fatal("Compute should observe context cancellation")
	}
}

func TestWelford_MatchesDirectComputation(t *testing.T) {
	values := []float64{2.5, -1, 0.25, 4, 4, -3.5}

	var w welford
	for _, v := range values {
		w.Add(v)
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	ss := 0.0
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	variance := ss / float64(len(values)-1)

	if math.Abs(w.Mean()-mean) > 1e-12 {
		t.Fatalf("Mean() = %v, want %v", w.Mean(), mean)
	}
	if math.Abs(w.SampleVariance()-variance) > 1e-12 {
		t.Fatalf("SampleVariance() = %v, want %v", w.SampleVariance(), variance)
	}
}

func TestResult_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gv_parameters.safetensors")

	want := &Result{MeanGV: -1.25, StdGV: 0.5, Utterances: 12, Frames: 340}
	if err := WriteResult(path, want); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	got, err := ReadResult(path)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}

	if math.Abs(got.MeanGV-want.MeanGV) > 1e-6 || math.Abs(got.StdGV-want.StdGV) > 1e-6 {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
	if got.Utterances != want.Utterances || got.Frames != want.Frames {
		t.Fatalf("counts = %d/%d, want %d/%d", got.Utterances, got.Frames, want.Utterances, want.Frames)
	}
}

func TestReadResult_WrongFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.safetensors")

	// A well-formed safetensors file without the expected format marker must
	// be rejected.
	err := safetensors.WriteFile(path, []safetensors.Tensor{
		{Name: "mean_gv", Shape: []int64{1}, Data: []float32{1}},
		{Name: "std_gv", Shape: []int64{1}, Data: []float32{0}},
	}, nil)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := ReadResult(path); err == nil {
		t.Fatal("ReadResult should reject a file without the format marker")
	}

	if _, err := ReadResult(filepath.Join(t.TempDir(), "missing.safetensors")); err == nil {
		t.Fatal("ReadResult should fail on a missing file")
	}
}
