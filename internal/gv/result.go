package gv

import (
	"fmt"
	"strconv"

	"github.com/example/go-melgv/internal/safetensors"
)

// FormatName identifies safetensors files written by WriteResult.
const FormatName = "melgv-gv"

const (
	metaFormat     = "format"
	metaUtterances = "utterances"
	metaFrames     = "frames"
)

// WriteResult persists a Result as a safetensors file with single-element
// mean_gv and std_gv tensors and provenance metadata.
func WriteResult(path string, r *Result) error {
	if r == nil {
		return fmt.Errorf("gv: write %s: result is nil", path)
	}

	tensors := []safetensors.Tensor{
		{Name: "mean_gv", Shape: []int64{1}, Data: []float32{float32(r.MeanGV)}},
		{Name: "std_gv", Shape: []int64{1}, Data: []float32{float32(r.StdGV)}},
	}

	metadata := map[string]string{
		metaFormat:     FormatName,
		metaUtterances: strconv.Itoa(r.Utterances),
		metaFrames:     strconv.Itoa(r.Frames),
	}

	if err := safetensors.WriteFile(path, tensors, metadata); err != nil {
		return fmt.Errorf("gv: write %s: %w", path, err)
	}

	return nil
}

// ReadResult loads a Result previously written by WriteResult.
func ReadResult(path string) (*Result, error) {
	store, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gv: read %s: %w", path, err)
	}
	defer store.Close()

	meta := store.Metadata()
	if got := meta[metaFormat]; got != FormatName {
		return nil, fmt.Errorf("gv: read %s: format %q, want %q", path, got, FormatName)
	}

	mean, err := store.TensorWithShape("mean_gv", []int64{1})
	if err != nil {
		return nil, fmt.Errorf("gv: read %s: %w", path, err)
	}

	std, err := store.TensorWithShape("std_gv", []int64{1})
	if err != nil {
		return nil, fmt.Errorf("gv: read %s: %w", path, err)
	}

	r := &Result{
		MeanGV: float64(mean.Data[0]),
		StdGV:  float64(std.Data[0]),
	}

	if v, ok := meta[metaUtterances]; ok {
		if r.Utterances, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("gv: read %s: utterances metadata %q: %w", path, v, err)
		}
	}

	if v, ok := meta[metaFrames]; ok {
		if r.Frames, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("gv: read %s: frames metadata %q: %w", path, v, err)
		}
	}

	return r, nil
}
