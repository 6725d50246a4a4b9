// Package testutil provides shared fixtures and skip helpers for tests.
//
// The checkpoint fixtures build fully valid acoustic checkpoints whose
// sampled output is analytically known, so end-to-end tests can assert exact
// statistics without a trained model.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-melgv/internal/checkpoint"
	"github.com/example/go-melgv/internal/safetensors"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks the ORT_LIBRARY_PATH env var, then the MELGV_ORT_LIB env
// var, then common system library paths, and returns the first path found.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "MELGV_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			_, err := os.Stat(p)
			if err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or MELGV_ORT_LIB")

	return ""
}

// CheckpointOptions shapes the fixture written by WriteCheckpoint.
type CheckpointOptions struct {
	Hparams checkpoint.Hparams
	// FrameValue is the constant every predicted frame holds before
	// denormalisation.
	FrameValue float32
	// Normaliser adds normaliser.mean and normaliser.scale tensors with the
	// given constants, so tests can observe whether denormalisation ran.
	Normaliser     bool
	NormaliserMean float32
	NormaliserScal float32
	// GateFires makes the stop gate trigger on the first frame, so sampling
	// returns exactly one frame regardless of MaxFrames.
	GateFires bool
}

// DefaultHparams returns small hyperparameters suitable for fast tests.
func DefaultHparams() checkpoint.Hparams {
	return checkpoint.Hparams{
		VocabSize:     16,
		DModel:        4,
		NMels:         3,
		MaxFrames:     10,
		GateThreshold: 0.5,
	}
}

// WriteCheckpoint writes a valid acoustic checkpoint whose weights are all
// zero except the frame head bias. With zero weights the recurrent state
// stays at zero, the gate never fires and sampling always produces exactly
// MaxFrames frames of FrameValue (scaled and shifted by the normaliser when
// one is present).
func WriteCheckpoint(tb testing.TB, path string, opts CheckpointOptions) {
	tb.Helper()

	hp := opts.Hparams
	if hp.VocabSize == 0 {
		hp = DefaultHparams()
	}

	v := int64(hp.VocabSize)
	d := int64(hp.DModel)
	m := int64(hp.NMels)

	zeros := func(shape ...int64) safetensors.Tensor {
		n := int64(1)
		for _, s := range shape {
			n *= s
		}

		return safetensors.Tensor{Shape: shape, Data: make([]float32, n)}
	}

	named := func(name string, t safetensors.Tensor) safetensors.Tensor {
		t.Name = name
		return t
	}

	frameBias := make([]float32, m)
	for i := range frameBias {
		frameBias[i] = opts.FrameValue
	}

	// A strongly negative gate bias keeps sigmoid(gate) under any sane
	// threshold for the whole run.
	gateBias := []float32{-20}
	if opts.GateFires {
		gateBias[0] = 20
	}

	weights := []safetensors.Tensor{
		named("embedding.weight", zeros(v, d)),
		named("encoder.proj.weight", zeros(d, d)),
		named("encoder.proj.bias", zeros(d)),
		named("decoder.prenet.weight", zeros(d, m)),
		named("decoder.prenet.bias", zeros(d)),
		named("decoder.gru.update.weight", zeros(d, 2*d)),
		named("decoder.gru.update.bias", zeros(d)),
		named("decoder.gru.reset.weight", zeros(d, 2*d)),
		named("decoder.gru.reset.bias", zeros(d)),
		named("decoder.gru.candidate.weight", zeros(d, 2*d)),
		named("decoder.gru.candidate.bias", zeros(d)),
		named("decoder.frame.weight", zeros(m, d)),
		{Name: "decoder.frame.bias", Shape: []int64{m}, Data: frameBias},
		named("decoder.gate.weight", zeros(1, d)),
		{Name: "decoder.gate.bias", Shape: []int64{1}, Data: gateBias},
	}

	if opts.Normaliser {
		mean := make([]float32, m)
		scale := make([]float32, m)
		for i := range mean {
			mean[i] = opts.NormaliserMean
			scale[i] = opts.NormaliserScal
		}

		weights = append(weights,
			safetensors.Tensor{Name: "normaliser.mean", Shape: []int64{m}, Data: mean},
			safetensors.Tensor{Name: "normaliser.scale", Shape: []int64{m}, Data: scale},
		)
	}

	if err := checkpoint.Save(path, hp, weights); err != nil {
		tb.Fatalf("write checkpoint fixture: %v", err)
	}
}

// ManifestEntry mirrors the validation manifest schema for fixture writing.
type ManifestEntry struct {
	ID     string  `json:"id"`
	Tokens []int64 `json:"tokens,omitempty"`
	Text   string  `json:"text,omitempty"`
	Mel    string  `json:"mel,omitempty"`
	Audio  string  `json:"audio,omitempty"`
}

// WriteManifest writes a version-1 validation manifest into dir and returns
// its path. Each entry that names a mel file also gets a small safetensors
// spectrogram written next to the manifest.
func WriteManifest(tb testing.TB, dir string, nMels int, entries []ManifestEntry) string {
	tb.Helper()

	for _, e := range entries {
		if e.Mel == "" {
			continue
		}

		frames := len(e.Tokens)
		if frames == 0 {
			frames = 1
		}

		data := make([]float32, frames*nMels)

		err := safetensors.WriteFile(filepath.Join(dir, e.Mel), []safetensors.Tensor{
			{Name: "mel", Shape: []int64{int64(frames), int64(nMels)}, Data: data},
		}, nil)
		if err != nil {
			tb.Fatalf("write mel fixture %s: %v", e.Mel, err)
		}
	}

	doc := map[string]any{"version": 1, "utterances": entries}

	data, err := json.Marshal(doc)
	if err != nil {
		tb.Fatalf("marshal manifest fixture: %v", err)
	}

	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write manifest fixture: %v", err)
	}

	return path
}
