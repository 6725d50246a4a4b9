package acoustic_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/go-melgv/internal/acoustic"
	"github.com/example/go-melgv/internal/checkpoint"
	"github.com/example/go-melgv/internal/safetensors"
	"github.com/example/go-melgv/internal/testutil"
)

func loadFixture(t *testing.T, opts testutil.CheckpointOptions) *acoustic.Model {
	t.Helper()

	path := filepath.Join(t.TempDir(), "checkpoint.safetensors")
	testutil.WriteCheckpoint(t, path, opts)

	ckpt, err := checkpoint.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(ckpt.Close)

	m, err := acoustic.Load(ckpt)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	return m
}

func TestSample_RunsToMaxFrames(t *testing.T) {
	m := loadFixture(t, testutil.CheckpointOptions{FrameValue: 1.5})
	hp := m.Hparams()

	out, err := m.Sample(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	shape := out.Shape()
	if shape[0] != int64(hp.MaxFrames) || shape[1] != int64(hp.NMels) {
		t.Fatalf("output shape = %v, want [%d %d]", shape, hp.MaxFrames, hp.NMels)
	}

	for i, v := range out.RawData() {
		if v != 1.5 {
			t.Fatalf("value %d = %v, want 1.5", i, v)
		}
	}
}

func TestSample_GateStopsGeneration(t *testing.T) {
	m := loadFixture(t, testutil.CheckpointOptions{FrameValue: 1, GateFires: true})

	out, err := m.Sample(context.Background(), []int64{0})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	// The frame whose gate fired is still emitted.
	if out.Shape()[0] != 1 {
		t.Fatalf("frames = %d, want 1", out.Shape()[0])
	}
}

func TestSample_Deterministic(t *testing.T) {
	m := loadFixture(t, testutil.CheckpointOptions{FrameValue: 0.25})

	a, err := m.Sample(context.Background(), []int64{4, 5})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	b, err := m.Sample(context.Background(), []int64{4, 5})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	ad, bd := a.RawData(), b.RawData()
	if len(ad) != len(bd) {
		t.Fatalf("output sizes differ: %d vs %d", len(ad), len(bd))
	}

	for i := range ad {
		if ad[i] != bd[i] {
			t.Fatalf("outputs differ at %d: %v vs %v", i, ad[i], bd[i])
		}
	}
}

func TestSample_NormaliserAffectsValuesNotLengths(t *testing.T) {
	opts := testutil.CheckpointOptions{
		FrameValue:     1,
		Normaliser:     true,
		NormaliserMean: 3,
		NormaliserScal: 2,
	}

	withNorm := loadFixture(t, opts)
	if !withNorm.NormaliserEnabled() {
		t.Fatal("normaliser should be loaded from the checkpoint")
	}

	out, err := withNorm.Sample(context.Background(), []int64{1})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	// frame*scale + mean = 1*2 + 3.
	if got := out.RawData()[0]; got != 5 {
		t.Fatalf("denormalised value = %v, want 5", got)
	}

	disabled := loadFixture(t, opts)
	disabled.DisableNormaliser()

	if disabled.NormaliserEnabled() {
		t.Fatal("DisableNormaliser should turn the stage off")
	}

	raw, err := disabled.Sample(context.Background(), []int64{1})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if got := raw.RawData()[0]; got != 1 {
		t.Fatalf("raw value = %v, want 1", got)
	}

	if raw.Shape()[0] != out.Shape()[0] {
		t.Fatalf("lengths differ with normaliser disabled: %d vs %d", raw.Shape()[0], out.Shape()[0])
	}
}

func TestSample_InputValidation(t *testing.T) {
	m := loadFixture(t, testutil.CheckpointOptions{})

	if _, err := m.Sample(context.Background(), nil); err == nil {
		t.Fatal("Sample should reject an empty token sequence")
	}

	if _, err := m.Sample(context.Background(), []int64{int64(m.Hparams().VocabSize)}); err == nil {
		t.Fatal("Sample should reject out-of-vocabulary tokens")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Sample(ctx, []int64{1}); err == nil {
		t.Fatal("Sample should observe context cancellation")
	}
}

func TestLoad_MissingWeight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.safetensors")

	hp := testutil.DefaultHparams()

	err := checkpoint.Save(path, hp, []safetensors.Tensor{
		{Name: "embedding.weight", Shape: []int64{int64(hp.VocabSize), int64(hp.DModel)}, Data: make([]float32, hp.VocabSize*hp.DModel)},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	ckpt, err := checkpoint.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ckpt.Close()

	if _, err := acoustic.Load(ckpt); err == nil {
		t.Fatal("Load should fail when decoder weights are missing")
	}

	if _, err := acoustic.Load(nil); err == nil {
		t.Fatal("Load should reject a nil checkpoint")
	}
}
