package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-melgv/internal/gv"
	"github.com/example/go-melgv/internal/testutil"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

// fixture writes a checkpoint whose sampled frames are all 2.0 and a matching
// three-utterance manifest.
func fixture(t *testing.T) (checkpointPath, manifestPath string) {
	t.Helper()

	dir := t.TempDir()
	checkpointPath = filepath.Join(dir, "checkpoint.safetensors")

	hp := testutil.DefaultHparams()
	testutil.WriteCheckpoint(t, checkpointPath, testutil.CheckpointOptions{
		Hparams:    hp,
		FrameValue: 2,
	})

	manifestPath = testutil.WriteManifest(t, dir, hp.NMels, []testutil.ManifestEntry{
		{ID: "a", Tokens: []int64{1, 2, 3, 4, 5}, Mel: "a.safetensors"},
		{ID: "b", Tokens: []int64{6, 7, 8}, Mel: "b.safetensors"},
		{ID: "c", Tokens: []int64{9, 10, 11, 12, 13, 14, 15}, Mel: "c.safetensors"},
	})

	return checkpointPath, manifestPath
}

func gvArgs(checkpointPath, manifestPath, outputPath string, extra ...string) []string {
	args := []string{
		"gv",
		"-c", checkpointPath,
		"-o", outputPath,
		"--paths-validation-manifest", manifestPath,
		"--mel-n-mels", "3",
	}

	return append(args, extra...)
}

func TestGV_EndToEnd(t *testing.T) {
	checkpointPath, manifestPath := fixture(t)
	outputPath := filepath.Join(t.TempDir(), "gv_parameters.safetensors")

	out, err := runCLI(t, gvArgs(checkpointPath, manifestPath, outputPath)...)
	if err != nil {
		t.Fatalf("gv: %v\n%s", err, out)
	}

	if !strings.Contains(out, "mean_gv\t2") || !strings.Contains(out, "std_gv\t0") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	result, err := gv.ReadResult(outputPath)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}

	if result.MeanGV != 2 || result.StdGV != 0 {
		t.Fatalf("result = %+v, want mean 2 std 0", result)
	}

	if result.Utterances != 3 {
		t.Fatalf("utterances = %d, want 3", result.Utterances)
	}
}

func TestGV_RefusesMissingCheckpoint(t *testing.T) {
	_, manifestPath := fixture(t)
	outputPath := filepath.Join(t.TempDir(), "out.safetensors")

	missing := filepath.Join(t.TempDir(), "nope.safetensors")

	if _, err := runCLI(t, gvArgs(missing, manifestPath, outputPath)...); err == nil {
		t.Fatal("gv should refuse a missing checkpoint")
	}

	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Fatal("no output should be written on refusal")
	}
}

func TestGV_RefusesExistingOutputWithoutForce(t *testing.T) {
	checkpointPath, manifestPath := fixture(t)
	outputPath := filepath.Join(t.TempDir(), "out.safetensors")

	if err := os.WriteFile(outputPath, []byte("existing"), 0o644); err != nil {
		t.Fatalf("write existing output: %v", err)
	}

	_, err := runCLI(t, gvArgs(checkpointPath, manifestPath, outputPath)...)
	if !errors.Is(err, ErrOutputExists) {
		t.Fatalf("err = %v, want ErrOutputExists", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil || string(data) != "existing" {
		t.Fatalf("existing output must stay untouched, got %q (%v)", data, err)
	}
}

func TestGV_ForceOverwritesAndIsIdempotent(t *testing.T) {
	checkpointPath, manifestPath := fixture(t)
	outputPath := filepath.Join(t.TempDir(), "out.safetensors")

	if _, err := runCLI(t, gvArgs(checkpointPath, manifestPath, outputPath)...); err != nil {
		t.Fatalf("first run: %v", err)
	}

	first, err := gv.ReadResult(outputPath)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}

	if _, err := runCLI(t, gvArgs(checkpointPath, manifestPath, outputPath, "--force")...); err != nil {
		t.Fatalf("forced rerun: %v", err)
	}

	second, err := gv.ReadResult(outputPath)
	if err != nil {
		t.Fatalf("ReadResult after rerun: %v", err)
	}

	if *first != *second {
		t.Fatalf("reruns differ: %+v vs %+v", first, second)
	}
}

func TestGV_RejectsMelMismatch(t *testing.T) {
	checkpointPath, manifestPath := fixture(t)
	outputPath := filepath.Join(t.TempDir(), "out.safetensors")

	args := []string{
		"gv",
		"-c", checkpointPath,
		"-o", outputPath,
		"--paths-validation-manifest", manifestPath,
		"--mel-n-mels", "80",
	}

	if _, err := runCLI(t, args...); err == nil {
		t.Fatal("gv should reject a mel channel mismatch")
	}
}

func TestGV_BatchSizeDoesNotChangeResult(t *testing.T) {
	checkpointPath, manifestPath := fixture(t)

	outA := filepath.Join(t.TempDir(), "a.safetensors")
	outB := filepath.Join(t.TempDir(), "b.safetensors")

	if _, err := runCLI(t, gvArgs(checkpointPath, manifestPath, outA, "--data-batch-size", "1")...); err != nil {
		t.Fatalf("batch size 1: %v", err)
	}

	if _, err := runCLI(t, gvArgs(checkpointPath, manifestPath, outB, "--data-batch-size", "3")...); err != nil {
		t.Fatalf("batch size 3: %v", err)
	}

	a, err := gv.ReadResult(outA)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}

	b, err := gv.ReadResult(outB)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}

	if *a != *b {
		t.Fatalf("results differ across batch sizes: %+v vs %+v", a, b)
	}
}
