// Package onnx runs a single inference through an exported ONNX copy of the
// acoustic model to confirm the graph loads and executes under ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

const defaultAPIVersion = 23

// SmokeOptions configures a smoke run against one exported model file.
type SmokeOptions struct {
	// ModelPath is the ONNX graph to load.
	ModelPath string
	// ORTLibrary is the path to the ONNX Runtime shared library.
	ORTLibrary string
	// ORTAPIVersion selects the runtime API revision. Zero uses the default.
	ORTAPIVersion uint32
	// InputName is the token input of the graph.
	InputName string
	// TokenCount controls the size of the zero token sequence fed in.
	TokenCount int
}

// Smoke loads the model, feeds it a [1, TokenCount] tensor of zero token IDs
// and runs one inference. A nil error means the graph loaded and produced at
// least one output.
func Smoke(ctx context.Context, opts SmokeOptions) error {
	if opts.ModelPath == "" {
		return errors.New("onnx: model path is required")
	}
	if opts.ORTLibrary == "" {
		return errors.New("onnx: runtime library path is required")
	}
	if opts.InputName == "" {
		opts.InputName = "tokens"
	}
	if opts.TokenCount <= 0 {
		opts.TokenCount = 8
	}
	if opts.ORTAPIVersion == 0 {
		opts.ORTAPIVersion = defaultAPIVersion
	}

	runtime, err := ort.NewRuntime(opts.ORTLibrary, opts.ORTAPIVersion)
	if err != nil {
		return fmt.Errorf("onnx: initialize runtime (lib=%q api=%d): %w", opts.ORTLibrary, opts.ORTAPIVersion, err)
	}
	defer func() { _ = runtime.Close() }()

	env, err := runtime.NewEnv("melgv-checkpoint-smoke", ort.LoggingLevelWarning)
	if err != nil {
		return fmt.Errorf("onnx: create env: %w", err)
	}
	defer env.Close()

	session, err := runtime.NewSession(env, opts.ModelPath, nil)
	if err != nil {
		return fmt.Errorf("onnx: load %s: %w", opts.ModelPath, err)
	}
	defer session.Close()

	tokens := make([]int64, opts.TokenCount)

	value, err := ort.NewTensorValue(runtime, tokens, []int64{1, int64(opts.TokenCount)})
	if err != nil {
		return fmt.Errorf("onnx: build token tensor: %w", err)
	}
	defer value.Close()

	outputs, err := session.Run(ctx, map[string]*ort.Value{opts.InputName: value})
	if err != nil {
		return fmt.Errorf("onnx: run inference: %w", err)
	}

	for _, out := range outputs {
		out.Close()
	}

	if len(outputs) == 0 {
		return errors.New("onnx: inference produced no outputs")
	}

	return nil
}
