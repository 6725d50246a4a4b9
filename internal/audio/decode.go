// Package audio decodes validation-set recordings into mono sample vectors.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/wav"
	"github.com/mewkiz/flac"
)

// ErrFormatMismatch is returned when a decoded file does not match the
// expected mono layout.
var ErrFormatMismatch = errors.New("audio format mismatch")

// DecodeFile decodes a WAV or FLAC file (by extension) into float64 samples
// in [-1, 1] and returns the sample rate.
func DecodeFile(path string) ([]float64, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("audio: read %s: %w", path, err)
		}

		return DecodeWAV(data)
	case ".flac":
		return DecodeFLAC(path)
	default:
		return nil, 0, fmt.Errorf("audio: unsupported file extension %q", filepath.Ext(path))
	}
}

// DecodeWAV decodes WAV bytes and returns float64 PCM samples and the sample
// rate. Only mono input is accepted.
func DecodeWAV(data []byte) ([]float64, int, error) {
	if len(data) == 0 {
		return nil, 0, errors.New("audio: empty WAV input")
	}

	r := bytes.NewReader(data)
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("audio: invalid WAV file")
	}

	if dec.NumChans != 1 {
		return nil, 0, fmt.Errorf("%w: channels %d, want 1", ErrFormatMismatch, dec.NumChans)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: reading PCM data: %w", err)
	}

	// The cwbudde/wav decoder returns float32 samples already normalised to
	// [-1, 1], so no bit-depth scaling is needed here (unlike the FLAC path).
	out := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float64(v)
	}

	return out, int(dec.SampleRate), nil
}

// DecodeFLAC decodes a FLAC file into float64 samples and the sample rate.
// Only mono input is accepted.
func DecodeFLAC(path string) ([]float64, int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: parse flac %s: %w", path, err)
	}
	defer stream.Close()

	if stream.Info.NChannels != 1 {
		return nil, 0, fmt.Errorf("%w: channels %d, want 1", ErrFormatMismatch, stream.Info.NChannels)
	}

	scale := 1.0 / float64(int64(1)<<(stream.Info.BitsPerSample-1))

	var out []float64

	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, 0, fmt.Errorf("audio: decode flac frame: %w", err)
		}

		for _, sample := range frame.Subframes[0].Samples {
			out = append(out, float64(sample)*scale)
		}
	}

	return out, int(stream.Info.SampleRate), nil
}
