// Package mel converts mono audio into log-mel-spectrogram tensors matching
// the acoustic model's training features.
package mel

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/r9y9/gossp/window"

	"github.com/example/go-melgv/internal/tensor"
)

const logFloor = 1e-5

// Config describes the analysis frontend.
type Config struct {
	SampleRate  int
	FrameLength int
	FrameShift  int
	NMels       int
	FMin        float64
	FMax        float64
}

// DefaultConfig matches the acoustic model's training frontend.
func DefaultConfig() Config {
	return Config{
		SampleRate:  24000,
		FrameLength: 1024,
		FrameShift:  256,
		NMels:       80,
		FMin:        0,
		FMax:        8000,
	}
}

func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("mel: sample rate %d must be > 0", c.SampleRate)
	}

	if c.FrameLength <= 0 || c.FrameShift <= 0 {
		return fmt.Errorf("mel: frame length %d and shift %d must be > 0", c.FrameLength, c.FrameShift)
	}

	if c.FrameShift > c.FrameLength {
		return fmt.Errorf("mel: frame shift %d exceeds frame length %d", c.FrameShift, c.FrameLength)
	}

	if c.NMels <= 0 {
		return fmt.Errorf("mel: n_mels %d must be > 0", c.NMels)
	}

	if c.FMax <= c.FMin {
		return fmt.Errorf("mel: fmax %v must exceed fmin %v", c.FMax, c.FMin)
	}

	if c.FMax > float64(c.SampleRate)/2 {
		return fmt.Errorf("mel: fmax %v exceeds Nyquist %v", c.FMax, float64(c.SampleRate)/2)
	}

	return nil
}

// Extractor computes log-mel spectrograms.
type Extractor struct {
	cfg     Config
	win     []float64
	filters [][]float64 // [NMels][FrameLength/2+1]
}

func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Extractor{
		cfg:     cfg,
		win:     window.CreateHanning(cfg.FrameLength),
		filters: melFilterbank(cfg),
	}, nil
}

func (e *Extractor) Config() Config {
	return e.cfg
}

// FromSamples computes a [T, NMels] log-mel tensor from mono samples. Input
// shorter than one frame is zero-padded to a single frame.
func (e *Extractor) FromSamples(samples []float64) (*tensor.Tensor, error) {
	if len(samples) == 0 {
		return nil, errors.New("mel: no samples")
	}

	if len(samples) < e.cfg.FrameLength {
		padded := make([]float64, e.cfg.FrameLength)
		copy(padded, samples)
		samples = padded
	}

	numFrames := (len(samples)-e.cfg.FrameLength)/e.cfg.FrameShift + 1
	bins := e.cfg.FrameLength/2 + 1

	out := make([]float32, 0, numFrames*e.cfg.NMels)
	frame := make([]float64, e.cfg.FrameLength)
	power := make([]float64, bins)

	for f := range numFrames {
		start := f * e.cfg.FrameShift

		for i := range frame {
			frame[i] = samples[start+i] * e.win[i]
		}

		spectrum := fft.FFTReal(frame)
		for i := range bins {
			power[i] = real(spectrum[i])*real(spectrum[i]) + imag(spectrum[i])*imag(spectrum[i])
		}

		for _, filter := range e.filters {
			var energy float64
			for i, w := range filter {
				if w != 0 {
					energy += w * power[i]
				}
			}

			out = append(out, float32(math.Log(math.Max(energy, logFloor))))
		}
	}

	return tensor.New(out, []int64{int64(numFrames), int64(e.cfg.NMels)})
}

func hzToMel(hz float64) float64 {
	return 1127.0 * math.Log(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Exp(mel/1127.0) - 1.0)
}

// melFilterbank builds triangular filters on the mel scale over FFT bins.
func melFilterbank(cfg Config) [][]float64 {
	bins := cfg.FrameLength/2 + 1
	melMin := hzToMel(cfg.FMin)
	melMax := hzToMel(cfg.FMax)

	// NMels+2 edge points define NMels overlapping triangles.
	edges := make([]float64, cfg.NMels+2)
	for i := range edges {
		mel := melMin + (melMax-melMin)*float64(i)/float64(cfg.NMels+1)
		edges[i] = melToHz(mel) * float64(cfg.FrameLength) / float64(cfg.SampleRate)
	}

	filters := make([][]float64, cfg.NMels)

	for m := range cfg.NMels {
		lo, center, hi := edges[m], edges[m+1], edges[m+2]
		filter := make([]float64, bins)

		for b := range bins {
			f := float64(b)

			switch {
			case f <= lo || f >= hi:
			case f <= center:
				if center > lo {
					filter[b] = (f - lo) / (center - lo)
				}
			default:
				if hi > center {
					filter[b] = (hi - f) / (hi - center)
				}
			}
		}

		filters[m] = filter
	}

	return filters
}
