package dataset

import (
	"errors"
	"fmt"

	"github.com/example/go-melgv/internal/audio"
	"github.com/example/go-melgv/internal/mel"
	"github.com/example/go-melgv/internal/safetensors"
	"github.com/example/go-melgv/internal/tensor"
	"github.com/example/go-melgv/internal/tokenizer"
)

// Utterance is one loaded validation example.
type Utterance struct {
	ID     string
	Tokens []int64
	Mel    *tensor.Tensor // [T, n_mels]
}

// LoaderOptions wires the collaborators a manifest may need. Tokenizer is
// required only when the manifest carries raw transcripts; Extractor only
// when it references audio files.
type LoaderOptions struct {
	Tokenizer tokenizer.Tokenizer
	Extractor *mel.Extractor
}

// Loader reads utterances from a validation manifest in declared order.
type Loader struct {
	manifest *Manifest
	opts     LoaderOptions
}

// NewLoader validates that the manifest's requirements are satisfied by the
// provided options.
func NewLoader(manifest *Manifest, opts LoaderOptions) (*Loader, error) {
	if manifest == nil {
		return nil, errors.New("dataset: nil manifest")
	}

	for _, u := range manifest.Utterances {
		if u.Text != "" && opts.Tokenizer == nil {
			return nil, fmt.Errorf("dataset: utterance %q has raw text but no tokenizer is configured", u.ID)
		}

		if u.Audio != "" && opts.Extractor == nil {
			return nil, fmt.Errorf("dataset: utterance %q references audio but no mel extractor is configured", u.ID)
		}
	}

	return &Loader{manifest: manifest, opts: opts}, nil
}

func (l *Loader) Len() int {
	return len(l.manifest.Utterances)
}

// Utterance loads the i-th validation example.
func (l *Loader) Utterance(i int) (*Utterance, error) {
	if i < 0 || i >= l.Len() {
		return nil, fmt.Errorf("dataset: utterance index %d out of range [0, %d)", i, l.Len())
	}

	entry := l.manifest.Utterances[i]

	tokens := entry.Tokens
	if len(tokens) == 0 {
		encoded, err := l.opts.Tokenizer.Encode(entry.Text)
		if err != nil {
			return nil, fmt.Errorf("dataset: tokenize %q: %w", entry.ID, err)
		}

		tokens = encoded
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("dataset: utterance %q produced no tokens", entry.ID)
	}

	melTarget, err := l.loadMel(entry)
	if err != nil {
		return nil, err
	}

	return &Utterance{
		ID:     entry.ID,
		Tokens: append([]int64(nil), tokens...),
		Mel:    melTarget,
	}, nil
}

func (l *Loader) loadMel(entry ManifestEntry) (*tensor.Tensor, error) {
	if entry.Mel != "" {
		store, err := safetensors.Open(l.manifest.Resolve(entry.Mel))
		if err != nil {
			return nil, fmt.Errorf("dataset: utterance %q mel: %w", entry.ID, err)
		}
		defer store.Close()

		st, err := store.Tensor("mel")
		if err != nil {
			return nil, fmt.Errorf("dataset: utterance %q mel: %w", entry.ID, err)
		}

		if len(st.Shape) != 2 {
			return nil, fmt.Errorf("dataset: utterance %q mel has shape %v, want [T, n_mels]", entry.ID, st.Shape)
		}

		return tensor.New(st.Data, st.Shape)
	}

	samples, rate, err := audio.DecodeFile(l.manifest.Resolve(entry.Audio))
	if err != nil {
		return nil, fmt.Errorf("dataset: utterance %q audio: %w", entry.ID, err)
	}

	if want := l.opts.Extractor.Config().SampleRate; rate != want {
		return nil, fmt.Errorf("dataset: utterance %q sample rate %d, want %d", entry.ID, rate, want)
	}

	melTarget, err := l.opts.Extractor.FromSamples(samples)
	if err != nil {
		return nil, fmt.Errorf("dataset: utterance %q mel extraction: %w", entry.ID, err)
	}

	return melTarget, nil
}
