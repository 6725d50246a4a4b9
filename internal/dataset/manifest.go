// Package dataset loads the validation set: a JSON manifest of utterances
// with token sequences (or raw transcripts) and mel targets (stored tensors
// or audio that the analysis frontend converts).
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestVersion is the supported validation manifest schema version.
const ManifestVersion = 1

// Manifest describes a validation set on disk. Relative file references are
// resolved against the manifest's directory.
type Manifest struct {
	Version    int             `json:"version"`
	Utterances []ManifestEntry `json:"utterances"`

	baseDir string
}

// ManifestEntry is one validation utterance. Exactly one of Tokens or Text
// must be set, and exactly one of Mel or Audio.
type ManifestEntry struct {
	ID     string  `json:"id"`
	Tokens []int64 `json:"tokens,omitempty"`
	Text   string  `json:"text,omitempty"`
	Mel    string  `json:"mel,omitempty"`
	Audio  string  `json:"audio,omitempty"`
}

// ReadManifest loads and validates a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dataset: parse manifest %s: %w", path, err)
	}

	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("dataset: manifest version %d, want %d", m.Version, ManifestVersion)
	}

	if len(m.Utterances) == 0 {
		return nil, fmt.Errorf("dataset: manifest %s lists no utterances", path)
	}

	seen := make(map[string]struct{}, len(m.Utterances))

	for i, u := range m.Utterances {
		if u.ID == "" {
			return nil, fmt.Errorf("dataset: utterance %d has no id", i)
		}

		if _, dup := seen[u.ID]; dup {
			return nil, fmt.Errorf("dataset: duplicate utterance id %q", u.ID)
		}

		seen[u.ID] = struct{}{}

		if (len(u.Tokens) == 0) == (u.Text == "") {
			return nil, fmt.Errorf("dataset: utterance %q must set exactly one of tokens or text", u.ID)
		}

		if (u.Mel == "") == (u.Audio == "") {
			return nil, fmt.Errorf("dataset: utterance %q must set exactly one of mel or audio", u.ID)
		}
	}

	m.baseDir = filepath.Dir(path)

	return &m, nil
}

// Resolve maps a manifest-relative file reference to an absolute path.
func (m *Manifest) Resolve(ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}

	return filepath.Join(m.baseDir, ref)
}
