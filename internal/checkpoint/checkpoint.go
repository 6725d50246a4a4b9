// Package checkpoint defines the versioned on-disk schema for trained
// acoustic model snapshots. A checkpoint is a safetensors file whose header
// metadata identifies the format, the schema version and a JSON block of
// hyperparameters; the tensors are the model weights.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/go-melgv/internal/safetensors"
)

const (
	// FormatName identifies acoustic model checkpoints in safetensors metadata.
	FormatName = "melgv-acoustic"

	// SchemaVersion is the current checkpoint schema version.
	SchemaVersion = "1"
)

const (
	metaFormat  = "format"
	metaVersion = "schema_version"
	metaHparams = "hparams"
)

// Hparams are the hyperparameters stored alongside the model weights.
type Hparams struct {
	VocabSize     int     `json:"vocab_size"`
	DModel        int     `json:"d_model"`
	NMels         int     `json:"n_mels"`
	MaxFrames     int     `json:"max_frames"`
	GateThreshold float64 `json:"gate_threshold"`
}

// Validate rejects hyperparameter combinations no trained model can have.
func (h Hparams) Validate() error {
	if h.VocabSize <= 0 {
		return fmt.Errorf("checkpoint: vocab_size %d must be > 0", h.VocabSize)
	}

	if h.DModel <= 0 {
		return fmt.Errorf("checkpoint: d_model %d must be > 0", h.DModel)
	}

	if h.NMels <= 0 {
		return fmt.Errorf("checkpoint: n_mels %d must be > 0", h.NMels)
	}

	if h.MaxFrames <= 0 {
		return fmt.Errorf("checkpoint: max_frames %d must be > 0", h.MaxFrames)
	}

	if h.GateThreshold <= 0 || h.GateThreshold >= 1 {
		return fmt.Errorf("checkpoint: gate_threshold %v must be in (0, 1)", h.GateThreshold)
	}

	return nil
}

// Checkpoint is an opened, schema-validated model snapshot.
type Checkpoint struct {
	store   *safetensors.Store
	hparams Hparams
}

// Open loads a checkpoint file and validates its schema. The file must exist;
// a missing path is reported as a distinct error before any decode work.
func Open(path string) (*Checkpoint, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("checkpoint: stat %s: %w", path, err)
	}

	store, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}

	ckpt, err := fromStore(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	return ckpt, nil
}

// OpenBytes validates a checkpoint payload held in memory.
func OpenBytes(data []byte) (*Checkpoint, error) {
	store, err := safetensors.OpenBytes(data)
	if err != nil {
		return nil, err
	}

	ckpt, err := fromStore(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	return ckpt, nil
}

func fromStore(store *safetensors.Store) (*Checkpoint, error) {
	meta := store.Metadata()
	if meta == nil {
		return nil, fmt.Errorf("checkpoint: missing metadata; not a %s file", FormatName)
	}

	if got := meta[metaFormat]; got != FormatName {
		return nil, fmt.Errorf("checkpoint: format %q, want %q", got, FormatName)
	}

	if got := meta[metaVersion]; got != SchemaVersion {
		return nil, fmt.Errorf("checkpoint: unsupported schema version %q, want %q", got, SchemaVersion)
	}

	raw, ok := meta[metaHparams]
	if !ok {
		return nil, fmt.Errorf("checkpoint: metadata has no %q block", metaHparams)
	}

	var hp Hparams
	if err := json.Unmarshal([]byte(raw), &hp); err != nil {
		return nil, fmt.Errorf("checkpoint: decode hparams: %w", err)
	}

	if err := hp.Validate(); err != nil {
		return nil, err
	}

	return &Checkpoint{store: store, hparams: hp}, nil
}

func (c *Checkpoint) Hparams() Hparams {
	return c.hparams
}

// Vars returns a VarBuilder rooted at the checkpoint's weight tensors.
func (c *Checkpoint) Vars() *VarBuilder {
	return NewVarBuilder(c.store)
}

// WeightNames lists the stored weight tensors.
func (c *Checkpoint) WeightNames() []string {
	return c.store.Names()
}

func (c *Checkpoint) Close() {
	if c != nil && c.store != nil {
		c.store.Close()
	}
}

// Save writes hyperparameters and weights as a schema-versioned checkpoint file.
func Save(path string, hp Hparams, weights []safetensors.Tensor) error {
	if err := hp.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(hp)
	if err != nil {
		return fmt.Errorf("checkpoint: encode hparams: %w", err)
	}

	meta := map[string]string{
		metaFormat:  FormatName,
		metaVersion: SchemaVersion,
		metaHparams: string(raw),
	}

	return safetensors.WriteFile(path, weights, meta)
}
