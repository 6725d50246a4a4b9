// Package acoustic implements the native text-to-mel acoustic model used for
// offline analysis. Weights are loaded from a schema-versioned checkpoint and
// sampling is fully deterministic.
package acoustic

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/go-melgv/internal/checkpoint"
	"github.com/example/go-melgv/internal/tensor"
)

// Model is a trained acoustic model restored from a checkpoint.
type Model struct {
	hp checkpoint.Hparams

	embedding *tensor.Tensor // [vocab, d]

	encProjW *tensor.Tensor // [d, d]
	encProjB *tensor.Tensor // [d]

	prenetW *tensor.Tensor // [d, n_mels]
	prenetB *tensor.Tensor // [d]

	gruUpdateW    *tensor.Tensor // [d, 2d]
	gruUpdateB    *tensor.Tensor // [d]
	gruResetW     *tensor.Tensor // [d, 2d]
	gruResetB     *tensor.Tensor // [d]
	gruCandidateW *tensor.Tensor // [d, 2d]
	gruCandidateB *tensor.Tensor // [d]

	frameW *tensor.Tensor // [n_mels, d]
	frameB *tensor.Tensor // [n_mels]
	gateW  *tensor.Tensor // [1, d]
	gateB  *tensor.Tensor // [1]

	normaliser *Normaliser
}

// Load restores a model from an opened checkpoint, validating every weight
// shape against the stored hyperparameters.
func Load(ckpt *checkpoint.Checkpoint) (*Model, error) {
	if ckpt == nil {
		return nil, errors.New("acoustic: nil checkpoint")
	}

	hp := ckpt.Hparams()
	d := int64(hp.DModel)
	mels := int64(hp.NMels)
	vocab := int64(hp.VocabSize)

	vb := ckpt.Vars()
	m := &Model{hp: hp}

	var err error

	load := func(dst **tensor.Tensor, name string, shape ...int64) {
		if err != nil {
			return
		}

		*dst, err = vb.Tensor(name, shape...)
	}

	load(&m.embedding, "embedding.weight", vocab, d)
	load(&m.encProjW, "encoder.proj.weight", d, d)
	load(&m.encProjB, "encoder.proj.bias", d)
	load(&m.prenetW, "decoder.prenet.weight", d, mels)
	load(&m.prenetB, "decoder.prenet.bias", d)
	load(&m.gruUpdateW, "decoder.gru.update.weight", d, 2*d)
	load(&m.gruUpdateB, "decoder.gru.update.bias", d)
	load(&m.gruResetW, "decoder.gru.reset.weight", d, 2*d)
	load(&m.gruResetB, "decoder.gru.reset.bias", d)
	load(&m.gruCandidateW, "decoder.gru.candidate.weight", d, 2*d)
	load(&m.gruCandidateB, "decoder.gru.candidate.bias", d)
	load(&m.frameW, "decoder.frame.weight", mels, d)
	load(&m.frameB, "decoder.frame.bias", mels)
	load(&m.gateW, "decoder.gate.weight", 1, d)
	load(&m.gateB, "decoder.gate.bias", 1)

	if err != nil {
		return nil, err
	}

	norm, err := loadNormaliser(vb, int(mels))
	if err != nil {
		return nil, err
	}

	m.normaliser = norm

	return m, nil
}

func (m *Model) Hparams() checkpoint.Hparams {
	return m.hp
}

// DisableNormaliser turns off the output denormalisation stage, so sampled
// frames stay in the model's internal feature space. The recurrence already
// runs on pre-normaliser frames, so output lengths are unaffected.
func (m *Model) DisableNormaliser() {
	if m != nil {
		m.normaliser = nil
	}
}

// NormaliserEnabled reports whether the output denormalisation stage is active.
func (m *Model) NormaliserEnabled() bool {
	return m != nil && m.normaliser != nil
}

// Sample runs the autoregressive decoder over one utterance's token sequence
// and returns a variable-length [T, n_mels] mel-spectrogram. Generation stops
// when the gate output crosses the checkpoint's gate threshold, or after
// max_frames steps.
func (m *Model) Sample(ctx context.Context, tokens []int64) (*tensor.Tensor, error) {
	if m == nil {
		return nil, errors.New("acoustic: sample on nil model")
	}

	if len(tokens) == 0 {
		return nil, errors.New("acoustic: token sequence must not be empty")
	}

	condition, err := m.encode(tokens)
	if err != nil {
		return nil, err
	}

	d := m.hp.DModel
	mels := m.hp.NMels
	threshold := float32(m.hp.GateThreshold)

	hidden := append([]float32(nil), condition...)
	prevFrame := make([]float32, mels)

	var frames []float32
	frameCount := 0

	for step := range m.hp.MaxFrames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		x, err := m.linear(m.prenetW, m.prenetB, prevFrame)
		if err != nil {
			return nil, fmt.Errorf("acoustic: step %d prenet: %w", step, err)
		}

		tanhInPlace(x)

		xh := make([]float32, 0, 2*d)
		xh = append(xh, x...)
		xh = append(xh, hidden...)

		update, err := m.linear(m.gruUpdateW, m.gruUpdateB, xh)
		if err != nil {
			return nil, fmt.Errorf("acoustic: step %d update gate: %w", step, err)
		}

		sigmoidInPlace(update)

		reset, err := m.linear(m.gruResetW, m.gruResetB, xh)
		if err != nil {
			return nil, fmt.Errorf("acoustic: step %d reset gate: %w", step, err)
		}

		sigmoidInPlace(reset)

		xrh := make([]float32, 0, 2*d)
		xrh = append(xrh, x...)
		for i, h := range hidden {
			xrh = append(xrh, reset[i]*h)
		}

		candidate, err := m.linear(m.gruCandidateW, m.gruCandidateB, xrh)
		if err != nil {
			return nil, fmt.Errorf("acoustic: step %d candidate: %w", step, err)
		}

		tanhInPlace(candidate)

		for i := range hidden {
			hidden[i] = (1-update[i])*hidden[i] + update[i]*candidate[i]
		}

		frame, err := m.linear(m.frameW, m.frameB, hidden)
		if err != nil {
			return nil, fmt.Errorf("acoustic: step %d frame head: %w", step, err)
		}

		gate, err := m.linear(m.gateW, m.gateB, hidden)
		if err != nil {
			return nil, fmt.Errorf("acoustic: step %d gate head: %w", step, err)
		}

		// The recurrence consumes the model-space frame; denormalisation only
		// affects what is emitted.
		copy(prevFrame, frame)

		if m.normaliser != nil {
			m.normaliser.Denormalise(frame)
		}

		frames = append(frames, frame...)
		frameCount++

		if sigmoid(gate[0]) >= threshold {
			break
		}
	}

	return tensor.New(frames, []int64{int64(frameCount), int64(mels)})
}

// encode produces the d-dimensional utterance condition vector from token IDs.
func (m *Model) encode(tokens []int64) ([]float32, error) {
	d := m.hp.DModel
	emb := m.embedding.RawData()

	pooled := make([]float32, d)

	for i, id := range tokens {
		if id < 0 || id >= int64(m.hp.VocabSize) {
			return nil, fmt.Errorf("acoustic: token %d (%d) out of vocabulary range [0, %d)", i, id, m.hp.VocabSize)
		}

		row := emb[id*int64(d) : (id+1)*int64(d)]
		for j, v := range row {
			pooled[j] += v
		}
	}

	inv := float32(1.0 / float64(len(tokens)))
	for j := range pooled {
		pooled[j] *= inv
	}

	condition, err := m.linear(m.encProjW, m.encProjB, pooled)
	if err != nil {
		return nil, fmt.Errorf("acoustic: encoder projection: %w", err)
	}

	tanhInPlace(condition)

	return condition, nil
}

func (m *Model) linear(weight, bias *tensor.Tensor, x []float32) ([]float32, error) {
	xt, err := tensor.New(x, []int64{1, int64(len(x))})
	if err != nil {
		return nil, err
	}

	out, err := tensor.Linear(xt, weight, bias)
	if err != nil {
		return nil, err
	}

	return out.Data(), nil
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

func sigmoidInPlace(xs []float32) {
	for i, x := range xs {
		xs[i] = sigmoid(x)
	}
}

func tanhInPlace(xs []float32) {
	for i, x := range xs {
		xs[i] = float32(math.Tanh(float64(x)))
	}
}
