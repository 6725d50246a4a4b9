package acoustic

import (
	"fmt"

	"github.com/example/go-melgv/internal/checkpoint"
)

// Normaliser maps model-space mel frames back to acoustic feature space using
// a per-channel affine transform learned during training.
type Normaliser struct {
	mean  []float32
	scale []float32
}

// Denormalise rewrites frame in place as frame*scale + mean.
func (n *Normaliser) Denormalise(frame []float32) {
	for i := range frame {
		frame[i] = frame[i]*n.scale[i] + n.mean[i]
	}
}

// loadNormaliser reads the optional normaliser tensors. Either both of
// normaliser.mean and normaliser.scale are present or neither is.
func loadNormaliser(vb *checkpoint.VarBuilder, mels int) (*Normaliser, error) {
	mean, hasMean, err := vb.TensorMaybe("normaliser.mean", int64(mels))
	if err != nil {
		return nil, err
	}

	scale, hasScale, err := vb.TensorMaybe("normaliser.scale", int64(mels))
	if err != nil {
		return nil, err
	}

	if hasMean != hasScale {
		return nil, fmt.Errorf("acoustic: normaliser tensors incomplete (mean=%v scale=%v)", hasMean, hasScale)
	}

	if !hasMean {
		return nil, nil
	}

	return &Normaliser{
		mean:  mean.Data(),
		scale: scale.Data(),
	}, nil
}
