package checkpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-melgv/internal/safetensors"
	"github.com/example/go-melgv/internal/tensor"
)

// VarBuilder provides hierarchical, dot-separated tensor lookup over a
// safetensors store, with optional shape checking at load time.
type VarBuilder struct {
	store  *safetensors.Store
	prefix string
}

func NewVarBuilder(store *safetensors.Store) *VarBuilder {
	return &VarBuilder{store: store}
}

// Path returns a child builder scoped under the joined name parts.
func (vb *VarBuilder) Path(parts ...string) *VarBuilder {
	if vb == nil {
		return nil
	}

	prefix := vb.prefix

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if prefix == "" {
			prefix = part
		} else {
			prefix += "." + part
		}
	}

	return &VarBuilder{store: vb.store, prefix: prefix}
}

func (vb *VarBuilder) Has(name string) bool {
	if vb == nil || vb.store == nil {
		return false
	}

	return vb.store.Has(vb.resolve(name))
}

func (vb *VarBuilder) Tensor(name string, wantShape ...int64) (*tensor.Tensor, error) {
	if vb == nil || vb.store == nil {
		return nil, errors.New("checkpoint: varbuilder has no store")
	}

	fullName := vb.resolve(name)

	var (
		st  *safetensors.Tensor
		err error
	)

	if len(wantShape) > 0 {
		st, err = vb.store.TensorWithShape(fullName, wantShape)
	} else {
		st, err = vb.store.Tensor(fullName)
	}

	if err != nil {
		return nil, err
	}

	t, err := tensor.New(st.Data, st.Shape)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: tensor %q: %w", fullName, err)
	}

	return t, nil
}

// TensorMaybe loads a tensor when present; the second return reports presence.
func (vb *VarBuilder) TensorMaybe(name string, wantShape ...int64) (*tensor.Tensor, bool, error) {
	if !vb.Has(name) {
		return nil, false, nil
	}

	t, err := vb.Tensor(name, wantShape...)
	if err != nil {
		return nil, true, err
	}

	return t, true, nil
}

func (vb *VarBuilder) resolve(name string) string {
	name = strings.TrimSpace(name)
	if vb == nil || vb.prefix == "" {
		return name
	}

	if name == "" {
		return vb.prefix
	}

	return vb.prefix + "." + name
}
