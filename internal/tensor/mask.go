package tensor

import (
	"errors"
	"fmt"
)

// PadStack right-pads a ragged collection of [T_i, C] tensors with zeros to the
// maximum observed length and stacks them into a single [N, maxT, C] tensor.
// All inputs must share the same channel dimension C.
func PadStack(seqs []*Tensor) (*Tensor, error) {
	if len(seqs) == 0 {
		return nil, errors.New("tensor: padstack requires at least one tensor")
	}

	first := seqs[0]
	if first == nil {
		return nil, errors.New("tensor: padstack tensor 0 is nil")
	}

	if first.Rank() != 2 {
		return nil, fmt.Errorf("tensor: padstack requires rank-2 tensors, tensor 0 has rank %d", first.Rank())
	}

	channels := first.shape[1]
	maxLen := int64(0)

	for i, s := range seqs {
		if s == nil {
			return nil, fmt.Errorf("tensor: padstack tensor %d is nil", i)
		}

		if s.Rank() != 2 {
			return nil, fmt.Errorf("tensor: padstack tensor %d has rank %d, want 2", i, s.Rank())
		}

		if s.shape[1] != channels {
			return nil, fmt.Errorf("tensor: padstack tensor %d has %d channels, want %d", i, s.shape[1], channels)
		}

		if s.shape[0] > maxLen {
			maxLen = s.shape[0]
		}
	}

	out, err := Zeros([]int64{int64(len(seqs)), maxLen, channels})
	if err != nil {
		return nil, err
	}

	rowSpan := maxLen * channels
	for i, s := range seqs {
		copy(out.data[int64(i)*rowSpan:], s.data)
	}

	return out, nil
}

// MaskFromLengths builds a [n, maxLen] boolean mask where mask[i][t] is true
// for t < lengths[i].
func MaskFromLengths(lengths []int, maxLen int) ([][]bool, error) {
	if maxLen < 0 {
		return nil, fmt.Errorf("tensor: mask max length %d must be >= 0", maxLen)
	}

	mask := make([][]bool, len(lengths))

	for i, l := range lengths {
		if l < 0 || l > maxLen {
			return nil, fmt.Errorf("tensor: mask length %d at %d out of range [0, %d]", l, i, maxLen)
		}

		row := make([]bool, maxLen)
		for t := range l {
			row[t] = true
		}

		mask[i] = row
	}

	return mask, nil
}

// MaskedSelect returns the elements of a padded [N, maxT, C] tensor whose time
// step is valid according to lengths, in row-major order. The mask is broadcast
// across the channel dimension.
func MaskedSelect(t *Tensor, lengths []int) ([]float32, error) {
	if t == nil {
		return nil, errors.New("tensor: masked select on nil tensor")
	}

	if t.Rank() != 3 {
		return nil, fmt.Errorf("tensor: masked select requires rank 3, got %d", t.Rank())
	}

	n := t.shape[0]
	maxLen := t.shape[1]
	channels := t.shape[2]

	if int64(len(lengths)) != n {
		return nil, fmt.Errorf("tensor: masked select has %d lengths for %d sequences", len(lengths), n)
	}

	mask, err := MaskFromLengths(lengths, int(maxLen))
	if err != nil {
		return nil, err
	}

	total := 0
	for _, l := range lengths {
		total += l * int(channels)
	}

	out := make([]float32, 0, total)

	for i := range int(n) {
		base := int64(i) * maxLen * channels

		for step, valid := range mask[i] {
			if !valid {
				continue
			}

			start := base + int64(step)*channels
			out = append(out, t.data[start:start+channels]...)
		}
	}

	return out, nil
}
