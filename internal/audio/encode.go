package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

const encodeBitDepth = 16

// EncodeWAV encodes mono float32 PCM samples as a WAV byte slice at the given
// sample rate, 16-bit PCM. Mainly used to build test fixtures and small
// diagnostic clips.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer

	// wav.NewEncoder requires an io.WriteSeeker; bytes.Buffer is not one.
	sw := &seekBuffer{buf: &buf}

	enc := wav.NewEncoder(sw, sampleRate, encodeBitDepth, 1, 1) // 1 = PCM

	pcmBuf := &goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: encodeBitDepth,
	}

	if err := enc.Write(pcmBuf); err != nil {
		return nil, fmt.Errorf("audio: writing PCM: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: closing encoder: %w", err)
	}

	return buf.Bytes(), nil
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos < s.buf.Len() {
		// Rewrite in place when the encoder seeks back to patch headers.
		n := copy(s.buf.Bytes()[s.pos:], p)
		if n < len(p) {
			if _, err := s.buf.Write(p[n:]); err != nil {
				return n, err
			}
		}

		s.pos += len(p)

		return len(p), nil
	}

	n, err := s.buf.Write(p)
	s.pos += n

	return n, err
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int

	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = s.pos + int(offset)
	case io.SeekEnd:
		next = s.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("audio: unsupported seek whence %d", whence)
	}

	if next < 0 {
		return 0, fmt.Errorf("audio: seek to negative offset %d", next)
	}

	s.pos = next

	return int64(next), nil
}
