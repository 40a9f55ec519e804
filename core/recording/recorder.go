// Package recording keeps a WAV copy of the audio sent upstream.
package recording

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	coreaudio "github.com/koscakluka/ema-realtime/core/audio"
)

const (
	bitDepth       = 16
	numChannels    = 1
	audioFormatPCM = 1
)

var (
	ErrClosed       = errors.New("recorder closed")
	ErrRateMismatch = errors.New("frame sample rate does not match the recording")
)

// Recorder writes mono 16-bit frames to a WAV file. It is safe for use from
// the capture worker while another goroutine closes it.
type Recorder struct {
	mu         sync.Mutex
	file       *os.File
	encoder    *wav.Encoder
	sampleRate int
	samples    int
	closed     bool
}

func Create(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating wav file failed: %w", err)
	}

	return &Recorder{
		file:       f,
		encoder:    wav.NewEncoder(f, sampleRate, bitDepth, numChannels, audioFormatPCM),
		sampleRate: sampleRate,
	}, nil
}

func (r *Recorder) WriteFrame(frame coreaudio.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if frame.SampleRate != r.sampleRate {
		return fmt.Errorf("%w: got %d, recording at %d", ErrRateMismatch, frame.SampleRate, r.sampleRate)
	}

	data := make([]int, len(frame.Samples))
	for i, sample := range frame.Samples {
		data[i] = int(sample)
	}
	if err := r.encoder.Write(&audio.IntBuffer{
		Data: data,
		Format: &audio.Format{
			NumChannels: numChannels,
			SampleRate:  r.sampleRate,
		},
		SourceBitDepth: bitDepth,
	}); err != nil {
		return fmt.Errorf("writing wav samples failed: %w", err)
	}
	r.samples += len(frame.Samples)
	return nil
}

// Samples is the number of samples written so far.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Close finalizes the WAV header and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	return errors.Join(r.encoder.Close(), r.file.Close())
}
