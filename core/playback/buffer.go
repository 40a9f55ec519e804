package playback

import (
	"sync"

	"github.com/koscakluka/ema-realtime/core/audio"
)

const DefaultCapacity = 64

// Buffer is a bounded FIFO of frames waiting for the output device. When full,
// pushing drops the oldest frame.
type Buffer struct {
	mu       sync.Mutex
	frames   []audio.Frame
	capacity int
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity, frames: make([]audio.Frame, 0, capacity)}
}

// Push appends frame and reports whether an older frame was dropped to make
// room for it.
func (b *Buffer) Push(frame audio.Frame) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == b.capacity {
		copy(b.frames, b.frames[1:])
		b.frames = b.frames[:len(b.frames)-1]
		dropped = true
	}
	b.frames = append(b.frames, frame)
	return dropped
}

// Drain empties the buffer and returns its frames oldest first.
func (b *Buffer) Drain() []audio.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := b.frames
	b.frames = make([]audio.Frame, 0, b.capacity)
	return frames
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = b.frames[:0]
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func (b *Buffer) Cap() int { return b.capacity }
