package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-realtime/core/audio"
)

// CaptureDevice reads the default input device with blocking reads on its
// own goroutine. It delivers mono audio at the device's default rate.
type CaptureDevice struct {
	bufferSize int

	mu     sync.Mutex
	stream *portaudio.Stream
	format audio.StreamFormat
	in     []int16

	quit chan struct{}
	done chan struct{}
}

func NewCaptureDevice(bufferSize int) *CaptureDevice {
	if bufferSize <= 0 {
		bufferSize = 480
	}
	return &CaptureDevice{bufferSize: bufferSize}
}

func (c *CaptureDevice) Open() (audio.StreamFormat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return c.format, nil
	}

	if err := portaudio.Initialize(); err != nil {
		return audio.StreamFormat{}, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return audio.StreamFormat{}, fmt.Errorf("failed to find default input device: %w", err)
	}

	c.in = make([]int16, c.bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, info.DefaultSampleRate, c.bufferSize, c.in)
	if err != nil {
		_ = portaudio.Terminate()
		return audio.StreamFormat{}, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	c.stream = stream
	c.format = audio.StreamFormat{SampleRate: int(info.DefaultSampleRate), Channels: 1}
	return c.format, nil
}

func (c *CaptureDevice) Start(onInput func(pcm []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return fmt.Errorf("device not initialized")
	} else if c.quit != nil {
		return nil
	}

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	c.quit, c.done = make(chan struct{}), make(chan struct{})
	go c.readLoop(c.quit, c.done, onInput)
	return nil
}

func (c *CaptureDevice) readLoop(quit, done chan struct{}, onInput func([]byte)) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			logger.Warn("failed to read from portaudio stream", "error", err)
			return
		}

		onInput(audio.PCM16FromSamples(c.in))
	}
}

func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quit == nil {
		return nil
	}

	close(c.quit)
	<-c.done
	c.quit, c.done = nil, nil

	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio stream: %w", err)
	}
	return nil
}

func (c *CaptureDevice) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}

	err := c.stream.Close()
	c.stream = nil
	return errors.Join(err, portaudio.Terminate())
}
