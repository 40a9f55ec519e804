package miniaudio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-realtime/core/audio"
)

// CaptureDevice is the default input device opened in its native format.
type CaptureDevice struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device

	onInput atomic.Pointer[func([]byte)]

	mu sync.Mutex
}

func (c *CaptureDevice) Open() (audio.StreamFormat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return c.format(), nil
	}

	format := malgo.FormatS16

	// Leaving the rate and channel count at zero makes miniaudio use the
	// device's native layout; conversion happens downstream.
	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.Capture.Format = format
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = 480
	config.Periods = 3

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			bytesPerFrame := malgo.SampleSizeInBytes(format) * int(c.device.CaptureChannels())
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			if onInput := c.onInput.Load(); onInput != nil {
				(*onInput)(pInput[:n])
			}
		},
	})
	if err != nil {
		c.device = nil
		return audio.StreamFormat{}, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	logger.Info("capture device opened",
		"sample_rate", c.device.SampleRate(),
		"channels", c.device.CaptureChannels())

	return c.format(), nil
}

func (c *CaptureDevice) format() audio.StreamFormat {
	return audio.StreamFormat{
		SampleRate: int(c.device.SampleRate()),
		Channels:   int(c.device.CaptureChannels()),
	}
}

func (c *CaptureDevice) Start(onInput func(pcm []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	c.onInput.Store(&onInput)
	if err := c.device.Start(); err != nil {
		c.onInput.Store(nil)
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	return nil
}

func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}

	c.onInput.Store(nil)
	return nil
}

func (c *CaptureDevice) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	c.onInput.Store(nil)
	return nil
}
