package miniaudio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// Client owns the miniaudio context shared by the capture and playback
// devices.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext

	capture  *CaptureDevice
	playback *PlaybackDevice
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo: " + message) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	return &Client{
		audioContext: audioCtx,
		capture:      &CaptureDevice{audioContext: audioCtx},
		playback:     &PlaybackDevice{audioContext: audioCtx},
	}, nil
}

func (c *Client) CaptureDevice() *CaptureDevice   { return c.capture }
func (c *Client) PlaybackDevice() *PlaybackDevice { return c.playback }

func (c *Client) Close() {
	_ = c.capture.Stop()
	_ = c.capture.Close()
	_ = c.playback.Stop()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}
