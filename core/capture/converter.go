package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/asticode/go-astikit"
	"github.com/koscakluka/ema-realtime/core/audio"
)

var errMalformedBuffer = errors.New("buffer is not a whole number of frames")

// converter turns native interleaved PCM16 into mono PCM16 at the target rate.
// It is streaming: resampler state carries over between buffers, so one
// input buffer can yield a different number of output samples.
//
// A converter is not safe for concurrent use; the engine only touches it from
// its serial worker.
type converter struct {
	src  audio.StreamFormat
	rate *astikit.PCMSampleRateConverter
	out  []int16
}

func newConverter(src audio.StreamFormat, dstSampleRate int) (*converter, error) {
	if !src.Valid() {
		return nil, fmt.Errorf("%w: invalid source format %d Hz x %d channels", ErrFormatConversionSetupFailed, src.SampleRate, src.Channels)
	}
	if dstSampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid target sample rate %d", ErrFormatConversionSetupFailed, dstSampleRate)
	}

	c := &converter{src: src}
	channels := astikit.NewPCMChannelsConverter(src.Channels, 1, func(s int) error {
		c.out = append(c.out, int16(s))
		return nil
	})
	c.rate = astikit.NewPCMSampleRateConverter(src.SampleRate, dstSampleRate, src.Channels, channels.Add)

	return c, nil
}

func (c *converter) Convert(pcm []byte) ([]int16, error) {
	if len(pcm)%(2*c.src.Channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %d channels", errMalformedBuffer, len(pcm), c.src.Channels)
	}

	c.out = c.out[:0]
	for i := 0; i < len(pcm); i += 2 {
		sample := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if err := c.rate.Add(sample); err != nil {
			return nil, fmt.Errorf("failed to convert sample: %w", err)
		}
	}

	return slices.Clone(c.out), nil
}
