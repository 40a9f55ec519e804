package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"

	// CaptureSampleRate is the rate captured audio is sent upstream at.
	CaptureSampleRate = DefaultSampleRate
	// PlaybackSampleRate is the rate synthesized speech arrives at.
	PlaybackSampleRate = 24000
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

func GetPlaybackEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: PlaybackSampleRate, Format: EncodingLinear16}
}

// EncodingInfo describes a mono audio stream.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) BytesPerSecond() int {
	return e.SampleRate * e.Format.ByteSize()
}

// Duration reports how long nBytes of audio in this encoding play for.
func (e EncodingInfo) Duration(nBytes int) time.Duration {
	bps := e.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(nBytes) / float64(bps) * float64(time.Second))
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)

// StreamFormat is the native layout of a device stream: interleaved signed
// 16-bit little-endian samples.
type StreamFormat struct {
	SampleRate int
	Channels   int
}

func (f StreamFormat) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}
