package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeInputAudioCommit = "input_audio_buffer.commit"
	TypeInputAudioClear  = "input_audio_buffer.clear"

	TypeSessionCreated              = "session.created"
	TypeSessionUpdated              = "session.updated"
	TypeTranscriptionSessionCreated = "transcription_session.created"
	TypeTranscriptionSessionUpdated = "transcription_session.updated"
	TypeSpeechStarted               = "input_audio_buffer.speech_started"
	TypeResponseAudioDelta          = "response.audio.delta"
	TypeResponseOutputAudioDelta    = "response.output_audio.delta"
	TypeInputTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	TypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeError                       = "error"
)

// DefaultQuietEventTypes are streamed continuously and left out of per-message
// logging.
var DefaultQuietEventTypes = []string{
	TypeInputAudioAppend,
	TypeResponseAudioDelta,
	TypeResponseOutputAudioDelta,
	TypeInputTranscriptionDelta,
	"response.audio_transcript.delta",
	"response.output_audio_transcript.delta",
	"response.text.delta",
	"response.output_text.delta",
}

// OutboundEvent is an event the client sends. Event ids are assigned on send.
type OutboundEvent interface {
	header() *Header
}

type Header struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func (h *Header) header() *Header { return h }

type SessionUpdate struct {
	Header
	Session SessionConfig `json:"session"`
}

func NewSessionUpdate(session SessionConfig) *SessionUpdate {
	return &SessionUpdate{Header: Header{Type: TypeSessionUpdate}, Session: session}
}

type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
}

type TranscriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type TurnDetection struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs *int     `json:"silence_duration_ms,omitempty"`
}

type AudioAppend struct {
	Header
	Audio string `json:"audio"`
}

// NewAudioAppend wraps little-endian PCM16 audio.
func NewAudioAppend(pcm []byte) *AudioAppend {
	return &AudioAppend{
		Header: Header{Type: TypeInputAudioAppend},
		Audio:  base64.StdEncoding.EncodeToString(pcm),
	}
}

func NewAudioCommit() *Header { return &Header{Type: TypeInputAudioCommit} }

func NewAudioClear() *Header { return &Header{Type: TypeInputAudioClear} }

// Kind classifies inbound events by what the session does with them.
type Kind int

const (
	KindOther Kind = iota
	KindReady
	KindTranscriptDelta
	KindTranscriptFinal
	KindAudioDelta
	KindSpeechStarted
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindTranscriptDelta:
		return "transcript_delta"
	case KindTranscriptFinal:
		return "transcript_final"
	case KindAudioDelta:
		return "audio_delta"
	case KindSpeechStarted:
		return "speech_started"
	case KindError:
		return "error"
	}
	return "other"
}

// InboundEvent is the subset of every server event the client understands.
// Raw holds the full message.
type InboundEvent struct {
	Type       string  `json:"type"`
	EventID    string  `json:"event_id,omitempty"`
	ItemID     string  `json:"item_id,omitempty"`
	Delta      *string `json:"delta,omitempty"`
	Text       *string `json:"text,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
	Error      *Error  `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (e *InboundEvent) Kind() Kind {
	switch {
	case e.Error != nil || e.Type == TypeError:
		return KindError
	case e.Type == TypeSessionCreated, e.Type == TypeSessionUpdated,
		e.Type == TypeTranscriptionSessionCreated, e.Type == TypeTranscriptionSessionUpdated:
		return KindReady
	case e.Type == TypeResponseAudioDelta, e.Type == TypeResponseOutputAudioDelta:
		return KindAudioDelta
	case e.Type == TypeSpeechStarted:
		return KindSpeechStarted
	case strings.HasSuffix(e.Type, ".delta") && e.Delta != nil:
		return KindTranscriptDelta
	case (strings.HasSuffix(e.Type, ".done") || strings.HasSuffix(e.Type, "completed")) &&
		(e.Text != nil || e.Transcript != nil):
		return KindTranscriptFinal
	}
	return KindOther
}

// FinalText is the transcript of a final event, preferring the transcript
// field over text.
func (e *InboundEvent) FinalText() string {
	if e.Transcript != nil {
		return *e.Transcript
	} else if e.Text != nil {
		return *e.Text
	}
	return ""
}

func (e *InboundEvent) DeltaText() string {
	if e.Delta == nil {
		return ""
	}
	return *e.Delta
}

// Audio decodes the PCM16 payload of an audio delta.
func (e *InboundEvent) Audio() ([]byte, error) {
	if e.Delta == nil {
		return nil, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(*e.Delta)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid audio payload: %w", ErrDecode, err)
	}
	return pcm, nil
}

// Err returns the server-reported error, if any.
func (e *InboundEvent) Err() error {
	if e.Error != nil {
		return e.Error
	} else if e.Type == TypeError {
		return &Error{Message: "unspecified server error"}
	}
	return nil
}

// Error is a protocol error reported by the server.
type Error struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}
