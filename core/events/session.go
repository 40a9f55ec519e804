package events

const (
	// KindStateChanged identifies a session state transition.
	KindStateChanged Kind = "session.state_changed"
	// KindTranscriptDelta identifies an incremental transcript update.
	KindTranscriptDelta Kind = "transcript.delta"
	// KindTranscriptFinal identifies the final transcript for the utterance.
	KindTranscriptFinal Kind = "transcript.final"
	// KindError identifies an error surfaced during a running session.
	KindError Kind = "session.error"
	// KindInputLevel identifies the loudness of a captured frame.
	KindInputLevel Kind = "audio.input_level"
	// KindOutputLevel identifies the energy of a scheduled playback frame.
	KindOutputLevel Kind = "audio.output_level"
)

// StateChanged marks a session state transition.
type StateChanged struct {
	Base
	From string
	To   string
}

// NewStateChanged creates a state transition event.
func NewStateChanged(from, to string) StateChanged {
	return StateChanged{Base: NewBase(KindStateChanged), From: from, To: to}
}

// TranscriptDelta carries the newly received text and the transcript
// accumulated so far, including it.
type TranscriptDelta struct {
	Base
	Delta      string
	Transcript string
}

func NewTranscriptDelta(delta, transcript string) TranscriptDelta {
	return TranscriptDelta{Base: NewBase(KindTranscriptDelta), Delta: delta, Transcript: transcript}
}

// TranscriptFinal carries the transcript the server finalized. It replaces
// everything accumulated from deltas.
type TranscriptFinal struct {
	Base
	Transcript string
}

func NewTranscriptFinal(transcript string) TranscriptFinal {
	return TranscriptFinal{Base: NewBase(KindTranscriptFinal), Transcript: transcript}
}

type Error struct {
	Base
	Err error
}

func NewError(err error) Error {
	return Error{Base: NewBase(KindError), Err: err}
}

func (e Error) Error() string {
	if e.Err == nil {
		return "unknown session error"
	}
	return e.Err.Error()
}

func (e Error) Unwrap() error { return e.Err }

// InputLevel carries the RMS level of a captured frame, in [0, 1].
type InputLevel struct {
	Base
	Level float64
}

func NewInputLevel(level float64) InputLevel {
	return InputLevel{Base: NewBase(KindInputLevel), Level: level}
}

// OutputLevel carries the energy of a scheduled playback frame, in [0, 1].
type OutputLevel struct {
	Base
	Level float64
}

func NewOutputLevel(level float64) OutputLevel {
	return OutputLevel{Base: NewBase(KindOutputLevel), Level: level}
}
