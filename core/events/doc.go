// Package events defines the typed session event contract.
//
// A session publishes events through a Queue in the order they happen:
//
//   - StateChanged (session.state_changed): the session moved between states.
//   - TranscriptDelta (transcript.delta): append-only transcript text, with the
//     accumulated transcript snapshot.
//   - TranscriptFinal (transcript.final): terminal transcript for the
//     utterance; replaces the accumulated snapshot.
//   - Error (session.error): failure surfaced while the session runs. Failures
//     during start are returned from Start instead.
//   - InputLevel (audio.input_level): loudness of captured audio.
//   - OutputLevel (audio.output_level): energy of audio being played back.
package events
