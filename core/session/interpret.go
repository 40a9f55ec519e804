package session

import (
	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/protocol"
)

// interpret is the only consumer of connection messages. Messages from a
// generation other than the connection's current one are dropped.
func (o *Orchestrator) interpret() {
	defer close(o.loopDone)
	for {
		select {
		case <-o.quit:
			return
		case message := <-o.conn.Messages():
			if message.Generation != o.conn.Generation() {
				continue
			}
			if message.Err != nil {
				o.handleConnectionError(message.Err)
			} else if message.Event != nil {
				o.handleEvent(message.Event)
			}
		}
	}
}

func (o *Orchestrator) handleEvent(event *protocol.InboundEvent) {
	switch event.Kind() {
	case protocol.KindReady:
		o.mu.Lock()
		if o.state == Connecting && o.ready != nil {
			o.ready.resolve(nil)
		}
		o.mu.Unlock()

	case protocol.KindError:
		err := event.Err()
		o.mu.Lock()
		if o.state == Connecting && o.ready != nil {
			o.ready.resolve(err)
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
		logger.Warn("server reported an error", "error", err)
		o.events.Publish(events.NewError(err))

	case protocol.KindTranscriptDelta:
		o.mu.Lock()
		if !o.acceptsTranscriptLocked() {
			o.mu.Unlock()
			return
		}
		delta := event.DeltaText()
		transcript := o.transcript.append(delta)
		o.mu.Unlock()
		o.events.Publish(events.NewTranscriptDelta(delta, transcript))

	case protocol.KindTranscriptFinal:
		o.mu.Lock()
		if !o.acceptsTranscriptLocked() {
			o.mu.Unlock()
			return
		}
		transcript := event.FinalText()
		o.transcript.finalize(transcript)
		o.mu.Unlock()
		o.events.Publish(events.NewTranscriptFinal(transcript))

	case protocol.KindAudioDelta:
		if o.playback == nil {
			return
		}
		pcm, err := event.Audio()
		if err != nil {
			logger.Warn("dropped audio delta", "error", err)
			return
		}
		o.playback.Enqueue(audio.NewFrame(audio.SamplesFromPCM16(pcm), audio.PlaybackSampleRate))

	case protocol.KindSpeechStarted:
		if o.playback != nil {
			o.playback.Flush()
		}
	}
}

func (o *Orchestrator) acceptsTranscriptLocked() bool {
	return o.state == Connecting || o.state == Recording || o.state == Stopping
}

// handleConnectionError fails a pending connect, or ends a recording session
// while keeping its transcript.
func (o *Orchestrator) handleConnectionError(err error) {
	o.mu.Lock()
	switch o.state {
	case Connecting:
		if o.ready != nil {
			o.ready.resolve(err)
		}
		o.mu.Unlock()
		return
	case Recording:
	default:
		o.mu.Unlock()
		return
	}

	epoch := o.epoch
	o.forwardEpoch.Store(0)
	o.setStateLocked(Stopping)
	o.mu.Unlock()

	logger.Error("connection lost while recording", "error", err)
	o.events.Publish(events.NewError(err))

	if err := o.capture.Stop(); err != nil {
		logger.Warn("failed to stop capture", "error", err)
	}
	o.conn.Disconnect()

	o.mu.Lock()
	if epoch == o.epoch {
		o.setStateLocked(Idle)
	}
	o.mu.Unlock()
}
