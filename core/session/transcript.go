package session

// transcriptAccumulator is only touched with the orchestrator lock held.
type transcriptAccumulator struct {
	text      string
	finalized bool
	// finalizedCh is closed by the first final transcript of a session.
	finalizedCh chan struct{}
}

func (t *transcriptAccumulator) reset() {
	t.text = ""
	t.finalized = false
	t.finalizedCh = make(chan struct{})
}

func (t *transcriptAccumulator) append(delta string) string {
	t.text += delta
	return t.text
}

// finalize replaces whatever deltas accumulated with the final text.
func (t *transcriptAccumulator) finalize(text string) {
	t.text = text
	if !t.finalized {
		t.finalized = true
		close(t.finalizedCh)
	}
}
