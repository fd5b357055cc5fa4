package workflow

// Reduce computes the next state and the effects to run for ev. It never
// mutates s. Events carrying a recording id that differs from the id tracked
// by s are dropped before any other rule applies.
func Reduce(s State, ev Event) (State, []Effect) {
	if eid, ok := eventID(ev); ok {
		if cur, tracked := s.recordingID(); tracked && cur != eid {
			return s, nil
		}
	}

	if fe, ok := ev.(ForceError); ok {
		return forceError(s, fe)
	}

	switch st := s.(type) {
	case Idle:
		return reduceIdle(st, ev)
	case Arming:
		return reduceArming(st, ev)
	case Recording:
		return reduceRecording(st, ev)
	case Stopping:
		return reduceStopping(st, ev)
	case Transcribing:
		return reduceTranscribing(st, ev)
	case NoSpeech:
		return reduceNoSpeech(st, ev)
	case Done:
		return reduceDone(st, ev)
	case Error:
		return reduceError(st, ev)
	}
	return s, nil
}

func startNew(extra ...Effect) (State, []Effect) {
	id := NewID()
	effects := append(extra, StartAudio{ID: id}, EmitUI{})
	return Arming{ID: id}, effects
}

func forceError(s State, fe ForceError) (State, []Effect) {
	var effects []Effect
	switch st := s.(type) {
	case Arming:
		effects = append(effects, StopAudio{ID: st.ID, Discard: true}, Cleanup{ID: st.ID, Reason: CleanupFailed})
	case Recording:
		effects = append(effects, StopAudio{ID: st.ID, Discard: true}, Cleanup{ID: st.ID, Path: st.Path, Reason: CleanupFailed})
	case Stopping:
		effects = append(effects, StopAudio{ID: st.ID, Discard: true}, Cleanup{ID: st.ID, Path: st.Path, Reason: CleanupFailed})
	case Transcribing:
		effects = append(effects, Cleanup{ID: st.ID, Path: st.Path, Reason: CleanupFailed})
	}
	effects = append(effects, EmitUI{})
	return Error{Message: fe.Message, LastGoodText: partialText(s)}, effects
}

func reduceIdle(s Idle, ev Event) (State, []Effect) {
	switch ev.(type) {
	case Toggle:
		return startNew()
	}
	return s, nil
}

func reduceArming(s Arming, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case AudioStartOk:
		return Recording{ID: s.ID, Path: e.Path, StartedAt: e.At},
			[]Effect{StartRecordingTick{ID: s.ID}, EmitUI{}}
	case AudioStartFail:
		return Error{Message: e.Err},
			[]Effect{Cleanup{ID: s.ID, Reason: CleanupFailed}, EmitUI{}}
	case AudioFailed:
		return audioFailed(s.ID, e.Path, "", e)
	case Cancel:
		// audio may have started between the cancel and AudioStartOk
		return Idle{}, []Effect{
			StopAudio{ID: s.ID, Discard: true},
			Cleanup{ID: s.ID, Reason: CleanupCancelled},
			EmitUI{},
		}
	}
	return s, nil
}

func reduceRecording(s Recording, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case Toggle:
		return s.stop()
	case Cancel:
		return Idle{}, []Effect{
			StopAudio{ID: s.ID, Discard: true},
			Cleanup{ID: s.ID, Path: s.Path, Reason: CleanupCancelled},
			EmitUI{},
		}
	case AudioFailed:
		return audioFailed(s.ID, s.Path, s.PartialText, e)
	case RecordingTick:
		if e.Now.Sub(s.StartedAt) >= MaxRecording {
			return s.stop()
		}
		return s, []Effect{EmitUI{}}
	case PartialDelta:
		if e.Text == s.PartialText {
			return s, nil
		}
		next := s
		next.PartialText = e.Text
		return next, []Effect{EmitUI{}}
	}
	return s, nil
}

func (s Recording) stop() (State, []Effect) {
	return Stopping{ID: s.ID, Path: s.Path, PartialText: s.PartialText},
		[]Effect{StopAudio{ID: s.ID}, EmitUI{}}
}

func reduceStopping(s Stopping, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case AudioStopOk:
		return Transcribing{ID: s.ID, Path: s.Path, PartialText: s.PartialText},
			[]Effect{StartTranscription{ID: s.ID, Path: s.Path, Partial: s.PartialText}, EmitUI{}}
	case NoSpeechDetected:
		return noSpeech(s.ID, s.Path, e)
	case AudioStopFail:
		return Error{Message: e.Err, LastGoodText: s.PartialText},
			[]Effect{Cleanup{ID: s.ID, Path: s.Path, Reason: CleanupFailed}, EmitUI{}}
	case AudioFailed:
		return audioFailed(s.ID, s.Path, s.PartialText, e)
	case Cancel:
		return Idle{}, []Effect{
			StopAudio{ID: s.ID, Discard: true},
			Cleanup{ID: s.ID, Path: s.Path, Reason: CleanupCancelled},
			EmitUI{},
		}
	case PartialDelta:
		if e.Text == s.PartialText {
			return s, nil
		}
		next := s
		next.PartialText = e.Text
		return next, []Effect{EmitUI{}}
	}
	return s, nil
}

// audioFailed ends a recording the capture side gave up on. The file is
// kept for inspection; only the discard stop and a failed cleanup run.
func audioFailed(id ID, path, partial string, e AudioFailed) (State, []Effect) {
	if path == "" {
		path = e.Path
	}
	return Error{Message: e.Err, LastGoodText: partial}, []Effect{
		StopAudio{ID: id, Discard: true},
		Cleanup{ID: id, Path: path, Reason: CleanupFailed},
		EmitUI{},
	}
}

func reduceTranscribing(s Transcribing, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case TranscribeOk:
		return Done{ID: s.ID, Text: e.Text}, []Effect{
			CopyToClipboard{ID: s.ID, Text: e.Text},
			StartDoneTimeout{ID: s.ID, After: DismissAfter},
			EmitUI{},
		}
	case NoSpeechDetected:
		return noSpeech(s.ID, s.Path, e)
	case TranscribeFail:
		last := e.Partial
		if last == "" {
			last = s.PartialText
		}
		return Error{Message: e.Err, LastGoodText: last},
			[]Effect{Cleanup{ID: s.ID, Path: s.Path, Reason: CleanupFailed}, EmitUI{}}
	case Cancel:
		// StopAudio is a no-op here, the capture thread finished already.
		return Idle{}, []Effect{
			StopAudio{ID: s.ID, Discard: true},
			Cleanup{ID: s.ID, Path: s.Path, Reason: CleanupCancelled},
			EmitUI{},
		}
	case PartialDelta:
		if e.Text == s.PartialText {
			return s, nil
		}
		next := s
		next.PartialText = e.Text
		return next, []Effect{EmitUI{}}
	}
	return s, nil
}

func noSpeech(id ID, path string, e NoSpeechDetected) (State, []Effect) {
	return NoSpeech{ID: id, Path: path, Source: e.Source, Message: e.Message},
		[]Effect{StartDoneTimeout{ID: id, After: DismissAfter}, EmitUI{}}
}

func reduceNoSpeech(s NoSpeech, ev Event) (State, []Effect) {
	dismiss := Cleanup{ID: s.ID, Path: s.Path, Reason: CleanupDismissed}
	switch ev.(type) {
	case DoneTimeout, Cancel:
		return Idle{}, []Effect{dismiss, EmitUI{}}
	case Toggle:
		return startNew(dismiss)
	}
	return s, nil
}

func reduceDone(s Done, ev Event) (State, []Effect) {
	dismiss := Cleanup{ID: s.ID, Reason: CleanupDismissed}
	switch ev.(type) {
	case DoneTimeout, Cancel:
		return Idle{}, []Effect{dismiss, EmitUI{}}
	case Toggle:
		return startNew(dismiss)
	}
	return s, nil
}

func reduceError(s Error, ev Event) (State, []Effect) {
	switch ev.(type) {
	case Toggle:
		return startNew()
	case Cancel:
		return Idle{}, []Effect{EmitUI{}}
	}
	return s, nil
}
