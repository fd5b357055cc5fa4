package main

import (
	"context"
	"time"

	"vokey/beep"
	"vokey/log"
	"vokey/notify"
	"vokey/workflow"
)

type effectRunner interface {
	Run(eff workflow.Effect)
}

// machine is the single owner of the workflow state. Hotkeys, the TUI and
// the effect runner all talk to it through events.
type machine struct {
	events   chan workflow.Event
	runner   effectRunner
	render   func(workflow.UIState)
	cues     *beep.Cues
	notifier *notify.Notifier
	now      func() time.Time

	state      workflow.State
	enteredAt  time.Time
	longLogged bool
	settled    chan workflow.State
}

func newMachine(runner effectRunner, events chan workflow.Event) *machine {
	return &machine{
		events:  events,
		runner:  runner,
		render:  func(workflow.UIState) {},
		now:     time.Now,
		state:   workflow.Idle{},
		settled: make(chan workflow.State, 8),
	}
}

// Send posts ev without blocking the caller past ctx.
func (m *machine) Send(ctx context.Context, ev workflow.Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

// Settled delivers every state the cycle comes to rest in.
func (m *machine) Settled() <-chan workflow.State { return m.settled }

func (m *machine) Run(ctx context.Context) {
	m.enteredAt = m.now()
	m.render(workflow.ToUI(m.state, m.enteredAt))
	for {
		select {
		case <-ctx.Done():
			m.step(workflow.Cancel{})
			return
		case ev := <-m.events:
			if _, ok := ev.(workflow.Exit); ok {
				m.step(workflow.Cancel{})
				return
			}
			m.step(ev)
		}
	}
}

func (m *machine) step(ev workflow.Event) {
	prev := m.state
	next, effects := workflow.Reduce(prev, ev)
	now := m.now()

	if tick, ok := ev.(workflow.RecordingTick); ok {
		m.checkLong(next, tick.Now)
	} else {
		log.Debugf("event %s in %s", workflow.EventName(ev), prev.Name())
	}

	if next.Name() != prev.Name() {
		log.StateTransition(prev.Name(), next.Name(), now.Sub(m.enteredAt))
		m.enteredAt = now
		m.feedback(prev, next)
		if _, ok := next.(workflow.Recording); ok {
			m.longLogged = false
		}
	}
	m.state = next

	for _, eff := range effects {
		if _, ok := eff.(workflow.EmitUI); ok {
			m.render(workflow.ToUI(next, now))
			continue
		}
		m.runner.Run(eff)
	}
}

func (m *machine) checkLong(s workflow.State, now time.Time) {
	rec, ok := s.(workflow.Recording)
	if !ok || m.longLogged {
		return
	}
	if now.Sub(rec.StartedAt) >= workflow.LongRecording {
		m.longLogged = true
		log.Warnf("recording %s running for over %s", rec.ID, workflow.LongRecording)
	}
}

func (m *machine) feedback(prev, next workflow.State) {
	switch st := next.(type) {
	case workflow.Recording:
		m.cues.Play(beep.Start)
	case workflow.Stopping:
		m.cues.Play(beep.Stop)
	case workflow.Error:
		m.cues.Play(beep.Error)
		m.notifier.Error(st.Message)
		log.Errorf("cycle failed: %s", st.Message)
	}

	switch next.(type) {
	case workflow.Done, workflow.NoSpeech, workflow.Error:
	case workflow.Idle:
		// a dismissed Done or NoSpeech already settled
		switch prev.(type) {
		case workflow.Idle, workflow.Done, workflow.NoSpeech, workflow.Error:
			return
		}
	default:
		return
	}
	select {
	case m.settled <- next:
	default:
	}
}
