package beep

import (
	"sync"
	"testing"
	"time"
)

func TestGenerateTickDecays(t *testing.T) {
	s := generateTick(sampleRate, 1000, 0.2, 0.5, 40)
	if len(s) != int(sampleRate*0.2) {
		t.Fatalf("len = %d", len(s))
	}
	peak := func(xs []int16) int {
		m := 0
		for _, x := range xs {
			v := int(x)
			if v < 0 {
				v = -v
			}
			m = max(m, v)
		}
		return m
	}
	head, tail := peak(s[:1000]), peak(s[len(s)-1000:])
	if head <= tail*4 {
		t.Errorf("no decay: head %d tail %d", head, tail)
	}
	if head > 32767/2+1 {
		t.Errorf("volume not applied: %d", head)
	}
}

func TestDoubleBeepLayout(t *testing.T) {
	one := generateTick(sampleRate, 350, 0.08, 0.6, 30)
	two := generateDoubleBeep(sampleRate, 350, 0.08, 0.05, 0.6, 30)
	gap := int(sampleRate * 0.05)
	if len(two) != 2*len(one)+gap {
		t.Fatalf("len = %d", len(two))
	}
	for i := len(one); i < len(one)+gap; i++ {
		if two[i] != 0 {
			t.Fatalf("gap not silent at %d", i)
		}
	}
}

type recPlayer struct {
	mu    sync.Mutex
	plays [][]int16
	ch    chan struct{}
}

func (r *recPlayer) Play(s []int16) error {
	r.mu.Lock()
	r.plays = append(r.plays, s)
	r.mu.Unlock()
	r.ch <- struct{}{}
	return nil
}

func TestCuesPlay(t *testing.T) {
	rp := &recPlayer{ch: make(chan struct{}, 4)}
	c := NewWithPlayer(rp, true)

	c.Play(Error)
	select {
	case <-rp.ch:
	case <-time.After(time.Second):
		t.Fatal("cue not played")
	}
	if len(rp.plays[0]) != len(render(Error)) {
		t.Error("wrong samples played")
	}

	c.SetEnabled(false)
	c.Play(Start)
	select {
	case <-rp.ch:
		t.Error("disabled cues played")
	case <-time.After(30 * time.Millisecond):
	}

	var nilCues *Cues
	nilCues.Play(Stop)
}

func TestSoundString(t *testing.T) {
	if Start.String() != "start" || Error.String() != "error" || Sound(9).String() != "unknown" {
		t.Error("bad names")
	}
}
