package core

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCapture struct {
	mu        sync.Mutex
	recording bool
	startErr  error
	starts    int
	stops     int
	modes     []bool
	numbers   []string
}

func (c *fakeCapture) StartCall(preferDirect bool, phoneNumber string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	c.modes = append(c.modes, preferDirect)
	c.numbers = append(c.numbers, phoneNumber)
	if c.startErr != nil {
		return c.startErr
	}
	c.recording = true
	return nil
}

func (c *fakeCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.recording = false
	return nil
}

func (c *fakeCapture) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

func (c *fakeCapture) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

type eventLog struct {
	mu     sync.Mutex
	events []interfaces.CallStateChanged
}

func (l *eventLog) Notify(ev interfaces.Event) {
	if e, ok := ev.(interfaces.CallStateChanged); ok {
		l.mu.Lock()
		l.events = append(l.events, e)
		l.mu.Unlock()
	}
}

func (l *eventLog) states() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.State)
	}
	return out
}

func newTestMachine(c *fakeCapture, log *eventLog) *CallStateMachine {
	m := NewCallStateMachine(c, log, testLogger())
	m.Attach(false)
	return m
}

func TestOffhookThenIdleStartsAndStopsOnce(t *testing.T) {
	tests := []struct {
		name    string
		signals []interfaces.RawCallState
	}{
		{"outgoing", []interfaces.RawCallState{interfaces.RawOffhook, interfaces.RawIdle}},
		{"incoming", []interfaces.RawCallState{interfaces.RawRinging, interfaces.RawOffhook, interfaces.RawIdle}},
		{"repeated ringing", []interfaces.RawCallState{interfaces.RawRinging, interfaces.RawRinging, interfaces.RawOffhook, interfaces.RawIdle}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCapture{}
			m := newTestMachine(c, &eventLog{})
			for _, s := range tt.signals {
				m.HandleSignal(s, "555-0100")
			}
			starts, stops := c.counts()
			if starts != 1 || stops != 1 {
				t.Fatalf("starts/stops = %d/%d, want 1/1", starts, stops)
			}
		})
	}
}

func TestIncomingCallScenario(t *testing.T) {
	c := &fakeCapture{}
	log := &eventLog{}
	m := NewCallStateMachine(c, log, testLogger())
	m.Attach(true)

	m.HandleSignal(interfaces.RawIdle, "")
	m.HandleSignal(interfaces.RawRinging, "555-0100")
	m.HandleSignal(interfaces.RawOffhook, "")
	if !c.IsRecording() {
		t.Fatal("not recording after offhook")
	}
	if call := m.CurrentCall(); call.PhoneNumber != "555-0100" || !call.Incoming {
		t.Fatalf("CurrentCall() = %+v, want incoming call from 555-0100", call)
	}
	m.HandleSignal(interfaces.RawIdle, "")

	want := []string{"RINGING", "OFFHOOK", "IDLE"}
	got := log.states()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	ev := log.events
	if !ev[0].IsIncoming || ev[1].IsIncoming || ev[2].IsIncoming {
		t.Fatalf("isIncoming = %v/%v/%v, want true/false/false", ev[0].IsIncoming, ev[1].IsIncoming, ev[2].IsIncoming)
	}
	if ev[0].PhoneNumber != "555-0100" {
		t.Fatalf("ringing number = %q, want 555-0100", ev[0].PhoneNumber)
	}
	if len(c.numbers) != 1 || c.numbers[0] != "555-0100" {
		t.Fatalf("capture started with numbers %v, want [555-0100]", c.numbers)
	}
	if ev[2].PhoneNumber != "Unknown" {
		t.Fatalf("idle number = %q, want Unknown", ev[2].PhoneNumber)
	}
	for i, e := range ev {
		if !e.UsingDirectAudio {
			t.Fatalf("event %d: UsingDirectAudio = false, want true", i)
		}
		if e.Timestamp == 0 {
			t.Fatalf("event %d: timestamp not set", i)
		}
	}
	if c.modes[0] != true {
		t.Fatal("capture started without preferDirect")
	}
	if m.State() != CallIdle {
		t.Fatalf("State() = %v, want IDLE", m.State())
	}
}

func TestIdleStopsCaptureFromAnyState(t *testing.T) {
	// 状态机以为是 IDLE，但采集仍在运行
	c := &fakeCapture{recording: true}
	m := newTestMachine(c, &eventLog{})

	m.HandleSignal(interfaces.RawIdle, "")
	if _, stops := c.counts(); stops != 1 {
		t.Fatalf("stops = %d, want 1", stops)
	}
	if c.IsRecording() {
		t.Fatal("still recording after idle")
	}
}

func TestCaptureFailureStillReportsOffhook(t *testing.T) {
	c := &fakeCapture{startErr: errors.New("no audio source available")}
	log := &eventLog{}
	m := newTestMachine(c, log)

	m.HandleSignal(interfaces.RawOffhook, "555-0100")
	if got := log.states(); len(got) != 1 || got[0] != "OFFHOOK" {
		t.Fatalf("events = %v, want [OFFHOOK]", got)
	}
	if m.State() != CallOffhook {
		t.Fatalf("State() = %v, want OFFHOOK", m.State())
	}
}

func TestDetachedMachineIsSilent(t *testing.T) {
	c := &fakeCapture{}
	log := &eventLog{}
	m := NewCallStateMachine(c, log, testLogger())

	m.HandleSignal(interfaces.RawRinging, "555-0100")
	m.HandleSignal(interfaces.RawOffhook, "")
	if got := log.states(); len(got) != 0 {
		t.Fatalf("events while detached = %v, want none", got)
	}
	if starts, _ := c.counts(); starts != 0 {
		t.Fatalf("capture started %d times while detached", starts)
	}

	m.Attach(false)
	m.HandleSignal(interfaces.RawRinging, "555-0100")
	m.Detach()
	m.HandleSignal(interfaces.RawOffhook, "")
	if got := log.states(); len(got) != 1 {
		t.Fatalf("events = %v, want only RINGING", got)
	}
	if m.State() != CallIdle {
		t.Fatalf("State() after Detach = %v, want IDLE", m.State())
	}
}

func TestDuplicateSignalsSuppressed(t *testing.T) {
	c := &fakeCapture{}
	log := &eventLog{}
	m := newTestMachine(c, log)

	m.HandleSignal(interfaces.RawOffhook, "")
	m.HandleSignal(interfaces.RawOffhook, "")
	if got := log.states(); len(got) != 1 {
		t.Fatalf("events = %v, want one OFFHOOK", got)
	}
	if starts, _ := c.counts(); starts != 1 {
		t.Fatalf("starts = %d, want 1", starts)
	}
}

func TestSetPreferDirectAppliesToNextCall(t *testing.T) {
	c := &fakeCapture{}
	m := newTestMachine(c, &eventLog{})

	m.HandleSignal(interfaces.RawOffhook, "")
	m.SetPreferDirect(true)
	m.HandleSignal(interfaces.RawIdle, "")
	m.HandleSignal(interfaces.RawOffhook, "")

	if len(c.modes) != 2 || c.modes[0] || !c.modes[1] {
		t.Fatalf("capture modes = %v, want [false true]", c.modes)
	}
}

func TestCallStateString(t *testing.T) {
	tests := map[CallState]string{
		CallIdle:    "IDLE",
		CallRinging: "RINGING",
		CallOffhook: "OFFHOOK",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}
