package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lisuiheng/callguard-go/audio"
	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

type fakeSource struct {
	mu        sync.Mutex
	handler   interfaces.CallStateHandler
	listens   int
	unlistens int
}

func (s *fakeSource) Listen(h interfaces.CallStateHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	s.listens++
	return nil
}

func (s *fakeSource) Unlisten() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
	s.unlistens++
	return nil
}

func (s *fakeSource) emit(state interfaces.RawCallState, number string) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(state, number)
	}
}

type fakeCaps struct {
	granted bool
	direct  bool
	reqErr  error
}

func (c *fakeCaps) HasRequiredPermissions() bool   { return c.granted }
func (c *fakeCaps) HasDirectAudioCapability() bool { return c.direct }
func (c *fakeCaps) RequestPermissions(context.Context) (bool, error) {
	if c.reqErr != nil {
		return false, c.reqErr
	}
	return c.granted, nil
}

type fakeProber struct {
	ok    bool
	calls int
}

func (p *fakeProber) ProbeDirect() bool {
	p.calls++
	return p.ok
}

type monitorFixture struct {
	controller *MonitorController
	source     *fakeSource
	caps       *fakeCaps
	capture    *fakeCapture
	speaker    *audio.MemorySpeakerphone
	events     *eventLog
	factories  int
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		source:  &fakeSource{},
		caps:    &fakeCaps{granted: true},
		capture: &fakeCapture{},
		speaker: &audio.MemorySpeakerphone{},
		events:  &eventLog{},
	}
	c, err := NewMonitorController(MonitorOptions{
		Telephony: func(context.Context) (interfaces.TelephonySource, error) {
			f.factories++
			return f.source, nil
		},
		Capabilities: f.caps,
		Capture:      f.capture,
		Speaker:      audio.NewSpeakerSwitch(f.speaker, testLogger()),
		Notifier:     f.events,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewMonitorController: %v", err)
	}
	f.controller = c
	return f
}

func TestStartMonitoringIsIdempotent(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.controller.StartMonitoring(ctx, false); err != nil {
			t.Fatalf("StartMonitoring #%d: %v", i+1, err)
		}
	}
	if f.source.listens != 1 {
		t.Fatalf("listens = %d, want 1", f.source.listens)
	}
	if f.factories != 1 {
		t.Fatalf("telephony factory called %d times, want 1", f.factories)
	}
	if !f.controller.IsMonitoring() {
		t.Fatal("IsMonitoring() = false")
	}

	f.source.emit(interfaces.RawRinging, "555-0100")
	if got := f.events.states(); len(got) != 1 || got[0] != "RINGING" {
		t.Fatalf("events = %v, want one RINGING", got)
	}
}

func TestStartMonitoringWithoutPermissions(t *testing.T) {
	f := newMonitorFixture(t)
	f.caps.granted = false

	err := f.controller.StartMonitoring(context.Background(), false)
	if code := ErrorCode(err); code != CodePermissionDenied {
		t.Fatalf("code = %q, want %q", code, CodePermissionDenied)
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if f.controller.IsMonitoring() {
		t.Fatal("monitoring without permissions")
	}
	if f.source.listens != 0 {
		t.Fatal("listener attached without permissions")
	}
}

func TestInitializeFailure(t *testing.T) {
	c, err := NewMonitorController(MonitorOptions{
		Telephony: func(context.Context) (interfaces.TelephonySource, error) {
			return nil, errors.New("telephony service missing")
		},
		Capabilities: &fakeCaps{granted: true},
		Capture:      &fakeCapture{},
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewMonitorController: %v", err)
	}
	err = c.StartMonitoring(context.Background(), false)
	if code := ErrorCode(err); code != CodeInitializationFailed {
		t.Fatalf("code = %q, want %q", code, CodeInitializationFailed)
	}
}

func TestStopMonitoringSilencesEvents(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	if err := f.controller.StartMonitoring(ctx, false); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	f.source.emit(interfaces.RawOffhook, "")
	if !f.capture.IsRecording() {
		t.Fatal("capture not started on offhook")
	}

	if err := f.controller.StopMonitoring(ctx); err != nil {
		t.Fatalf("StopMonitoring: %v", err)
	}
	if f.capture.IsRecording() {
		t.Fatal("capture still running after StopMonitoring")
	}
	if f.controller.IsMonitoring() {
		t.Fatal("IsMonitoring() = true after stop")
	}

	before := len(f.events.states())
	// 旧 handler 被宿主延迟调用时也不能产生事件
	f.controller.machine.HandleSignal(interfaces.RawRinging, "555-0100")
	if after := len(f.events.states()); after != before {
		t.Fatalf("event emitted after StopMonitoring: %v", f.events.states())
	}

	if err := f.controller.StopMonitoring(ctx); err != nil {
		t.Fatalf("second StopMonitoring: %v", err)
	}
	if f.source.unlistens != 1 {
		t.Fatalf("unlistens = %d, want 1", f.source.unlistens)
	}
}

func TestStopMonitoringDisablesOwnedSpeaker(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	if err := f.controller.StartMonitoring(ctx, false); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	if err := f.controller.PromptLoudspeaker(); err != nil {
		t.Fatalf("PromptLoudspeaker: %v", err)
	}
	if !f.speaker.IsSpeakerphoneOn() {
		t.Fatal("speakerphone not enabled")
	}
	if err := f.controller.StopMonitoring(ctx); err != nil {
		t.Fatalf("StopMonitoring: %v", err)
	}
	if f.speaker.IsSpeakerphoneOn() {
		t.Fatal("speakerphone left on after StopMonitoring")
	}
}

func TestStopMonitoringLeavesForeignSpeaker(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.speaker.SetSpeakerphoneOn(true)

	if err := f.controller.StartMonitoring(ctx, false); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	if err := f.controller.StopMonitoring(ctx); err != nil {
		t.Fatalf("StopMonitoring: %v", err)
	}
	if !f.speaker.IsSpeakerphoneOn() {
		t.Fatal("speakerphone enabled by the user was turned off")
	}
}

func TestRestartAfterStop(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	if err := f.controller.StartMonitoring(ctx, false); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	if err := f.controller.StopMonitoring(ctx); err != nil {
		t.Fatalf("StopMonitoring: %v", err)
	}
	if err := f.controller.StartMonitoring(ctx, true); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if f.source.listens != 2 {
		t.Fatalf("listens = %d, want 2", f.source.listens)
	}
	if !f.controller.PreferDirect() {
		t.Fatal("PreferDirect() = false after restart with direct mode")
	}
	f.source.emit(interfaces.RawOffhook, "")
	if got := f.capture.modes; len(got) != 1 || !got[0] {
		t.Fatalf("capture modes = %v, want [true]", got)
	}
}

func TestRefreshMonitoring(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	if err := f.controller.StartMonitoring(ctx, false); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	if err := f.controller.RefreshMonitoring(true); err != nil {
		t.Fatalf("RefreshMonitoring: %v", err)
	}
	f.source.emit(interfaces.RawOffhook, "")
	if got := f.capture.modes; len(got) != 1 || !got[0] {
		t.Fatalf("capture modes = %v, want [true]", got)
	}
}

func TestEndCallNotSupported(t *testing.T) {
	f := newMonitorFixture(t)
	err := f.controller.EndCall()
	if code := ErrorCode(err); code != CodeOperationNotSupported {
		t.Fatalf("code = %q, want %q", code, CodeOperationNotSupported)
	}
	if !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("err = %v, want ErrUnsupportedOperation", err)
	}
}

func TestCanAccessCallAudio(t *testing.T) {
	tests := []struct {
		name   string
		direct bool
		prober *fakeProber
		want   bool
	}{
		{"capability missing", false, &fakeProber{ok: true}, false},
		{"hardware missing", true, &fakeProber{ok: false}, false},
		{"both present", true, &fakeProber{ok: true}, true},
		{"no prober", true, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := MonitorOptions{
				Telephony: func(context.Context) (interfaces.TelephonySource, error) {
					return &fakeSource{}, nil
				},
				Capabilities: &fakeCaps{granted: true, direct: tt.direct},
				Capture:      &fakeCapture{},
				Logger:       testLogger(),
			}
			if tt.prober != nil {
				opts.Prober = tt.prober
			}
			c, err := NewMonitorController(opts)
			if err != nil {
				t.Fatalf("NewMonitorController: %v", err)
			}
			if got := c.CanAccessCallAudio(); got != tt.want {
				t.Fatalf("CanAccessCallAudio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestPermissions(t *testing.T) {
	f := newMonitorFixture(t)
	granted, err := f.controller.RequestPermissions(context.Background())
	if err != nil || !granted {
		t.Fatalf("RequestPermissions() = %v, %v; want true, nil", granted, err)
	}

	f.caps.reqErr = errors.New("dialog dismissed")
	_, err = f.controller.RequestPermissions(context.Background())
	if code := ErrorCode(err); code != CodePermissionRequestFailed {
		t.Fatalf("code = %q, want %q", code, CodePermissionRequestFailed)
	}
}

func TestIsAvailable(t *testing.T) {
	f := newMonitorFixture(t)
	if !f.controller.IsAvailable() {
		t.Fatal("IsAvailable() = false with permissions granted")
	}
	f.caps.granted = false
	if f.controller.IsAvailable() {
		t.Fatal("IsAvailable() = true without permissions")
	}
}
