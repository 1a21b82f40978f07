package core

import (
	"sync"
	"testing"
	"time"

	"github.com/lisuiheng/callguard-go/audio"
	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

// silentDevice 每次读取返回一段静音
type silentDevice struct {
	mu       sync.Mutex
	releases int
}

func (d *silentDevice) Initialized() bool { return true }
func (d *silentDevice) Start() error      { return nil }

func (d *silentDevice) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.releases > 0 {
		return 0, audio.ErrDeviceClosed
	}
	clear(p)
	return len(p), nil
}

func (d *silentDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	return nil
}

// micOnlyOpener 只有麦克风可用
type micOnlyOpener struct {
	mu     sync.Mutex
	mic    *silentDevice
	opened []audio.Source
}

func (o *micOnlyOpener) MinBufferSize(audio.Format) int { return 1024 }

func (o *micOnlyOpener) Open(src audio.Source, _ audio.Format, _ int) (audio.CaptureDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, src)
	if src != audio.SourceMic {
		return nil, audio.ErrSourceUnsupported
	}
	return o.mic, nil
}

func TestIncomingCallOnMicrophone(t *testing.T) {
	speaker := &audio.MemorySpeakerphone{}
	opener := &micOnlyOpener{mic: &silentDevice{}}
	format := audio.Format{SampleRate: 8000, Channels: 1}
	negotiator := audio.NewNegotiator(opener, audio.NewSpeakerSwitch(speaker, testLogger()), interfaces.Discard, format, testLogger())
	loop := audio.NewCaptureLoop(audio.CaptureConfig{
		Dir:           t.TempDir(),
		Format:        format,
		WindowSeconds: 5,
	}, negotiator, interfaces.Discard, testLogger())
	t.Cleanup(func() { loop.Close() })

	log := &eventLog{}
	m := NewCallStateMachine(loop, log, testLogger())
	m.Attach(false)

	m.HandleSignal(interfaces.RawIdle, "")
	m.HandleSignal(interfaces.RawRinging, "555-0100")
	m.HandleSignal(interfaces.RawOffhook, "")

	log.mu.Lock()
	events := append([]interfaces.CallStateChanged(nil), log.events...)
	log.mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	ringing, offhook := events[0], events[1]
	if ringing.State != "RINGING" || !ringing.IsIncoming || ringing.PhoneNumber != "555-0100" {
		t.Fatalf("ringing event = %+v", ringing)
	}
	if offhook.State != "OFFHOOK" || offhook.IsIncoming || offhook.UsingDirectAudio {
		t.Fatalf("offhook event = %+v", offhook)
	}

	if !loop.IsRecording() {
		t.Fatal("not recording after offhook")
	}
	info, ok := loop.Session()
	if !ok {
		t.Fatal("no capture session after offhook")
	}
	if info.Candidate.Source != audio.SourceMic {
		t.Fatalf("capture source = %v, want mic", info.Candidate.Source)
	}
	if info.PhoneNumber != "555-0100" {
		t.Fatalf("session number = %q, want 555-0100", info.PhoneNumber)
	}
	if !speaker.IsSpeakerphoneOn() {
		t.Fatal("speakerphone off while capturing from the mic")
	}

	m.HandleSignal(interfaces.RawIdle, "")
	if loop.IsRecording() {
		t.Fatal("still recording after idle")
	}
	opener.mic.mu.Lock()
	releases := opener.mic.releases
	opener.mic.mu.Unlock()
	if releases != 1 {
		t.Fatalf("mic released %d times, want 1", releases)
	}
}
