package audio

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDevice 每次 Read 返回 chunk 个字节；readErr 非空时在 failAfter 次读取后返回它
type fakeDevice struct {
	mu          sync.Mutex
	initialized bool
	startErr    error
	chunk       int
	delay       time.Duration
	failAfter   int
	readErr     error
	reads       int
	started     bool
	releases    int
}

func newFakeDevice(chunk int) *fakeDevice {
	return &fakeDevice{initialized: true, chunk: chunk, delay: time.Millisecond}
}

func (d *fakeDevice) Initialized() bool { return d.initialized }

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.started = true
	return nil
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	delay := d.delay
	d.mu.Unlock()
	time.Sleep(delay)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.releases > 0 {
		return 0, ErrDeviceClosed
	}
	d.reads++
	if d.readErr != nil && d.reads > d.failAfter {
		return 0, d.readErr
	}
	n := min(d.chunk, len(p))
	for i := 0; i < n; i++ {
		p[i] = byte(i)
	}
	return n, nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	return nil
}

func (d *fakeDevice) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

func (d *fakeDevice) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// fakeOpener 按源返回预设的设备或错误，并记录打开顺序
type fakeOpener struct {
	mu      sync.Mutex
	devices map[Source]CaptureDevice
	errs    map[Source]error
	minBuf  int
	opened  []Source
	onOpen  func(Source)
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		devices: make(map[Source]CaptureDevice),
		errs:    make(map[Source]error),
		minBuf:  4096,
	}
}

func (o *fakeOpener) MinBufferSize(Format) int { return o.minBuf }

func (o *fakeOpener) Open(src Source, f Format, bufferSize int) (CaptureDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, src)
	if o.onOpen != nil {
		o.onOpen(src)
	}
	if err, ok := o.errs[src]; ok {
		return nil, err
	}
	if dev, ok := o.devices[src]; ok {
		return dev, nil
	}
	return nil, ErrSourceUnsupported
}

func (o *fakeOpener) Opened() []Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Source(nil), o.opened...)
}

// recorder 记录收到的事件
type recorder struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *recorder) Notify(ev interfaces.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) results() []interfaces.AudioAnalysisResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.AudioAnalysisResult
	for _, ev := range r.events {
		if res, ok := ev.(interfaces.AudioAnalysisResult); ok {
			out = append(out, res)
		}
	}
	return out
}

// failingWriter 模拟磁盘写失败
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
