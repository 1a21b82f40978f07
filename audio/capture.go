// audio/capture.go
package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

// LoopState 采集循环状态
type LoopState int

const (
	LoopStopped LoopState = iota
	LoopStarting
	LoopRunning
	LoopStopping
)

func (s LoopState) String() string {
	switch s {
	case LoopStopped:
		return "stopped"
	case LoopStarting:
		return "starting"
	case LoopRunning:
		return "running"
	case LoopStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CaptureConfig 采集循环配置
type CaptureConfig struct {
	Dir            string
	Format         Format
	WindowSeconds  int
	Payload        PayloadMode
	QueueSize      int           // 窗口通道容量
	HandoffTimeout time.Duration // 通道满时最多等待多久再丢弃
}

// SessionInfo 会话的只读快照
type SessionInfo struct {
	ID          string
	PhoneNumber string // 会话开始时的通话号码，可能为空
	Candidate   Candidate
	SinkPath    string
	Format      Format
	BufferSize  int
	StartedAt   time.Time
}

type session struct {
	SessionInfo
	device      CaptureDevice
	sink        io.WriteCloser
	acc         *WindowAccumulator
	stop        chan struct{}
	done        chan struct{}
	releaseOnce sync.Once
	releaseErr  error
}

// release 释放设备句柄并关闭会话文件，只执行一次
func (s *session) release() error {
	s.releaseOnce.Do(func() {
		var errs []error
		if err := s.device.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release device: %w", err))
		}
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
		s.releaseErr = errors.Join(errs...)
	})
	return s.releaseErr
}

// CaptureLoop 拥有设备句柄的整个生命周期：协商、读取/累积/发出窗口、释放。
//
// 每个会话只有一个 worker 做阻塞读；Start/Stop 由 opMu 串行化，
// 状态只在 mu 保护下以比较-切换的方式修改，worker 从不持有 opMu。
type CaptureLoop struct {
	cfg        CaptureConfig
	negotiator *Negotiator
	notifier   interfaces.Notifier
	logger     *slog.Logger

	opMu    sync.Mutex
	mu      sync.Mutex
	state   LoopState
	session *session
	closed  bool

	windows  chan Window
	wg       sync.WaitGroup
	now      func() time.Time
	openSink func(path string) (io.WriteCloser, error)
}

func createSessionFile(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func NewCaptureLoop(cfg CaptureConfig, negotiator *Negotiator, notifier interfaces.Notifier, logger *slog.Logger) *CaptureLoop {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "callguard")
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = DefaultFormat()
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = 100 * time.Millisecond
	}
	if notifier == nil {
		notifier = interfaces.Discard
	}
	return &CaptureLoop{
		cfg:        cfg,
		negotiator: negotiator,
		notifier:   notifier,
		logger:     logger.With("component", "capture"),
		state:      LoopStopped,
		windows:    make(chan Window, cfg.QueueSize),
		now:        time.Now,
		openSink:   createSessionFile,
	}
}

// Windows 按采集顺序输出窗口，Close 后关闭
func (l *CaptureLoop) Windows() <-chan Window {
	return l.windows
}

func (l *CaptureLoop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsRecording 当且仅当存在持有有效句柄的会话时为 true。
// Stopping 期间句柄还没释放，仍然返回 true，直到会话被清除。
func (l *CaptureLoop) IsRecording() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil
}

// Session 返回当前会话快照，与 IsRecording 一致
func (l *CaptureLoop) Session() (SessionInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return SessionInfo{}, false
	}
	return l.session.SessionInfo, true
}

// Start 已在运行时直接返回 nil，不会再次打开设备
func (l *CaptureLoop) Start(preferDirect bool) error {
	return l.StartCall(preferDirect, "")
}

// StartCall 同 Start，并把通话号码记在会话上，之后的每个窗口都带着它
func (l *CaptureLoop) StartCall(preferDirect bool, phoneNumber string) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	switch l.state {
	case LoopRunning, LoopStarting:
		l.mu.Unlock()
		l.logger.Debug("Capture already running")
		return nil
	case LoopStopping:
		l.mu.Unlock()
		return ErrCaptureBusy
	}
	l.state = LoopStarting
	l.mu.Unlock()

	neg, err := l.negotiator.Negotiate(preferDirect)
	if err != nil {
		l.setState(LoopStopped)
		return err
	}

	s, err := l.openSession(neg, phoneNumber)
	if err != nil {
		if rerr := neg.Device.Release(); rerr != nil {
			l.logger.Warn("Failed to release device", "error", rerr)
		}
		l.setState(LoopStopped)
		l.notifyFailure(err, "")
		return err
	}

	l.mu.Lock()
	l.session = s
	l.state = LoopRunning
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(s)

	l.logger.Info("Audio capture started",
		"session", s.ID,
		"source", s.Candidate.Source,
		"path", s.SinkPath,
		"sample_rate", s.Format.SampleRate)
	return nil
}

// Stop 通知 worker 在当前读取结束后退出，等待它结束，然后释放句柄；非运行状态下是空操作
func (l *CaptureLoop) Stop() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.stopLocked()
}

func (l *CaptureLoop) stopLocked() error {
	if !l.transition(LoopRunning, LoopStopping) {
		return nil
	}

	l.mu.Lock()
	s := l.session
	l.mu.Unlock()

	close(s.stop)
	<-s.done

	err := s.release()

	l.mu.Lock()
	l.session = nil
	l.state = LoopStopped
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("Audio capture stopped with error", "session", s.ID, "error", err)
		return err
	}
	l.logger.Info("Audio capture stopped", "session", s.ID)
	return nil
}

// Close 停止采集并关闭窗口通道
func (l *CaptureLoop) Close() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	err := l.stopLocked()
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.windows)
	}
	return err
}

func (l *CaptureLoop) openSession(neg *Negotiated, phoneNumber string) (*session, error) {
	if err := os.MkdirAll(l.cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}

	startedAt := l.now()
	path := filepath.Join(l.cfg.Dir, fmt.Sprintf("call_audio_%d.pcm", startedAt.UnixMilli()))
	sink, err := l.openSink(path)
	if err != nil {
		return nil, fmt.Errorf("create session file: %w", err)
	}

	if err := neg.Device.Start(); err != nil {
		sink.Close()
		os.Remove(path)
		return nil, fmt.Errorf("start audio device: %w", err)
	}

	id := uuid.NewString()
	format := l.negotiator.Format()
	acc := NewWindowAccumulator(WindowConfig{
		Dir:           l.cfg.Dir,
		Format:        format,
		WindowSeconds: l.cfg.WindowSeconds,
		Payload:       l.cfg.Payload,
	}, sink, id, path, l.logger)

	return &session{
		SessionInfo: SessionInfo{
			ID:          id,
			PhoneNumber: phoneNumber,
			Candidate:   neg.Candidate,
			SinkPath:    path,
			Format:      format,
			BufferSize:  neg.BufferSize,
			StartedAt:   startedAt,
		},
		device: neg.Device,
		sink:   sink,
		acc:    acc,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// run 读取/累积/发出循环
func (l *CaptureLoop) run(s *session) {
	defer l.wg.Done()

	buf := make([]byte, s.BufferSize)
	var fatal error

loop:
	for {
		select {
		case <-s.stop:
			break loop
		default:
		}

		n, err := s.device.Read(buf)
		if err != nil {
			fatal = fmt.Errorf("read audio: %w", err)
			break
		}
		if n <= 0 {
			// 短暂欠载，继续读
			continue
		}

		w, err := s.acc.OnBytesRead(buf, n)
		if err != nil {
			fatal = err
			break
		}
		if w != nil {
			w.PhoneNumber = s.PhoneNumber
			l.handoff(*w)
		}
	}
	close(s.done)

	if fatal == nil {
		return
	}

	// Stop 先切到了 Stopping 的话由它负责释放
	if !l.transition(LoopRunning, LoopStopping) {
		return
	}
	l.logger.Error("Audio capture failed", "session", s.ID, "error", fatal)
	if err := s.release(); err != nil {
		l.logger.Warn("Failed to release session", "session", s.ID, "error", err)
	}

	l.mu.Lock()
	l.session = nil
	l.state = LoopStopped
	l.mu.Unlock()

	l.notifyFailure(fatal, s.ID)
}

// handoff 不能让读路径停下来：通道满时最多等 HandoffTimeout，之后丢弃
func (l *CaptureLoop) handoff(w Window) {
	select {
	case l.windows <- w:
	case <-time.After(l.cfg.HandoffTimeout):
		l.logger.Warn("Window channel blocked, dropping window", "session", w.SessionID, "seq", w.Seq)
	}
}

func (l *CaptureLoop) notifyFailure(err error, sessionID string) {
	l.notifier.Notify(interfaces.AudioAnalysisResult{
		IsDeepfake: false,
		Confidence: 0,
		Error:      err.Error(),
		SessionID:  sessionID,
		Timestamp:  l.now().UnixMilli(),
	})
}

func (l *CaptureLoop) setState(s LoopState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

// transition 比较并切换，成功返回 true
func (l *CaptureLoop) transition(from, to LoopState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return false
	}
	l.state = to
	return true
}
