// audio/accumulator.go
package audio

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PayloadMode 决定窗口携带哪些采样
type PayloadMode string

const (
	// PayloadChunk 只携带越过阈值那一次读到的数据块
	PayloadChunk PayloadMode = "chunk"
	// PayloadFull 携带上次发出窗口以来累积的全部数据
	PayloadFull PayloadMode = "full"
)

// Window 交给外部分析器的一段音频
type Window struct {
	SessionID       string
	Seq             int
	Samples         []int16
	Raw             []byte
	Path            string // 窗口文件，写失败时为空
	SessionPath     string
	PhoneNumber     string // 采集开始时的通话号码
	SampleRate      int
	Channels        int
	DurationSeconds int
	CapturedAt      time.Time
}

// WindowConfig 窗口参数
type WindowConfig struct {
	Dir           string
	Format        Format
	WindowSeconds int
	Payload       PayloadMode
}

// WindowAccumulator 把读到的字节直写到会话文件，同时按采样计数，达到阈值时发出窗口并清零。
// 只在采集 worker 上使用，不是并发安全的。
type WindowAccumulator struct {
	cfg         WindowConfig
	sink        io.Writer
	sessionID   string
	sessionPath string
	threshold   int // 采样帧
	pending     int // 字节
	full        []byte
	seq         int
	logger      *slog.Logger
	now         func() time.Time
}

func NewWindowAccumulator(cfg WindowConfig, sink io.Writer, sessionID, sessionPath string, logger *slog.Logger) *WindowAccumulator {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 5
	}
	if cfg.Payload == "" {
		cfg.Payload = PayloadChunk
	}
	return &WindowAccumulator{
		cfg:         cfg,
		sink:        sink,
		sessionID:   sessionID,
		sessionPath: sessionPath,
		threshold:   cfg.Format.SampleRate * cfg.WindowSeconds,
		logger:      logger,
		now:         time.Now,
	}
}

// Threshold 一个窗口需要的采样帧数
func (a *WindowAccumulator) Threshold() int { return a.threshold }

// PendingSamples 当前窗口已累积的采样帧数
func (a *WindowAccumulator) PendingSamples() int {
	return a.pending / a.cfg.Format.FrameBytes()
}

// OnBytesRead 处理一次读取的 buf[:n]。写会话文件失败返回 ErrSinkWrite，此时本块不计数。
func (a *WindowAccumulator) OnBytesRead(buf []byte, n int) (*Window, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > len(buf) {
		n = len(buf)
	}
	chunk := buf[:n]

	if _, err := a.sink.Write(chunk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}

	a.pending += n
	if a.cfg.Payload == PayloadFull {
		a.full = append(a.full, chunk...)
	}

	if a.PendingSamples() < a.threshold {
		return nil, nil
	}

	var raw []byte
	if a.cfg.Payload == PayloadFull {
		raw = a.full
	} else {
		raw = make([]byte, n)
		copy(raw, chunk)
	}

	a.seq++
	w := &Window{
		SessionID:       a.sessionID,
		Seq:             a.seq,
		Samples:         BytesToInt16(raw),
		Raw:             raw,
		SessionPath:     a.sessionPath,
		SampleRate:      a.cfg.Format.SampleRate,
		Channels:        a.cfg.Format.Channels,
		DurationSeconds: a.cfg.WindowSeconds,
		CapturedAt:      a.now(),
	}

	path, err := a.writeWindowFile(raw, w.CapturedAt)
	if err != nil {
		a.logger.Warn("Failed to write window file", "seq", a.seq, "error", err)
	} else {
		w.Path = path
	}

	a.Reset()
	return w, nil
}

// Reset 清零计数，全量模式下换一块新缓冲而不是复用
func (a *WindowAccumulator) Reset() {
	a.pending = 0
	a.full = nil
}

func (a *WindowAccumulator) writeWindowFile(raw []byte, at time.Time) (string, error) {
	name := fmt.Sprintf("audio_chunk_%d_%d.pcm", at.UnixMilli(), a.seq)
	path := filepath.Join(a.cfg.Dir, name)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", err
	}
	return path, nil
}
