// audio/negotiator.go
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

// Negotiated 协商成功的结果，设备句柄的所有权交给调用方
type Negotiated struct {
	Candidate  Candidate
	Device     CaptureDevice
	BufferSize int
}

// Negotiator 按优先级依次尝试音频源，返回第一个初始化成功的
type Negotiator struct {
	opener   DeviceOpener
	speaker  *SpeakerSwitch
	notifier interfaces.Notifier
	format   Format
	logger   *slog.Logger
	now      func() time.Time
}

func NewNegotiator(opener DeviceOpener, speaker *SpeakerSwitch, notifier interfaces.Notifier, format Format, logger *slog.Logger) *Negotiator {
	if notifier == nil {
		notifier = interfaces.Discard
	}
	if speaker == nil {
		speaker = NewSpeakerSwitch(nil, logger)
	}
	return &Negotiator{
		opener:   opener,
		speaker:  speaker,
		notifier: notifier,
		format:   format,
		logger:   logger.With("component", "negotiator"),
		now:      time.Now,
	}
}

// Candidates 返回 preferDirect 对应的候选列表
func Candidates(preferDirect bool) []Candidate {
	mic := Candidate{Source: SourceMic, RequiresSpeakerphone: true}
	if !preferDirect {
		return []Candidate{mic}
	}
	return []Candidate{
		{Source: SourceVoiceCall},
		{Source: SourceVoiceCommunication},
		mic,
	}
}

// Format 返回协商使用的采集格式
func (n *Negotiator) Format() Format { return n.format }

// Negotiate 单个候选失败不影响整体，只有全部失败才返回 ErrNoSourceAvailable，
// 并且此时会发出一条失败通知。
func (n *Negotiator) Negotiate(preferDirect bool) (*Negotiated, error) {
	bufSize := n.bufferSize()

	var errs []error
	for _, cand := range Candidates(preferDirect) {
		if cand.RequiresSpeakerphone {
			// 必须在打开设备前切换，即使是回退到这一项
			if _, err := n.speaker.Enable(); err != nil {
				n.logger.Warn("Failed to enable speakerphone", "source", cand.Source, "error", err)
			}
		}

		dev, err := n.open(cand.Source, bufSize)
		if err != nil {
			n.logger.Debug("Audio source unavailable", "source", cand.Source, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cand.Source, err))
			continue
		}

		n.logger.Info("Audio source negotiated",
			"source", cand.Source,
			"speakerphone", cand.RequiresSpeakerphone,
			"buffer_size", bufSize)
		return &Negotiated{Candidate: cand, Device: dev, BufferSize: bufSize}, nil
	}

	err := fmt.Errorf("%w: %w", ErrNoSourceAvailable, errors.Join(errs...))
	n.logger.Error("Could not initialize audio recording", "error", err)
	n.notifier.Notify(interfaces.AudioAnalysisResult{
		IsDeepfake: false,
		Confidence: 0,
		Error:      "Could not initialize audio recording",
		Timestamp:  n.now().UnixMilli(),
	})
	return nil, err
}

// ProbeDirect 构造-检测-释放地探测直接通话音频是否可用，不保留任何句柄
func (n *Negotiator) ProbeDirect() bool {
	for _, src := range []Source{SourceVoiceCall, SourceVoiceCommunication} {
		if n.Probe(src) == nil {
			return true
		}
	}
	return false
}

// Probe 打开并立即释放一个源
func (n *Negotiator) Probe(src Source) error {
	dev, err := n.open(src, n.bufferSize())
	if err != nil {
		return err
	}
	if err := dev.Release(); err != nil {
		n.logger.Warn("Failed to release probe device", "source", src, "error", err)
	}
	return nil
}

// open 返回一个已初始化的设备；未初始化的句柄立即释放
func (n *Negotiator) open(src Source, bufSize int) (CaptureDevice, error) {
	dev, err := n.opener.Open(src, n.format, bufSize)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, ErrDeviceNotInitialized
	}
	if !dev.Initialized() {
		if rerr := dev.Release(); rerr != nil {
			n.logger.Warn("Failed to release uninitialized device", "source", src, "error", rerr)
		}
		return nil, ErrDeviceNotInitialized
	}
	return dev, nil
}

func (n *Negotiator) bufferSize() int {
	size := n.opener.MinBufferSize(n.format)
	if size <= 0 {
		// 取 100ms
		size = n.format.SampleRate / 10 * n.format.FrameBytes()
	}
	return size
}
