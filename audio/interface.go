// audio/interface.go
package audio

import "fmt"

// Source 硬件音频源
type Source int

const (
	SourceVoiceCall          Source = iota // 直接采集通话上下行
	SourceVoiceCommunication               // 通话处理后的上行
	SourceMic                              // 麦克风，需要外放才能录到对端
)

func (s Source) String() string {
	switch s {
	case SourceVoiceCall:
		return "voice_call"
	case SourceVoiceCommunication:
		return "voice_communication"
	case SourceMic:
		return "mic"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource 与 String 对应，用于配置文件
func ParseSource(s string) (Source, error) {
	switch s {
	case "voice_call":
		return SourceVoiceCall, nil
	case "voice_communication":
		return SourceVoiceCommunication, nil
	case "mic":
		return SourceMic, nil
	default:
		return 0, fmt.Errorf("unknown audio source %q", s)
	}
}

// Candidate 协商列表中的一项，列表是静态的
type Candidate struct {
	Source               Source
	RequiresSpeakerphone bool
}

// Format 采集格式，固定为 PCM16
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat 44100Hz / 单声道 / 16bit
func DefaultFormat() Format {
	return Format{SampleRate: 44100, Channels: 1}
}

// FrameBytes 一个采样帧的字节数
func (f Format) FrameBytes() int {
	if f.Channels <= 0 {
		return 2
	}
	return 2 * f.Channels
}

// CaptureDevice 一个已分配的采集设备句柄
//
// Open 之后必须先检查 Initialized；无论是否初始化成功都要调用且只调用一次 Release。
// Read 阻塞直到有数据或内部超时，返回 (0, nil) 表示暂时没有数据。
type CaptureDevice interface {
	Initialized() bool
	Start() error
	Read(p []byte) (int, error)
	Release() error
}

// DeviceOpener 设备构造隔离在这里，测试中可以替换成假实现
type DeviceOpener interface {
	MinBufferSize(f Format) int
	Open(src Source, f Format, bufferSize int) (CaptureDevice, error)
}

// Speakerphone 外放开关，是与宿主共享的外部资源
type Speakerphone interface {
	IsSpeakerphoneOn() bool
	SetSpeakerphoneOn(on bool) error
}
