package audio

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"
)

// Backend 把一个音频源映射到具体的采集实现
type Backend string

const (
	BackendMalgo         Backend = "malgo"          // 默认采集设备
	BackendMalgoLoopback Backend = "malgo-loopback" // 系统输出回环，仅 WASAPI 支持
	BackendPortAudio     Backend = "portaudio"      // 默认输入流，阻塞读
	BackendNone          Backend = "none"           // 该源在本机不可用
)

// DefaultBackends 桌面宿主上的映射：回环近似通话下行，PortAudio 输入近似通话上行
func DefaultBackends() map[Source]Backend {
	return map[Source]Backend{
		SourceVoiceCall:          BackendMalgoLoopback,
		SourceVoiceCommunication: BackendPortAudio,
		SourceMic:                BackendMalgo,
	}
}

// HostOpener 根据映射打开真实设备
type HostOpener struct {
	backends      map[Source]Backend
	frameDuration int // 毫秒
	logger        *slog.Logger
}

func NewHostOpener(backends map[Source]Backend, frameDuration int, logger *slog.Logger) *HostOpener {
	if backends == nil {
		backends = DefaultBackends()
	}
	if frameDuration <= 0 {
		frameDuration = 60
	}
	return &HostOpener{
		backends:      backends,
		frameDuration: frameDuration,
		logger:        logger.With("component", "device"),
	}
}

// MinBufferSize 一个周期（frameDuration 毫秒）的字节数
func (o *HostOpener) MinBufferSize(f Format) int {
	frames := f.SampleRate * o.frameDuration / 1000
	return frames * f.FrameBytes()
}

func (o *HostOpener) Open(src Source, f Format, bufferSize int) (CaptureDevice, error) {
	backend, ok := o.backends[src]
	if !ok {
		backend = BackendNone
	}

	o.logger.Debug("Opening audio device", "source", src, "backend", backend, "buffer_size", bufferSize)
	switch backend {
	case BackendMalgo:
		return newMalgoDevice(malgo.Capture, f, bufferSize, o.logger), nil
	case BackendMalgoLoopback:
		return newMalgoDevice(malgo.Loopback, f, bufferSize, o.logger), nil
	case BackendPortAudio:
		return newPortaudioDevice(f, bufferSize, o.logger), nil
	case BackendNone:
		return nil, fmt.Errorf("%w: %s", ErrSourceUnsupported, src)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q for %s", ErrSourceUnsupported, backend, src)
	}
}
