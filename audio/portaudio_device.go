package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// portaudioDevice 使用 PortAudio 的阻塞读接口
type portaudioDevice struct {
	stream      *portaudio.Stream
	buffer      []int16
	initErr     error
	initialized bool // portaudio.Initialize 是否成功，决定是否需要 Terminate
	releaseOnce sync.Once
	logger      *slog.Logger
}

func newPortaudioDevice(f Format, bufferSize int, logger *slog.Logger) *portaudioDevice {
	d := &portaudioDevice{logger: logger}

	// 初始化PortAudio
	if err := portaudio.Initialize(); err != nil {
		d.initErr = fmt.Errorf("failed to initialize PortAudio: %w", err)
		return d
	}
	d.initialized = true

	frames := bufferSize / f.FrameBytes()
	if frames <= 0 {
		frames = f.SampleRate / 50
	}
	d.buffer = make([]int16, frames*f.Channels)

	stream, err := portaudio.OpenDefaultStream(
		f.Channels,            // 输入通道数
		0,                     // 输出通道数(0表示不播放)
		float64(f.SampleRate), // 采样率
		frames,
		d.buffer,
	)
	if err != nil {
		d.initErr = fmt.Errorf("failed to open audio stream: %w", err)
		return d
	}
	d.stream = stream
	return d
}

func (d *portaudioDevice) Initialized() bool {
	return d.initErr == nil && d.stream != nil
}

func (d *portaudioDevice) Start() error {
	if !d.Initialized() {
		return ErrDeviceNotInitialized
	}
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	return nil
}

func (d *portaudioDevice) Read(p []byte) (int, error) {
	if d.stream == nil {
		return 0, ErrDeviceClosed
	}
	if err := d.stream.Read(); err != nil {
		// 输入溢出只丢了一部分数据，本次缓冲仍然有效
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, err
		}
		d.logger.Debug("PortAudio input overflowed")
	}
	return Int16ToBytes(p, d.buffer), nil
}

func (d *portaudioDevice) Release() error {
	var err error
	d.releaseOnce.Do(func() {
		if d.stream != nil {
			// 停止并关闭音频流
			if serr := d.stream.Stop(); serr != nil {
				d.logger.Debug("failed to stop audio stream", "error", serr)
			}
			if cerr := d.stream.Close(); cerr != nil {
				err = fmt.Errorf("failed to close audio stream: %w", cerr)
			}
			d.stream = nil
		}
		if d.initialized {
			// 终止PortAudio
			if terr := portaudio.Terminate(); terr != nil && err == nil {
				err = fmt.Errorf("failed to terminate PortAudio: %w", terr)
			}
		}
	})
	return err
}
