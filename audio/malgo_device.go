package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// malgoDevice 把 malgo 的回调式采集包装成阻塞读。
// 初始化失败时仍返回对象，Initialized 为 false，由协商方负责 Release。
type malgoDevice struct {
	kind        malgo.DeviceType
	ctx         *malgo.AllocatedContext
	device      *malgo.Device
	initErr     error
	data        chan []byte
	pending     []byte
	lost        chan struct{}
	lostOnce    sync.Once
	released    atomic.Bool
	dropped     atomic.Int64
	readTimeout time.Duration
	logger      *slog.Logger
}

func newMalgoDevice(kind malgo.DeviceType, f Format, bufferSize int, logger *slog.Logger) *malgoDevice {
	d := &malgoDevice{
		kind:        kind,
		data:        make(chan []byte, 64),
		lost:        make(chan struct{}),
		readTimeout: 200 * time.Millisecond,
		logger:      logger,
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		d.initErr = fmt.Errorf("failed to initialize audio context: %w", err)
		return d
	}
	d.ctx = ctx

	// 创建设备配置
	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	if frames := bufferSize / f.FrameBytes(); frames > 0 {
		deviceConfig.PeriodSizeInFrames = uint32(frames)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		d.initErr = fmt.Errorf("failed to initialize audio device: %w", err)
		return d
	}
	d.device = device
	return d
}

// onData 运行在音频线程上，不能阻塞
func (d *malgoDevice) onData(_, pInputSample []byte, _ uint32) {
	if len(pInputSample) == 0 {
		return
	}
	b := make([]byte, len(pInputSample))
	copy(b, pInputSample)
	select {
	case d.data <- b:
	default:
		d.dropped.Add(1)
	}
}

func (d *malgoDevice) onStop() {
	if d.released.Load() {
		return
	}
	d.lostOnce.Do(func() { close(d.lost) })
}

func (d *malgoDevice) Initialized() bool {
	return d.initErr == nil && d.device != nil
}

func (d *malgoDevice) Start() error {
	if !d.Initialized() {
		return ErrDeviceNotInitialized
	}
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("failed to start audio device: %w", err)
	}
	return nil
}

func (d *malgoDevice) Read(p []byte) (int, error) {
	if d.released.Load() {
		return 0, ErrDeviceClosed
	}
	if len(d.pending) == 0 {
		select {
		case b := <-d.data:
			d.pending = b
		case <-d.lost:
			return 0, ErrDeviceLost
		case <-time.After(d.readTimeout):
			return 0, nil
		}
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *malgoDevice) Release() error {
	if !d.released.CompareAndSwap(false, true) {
		return nil
	}
	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		err := d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
		if err != nil {
			return fmt.Errorf("failed to uninit audio context: %w", err)
		}
	}
	if n := d.dropped.Load(); n > 0 {
		d.logger.Warn("Audio callbacks dropped", "count", n)
	}
	return nil
}
