package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lisuiheng/callguard-go/audio"
	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

// TelephonyFactory 分配通话状态观察句柄，Initialize 只调用一次
type TelephonyFactory func(ctx context.Context) (interfaces.TelephonySource, error)

// DirectProber 探测硬件是否支持直接通话音频，audio.Negotiator 实现了它
type DirectProber interface {
	ProbeDirect() bool
}

// MonitorOptions NewMonitorController 的依赖
type MonitorOptions struct {
	Telephony    TelephonyFactory
	Capabilities interfaces.Capabilities
	Capture      Capture
	Prober       DirectProber // 可为空，为空时只看能力层
	Speaker      *audio.SpeakerSwitch
	Notifier     interfaces.Notifier
	Logger       *slog.Logger
}

// MonitorController 对外的门面：初始化、能力查询、监控启停，以及状态机和采集之间的连线。
// 所有方法返回 nil 或 *Error，不会 panic。
type MonitorController struct {
	mu           sync.Mutex
	telephony    TelephonyFactory
	caps         interfaces.Capabilities
	capture      Capture
	prober       DirectProber
	speaker      *audio.SpeakerSwitch
	machine      *CallStateMachine
	source       interfaces.TelephonySource
	monitoring   bool
	preferDirect bool
	logger       *slog.Logger
}

func NewMonitorController(opts MonitorOptions) (*MonitorController, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if opts.Telephony == nil {
		return nil, errors.New("telephony factory cannot be nil")
	}
	if opts.Capabilities == nil {
		return nil, errors.New("capabilities cannot be nil")
	}
	if opts.Capture == nil {
		return nil, errors.New("capture cannot be nil")
	}
	if opts.Speaker == nil {
		opts.Speaker = audio.NewSpeakerSwitch(nil, opts.Logger)
	}

	return &MonitorController{
		telephony: opts.Telephony,
		caps:      opts.Capabilities,
		capture:   opts.Capture,
		prober:    opts.Prober,
		speaker:   opts.Speaker,
		machine:   NewCallStateMachine(opts.Capture, opts.Notifier, opts.Logger),
		logger:    opts.Logger.With("component", "monitor"),
	}, nil
}

// Initialize 幂等，分配一次观察句柄
func (c *MonitorController) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initializeLocked(ctx)
}

func (c *MonitorController) initializeLocked(ctx context.Context) error {
	if c.source != nil {
		return nil
	}
	source, err := c.telephony(ctx)
	if err != nil {
		c.logger.Error("Failed to initialize telephony source", "error", err)
		return newError(CodeInitializationFailed, "could not initialize telephony source", err)
	}
	if source == nil {
		return newError(CodeInitializationFailed, "could not initialize telephony source", ErrTelephonyUnavailable)
	}
	c.source = source
	c.logger.Info("Telephony source initialized")
	return nil
}

// StartMonitoring 幂等；需要时先初始化，权限不足时不启动
func (c *MonitorController) StartMonitoring(ctx context.Context, preferDirect bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.monitoring {
		return nil
	}

	if !c.caps.HasRequiredPermissions() {
		c.logger.Warn("Required permissions not granted")
		return newError(CodePermissionDenied, "required permissions not granted", ErrPermissionDenied)
	}

	if err := c.initializeLocked(ctx); err != nil {
		return err
	}

	c.machine.Attach(preferDirect)
	if err := c.source.Listen(c.machine.HandleSignal); err != nil {
		c.machine.Detach()
		c.logger.Error("Failed to listen for call state", "error", err)
		return newError(CodeStartMonitoringFailed, "could not attach to telephony source", err)
	}

	c.preferDirect = preferDirect
	c.monitoring = true
	c.logger.Info("Call monitoring started", "prefer_direct", preferDirect)
	return nil
}

// StopMonitoring 幂等：解除监听，停止采集，关闭本程序打开的外放，清除监控标志
func (c *MonitorController) StopMonitoring(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.monitoring {
		return nil
	}

	var errs []error
	if err := c.source.Unlisten(); err != nil {
		errs = append(errs, err)
	}
	c.machine.Detach()

	if err := c.capture.Stop(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.speaker.DisableIfOwned(); err != nil {
		errs = append(errs, err)
	}

	c.monitoring = false
	c.logger.Info("Call monitoring stopped")

	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.logger.Error("Errors while stopping monitoring", "error", err)
		return newError(CodeStopMonitoringFailed, "monitoring stopped with errors", err)
	}
	return nil
}

// RefreshMonitoring 修改之后通话使用的采集模式，当前会话不受影响
func (c *MonitorController) RefreshMonitoring(preferDirect bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.preferDirect = preferDirect
	c.machine.SetPreferDirect(preferDirect)
	c.logger.Info("Monitoring refreshed", "prefer_direct", preferDirect)
	return nil
}

func (c *MonitorController) IsMonitoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitoring
}

// IsAvailable 所需权限是否都已授予
func (c *MonitorController) IsAvailable() bool {
	return c.caps.HasRequiredPermissions()
}

// CanAccessCallAudio 需要能力层允许且硬件支持。录音中不做探测，避免和当前句柄抢设备。
func (c *MonitorController) CanAccessCallAudio() bool {
	if !c.caps.HasDirectAudioCapability() {
		return false
	}
	if c.prober == nil || c.capture.IsRecording() {
		return true
	}
	return c.prober.ProbeDirect()
}

func (c *MonitorController) RequestPermissions(ctx context.Context) (bool, error) {
	granted, err := c.caps.RequestPermissions(ctx)
	if err != nil {
		return false, newError(CodePermissionRequestFailed, "permission request failed", err)
	}
	return granted, nil
}

// PromptLoudspeaker 外放未开启时打开
func (c *MonitorController) PromptLoudspeaker() error {
	changed, err := c.speaker.Enable()
	if err != nil {
		return newError(CodeSpeakerError, "could not enable speakerphone", err)
	}
	if changed {
		c.logger.Info("Please keep speakerphone on for voice analysis")
	}
	return nil
}

// EndCall 本平台没有安全的实现，总是失败
func (c *MonitorController) EndCall() error {
	return newError(CodeOperationNotSupported, "ending calls programmatically is not supported", ErrUnsupportedOperation)
}

func (c *MonitorController) CallState() CallState {
	return c.machine.State()
}

func (c *MonitorController) CurrentCall() CallInfo {
	return c.machine.CurrentCall()
}

func (c *MonitorController) IsRecording() bool {
	return c.capture.IsRecording()
}

// PreferDirect 当前监控使用的采集模式
func (c *MonitorController) PreferDirect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preferDirect
}
