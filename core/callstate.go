package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

// CallState 由原始信号推导出的通话状态，不持久化
type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallOffhook
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "IDLE"
	case CallRinging:
		return "RINGING"
	case CallOffhook:
		return "OFFHOOK"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

func callStateFromRaw(raw interfaces.RawCallState) (CallState, bool) {
	switch raw {
	case interfaces.RawIdle:
		return CallIdle, true
	case interfaces.RawRinging:
		return CallRinging, true
	case interfaces.RawOffhook:
		return CallOffhook, true
	default:
		return 0, false
	}
}

// Capture 状态机驱动的采集控制，audio.CaptureLoop 实现了它
type Capture interface {
	StartCall(preferDirect bool, phoneNumber string) error
	Stop() error
	IsRecording() bool
}

// CallInfo 当前通话的信息，用于给检测记录标注号码
type CallInfo struct {
	PhoneNumber string
	State       CallState
	Incoming    bool // 经过 RINGING 进入的通话
	StartedAt   time.Time
}

// CallStateMachine 把原始通话信号映射为 CallState，驱动采集启停并发出事件。
//
// HandleSignal 在宿主投递信号的线程上执行，整个处理过程持有 mu，
// 因此事件按信号顺序发出。未 Attach 时不产生任何事件。
type CallStateMachine struct {
	mu           sync.Mutex
	capture      Capture
	notifier     interfaces.Notifier
	logger       *slog.Logger
	now          func() time.Time
	state        CallState
	current      CallInfo
	preferDirect bool
	enabled      bool
}

func NewCallStateMachine(capture Capture, notifier interfaces.Notifier, logger *slog.Logger) *CallStateMachine {
	if notifier == nil {
		notifier = interfaces.Discard
	}
	return &CallStateMachine{
		capture:  capture,
		notifier: notifier,
		logger:   logger.With("component", "callstate"),
		now:      time.Now,
		state:    CallIdle,
	}
}

// Attach 开始处理信号
func (m *CallStateMachine) Attach(preferDirect bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.preferDirect = preferDirect
}

// Detach 停止处理信号；返回时正在处理的信号已经结束
func (m *CallStateMachine) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
	m.state = CallIdle
	m.current = CallInfo{}
}

// SetPreferDirect 只影响之后的通话
func (m *CallStateMachine) SetPreferDirect(preferDirect bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferDirect = preferDirect
}

func (m *CallStateMachine) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *CallStateMachine) State() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *CallStateMachine) CurrentCall() CallInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// HandleSignal 满足 interfaces.CallStateHandler
func (m *CallStateMachine) HandleSignal(raw interfaces.RawCallState, phoneNumber string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}

	next, ok := callStateFromRaw(raw)
	if !ok {
		m.logger.Warn("Ignoring unknown call state signal", "raw", raw)
		return
	}

	// 挂断时无论之前是什么状态都要停止采集
	if next == CallIdle && m.capture.IsRecording() {
		if err := m.capture.Stop(); err != nil {
			m.logger.Error("Failed to stop audio capture", "error", err)
		}
	}

	prev := m.state
	if next == prev {
		m.logger.Debug("Duplicate call state signal", "state", next)
		return
	}
	m.state = next

	var incoming bool
	switch next {
	case CallIdle:
		m.current = CallInfo{}
	case CallRinging:
		incoming = true
		m.current = CallInfo{PhoneNumber: phoneNumber, State: next, Incoming: true, StartedAt: m.now()}
	case CallOffhook:
		// 没有经过 RINGING 的摘机无法判断方向，按非来电处理
		if prev == CallRinging {
			m.current.State = next
			if phoneNumber != "" {
				m.current.PhoneNumber = phoneNumber
			}
		} else {
			m.current = CallInfo{PhoneNumber: phoneNumber, State: next, StartedAt: m.now()}
		}
		// 采集失败不影响状态上报
		if err := m.capture.StartCall(m.preferDirect, m.current.PhoneNumber); err != nil {
			m.logger.Error("Failed to start audio capture", "error", err)
		}
	}

	if phoneNumber == "" {
		phoneNumber = "Unknown"
	}
	m.logger.Info("Call state changed", "from", prev, "to", next)
	m.notifier.Notify(interfaces.CallStateChanged{
		State:            next.String(),
		IsIncoming:       incoming,
		PhoneNumber:      phoneNumber,
		UsingDirectAudio: m.preferDirect,
		Timestamp:        m.now().UnixMilli(),
	})
}
