// pkg/interfaces/events.go
package interfaces

import (
	"log/slog"
	"sync"
)

// 事件名称，与宿主应用订阅的名字保持一致
const (
	EventCallStateChanged    = "CallStateChanged"
	EventAudioWindowReady    = "AudioWindowReady"
	EventAudioAnalysisResult = "AudioAnalysisResult"
)

// Event 是发往通知接收方的出站事件
type Event interface {
	EventName() string
}

// CallStateChanged 每次观察到通话状态变化时产生一次
type CallStateChanged struct {
	State            string `json:"state"` // IDLE/RINGING/OFFHOOK
	IsIncoming       bool   `json:"isIncoming"`
	PhoneNumber      string `json:"phoneNumber"`
	UsingDirectAudio bool   `json:"usingDirectAudio"`
	Timestamp        int64  `json:"timestamp"` // 毫秒
}

func (CallStateChanged) EventName() string { return EventCallStateChanged }

// AudioWindowReady 表示一个分析窗口已经落盘并交给分析器
type AudioWindowReady struct {
	SessionID   string `json:"sessionId"`
	Seq         int    `json:"seq"`
	AudioPath   string `json:"audioPath"`
	SessionPath string `json:"sessionPath"`
	Samples     int    `json:"samples"`
	Timestamp   int64  `json:"timestamp"`
}

func (AudioWindowReady) EventName() string { return EventAudioWindowReady }

// AudioAnalysisResult 分类字段由外部分析器填写；采集失败时 Confidence 为 0 且 Error 非空
type AudioAnalysisResult struct {
	IsDeepfake  bool   `json:"isDeepfake"`
	Confidence  int    `json:"confidence"`
	AudioSample string `json:"audioSample,omitempty"`
	Error       string `json:"error,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	Seq         int    `json:"seq,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

func (AudioAnalysisResult) EventName() string { return EventAudioAnalysisResult }

// Notifier 接收出站事件，尽力投递，不保证送达；实现必须并发安全
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc 让普通函数满足 Notifier
type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Discard 丢弃所有事件
var Discard Notifier = NotifierFunc(func(Event) {})

// MultiNotifier 维护监听者列表，按注册顺序同步分发
type MultiNotifier struct {
	mu        sync.RWMutex
	nextID    int
	listeners []listener
}

type listener struct {
	id int
	n  Notifier
}

func NewMultiNotifier(ns ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range ns {
		m.Add(n)
	}
	return m
}

// Add 注册监听者，返回用于 Remove 的 id
func (m *MultiNotifier) Add(n Notifier) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners = append(m.listeners, listener{id: m.nextID, n: n})
	return m.nextID
}

func (m *MultiNotifier) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *MultiNotifier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

func (m *MultiNotifier) Notify(ev Event) {
	m.mu.RLock()
	ls := m.listeners
	m.mu.RUnlock()

	for _, l := range ls {
		l.n.Notify(ev)
	}
}

// LogNotifier 把事件写进日志，CLI 没有配置宿主连接时使用
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ev Event) {
	switch e := ev.(type) {
	case CallStateChanged:
		n.Logger.Info("Call state changed",
			"state", e.State,
			"incoming", e.IsIncoming,
			"number", e.PhoneNumber,
			"direct_audio", e.UsingDirectAudio)
	case AudioWindowReady:
		n.Logger.Info("Audio window ready",
			"session", e.SessionID,
			"seq", e.Seq,
			"path", e.AudioPath,
			"samples", e.Samples)
	case AudioAnalysisResult:
		if e.Error != "" {
			n.Logger.Warn("Audio analysis failed", "error", e.Error, "session", e.SessionID)
			return
		}
		n.Logger.Info("Audio analysis result",
			"deepfake", e.IsDeepfake,
			"confidence", e.Confidence,
			"sample", e.AudioSample)
	default:
		n.Logger.Debug("Unhandled event", "name", ev.EventName())
	}
}
