// audio/speaker.go
package audio

import (
	"log/slog"
	"sync"
)

// SpeakerSwitch 包装共享的外放开关：写入前先检查当前状态，只在状态变化时才切换，
// 并记录是否由我们打开，停止监控时只关闭自己打开的外放。
type SpeakerSwitch struct {
	mu     sync.Mutex
	sp     Speakerphone
	owned  bool
	logger *slog.Logger
}

// NewSpeakerSwitch sp 为 nil 时所有操作都是空操作
func NewSpeakerSwitch(sp Speakerphone, logger *slog.Logger) *SpeakerSwitch {
	return &SpeakerSwitch{sp: sp, logger: logger}
}

// Enable 打开外放，返回是否真的发生了切换
func (s *SpeakerSwitch) Enable() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sp == nil || s.sp.IsSpeakerphoneOn() {
		return false, nil
	}
	if err := s.sp.SetSpeakerphoneOn(true); err != nil {
		return false, err
	}
	s.owned = true
	s.logger.Info("Speakerphone enabled")
	return true, nil
}

// Disable 无条件关闭外放（仅在当前为开时写入）
func (s *SpeakerSwitch) Disable() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disableLocked()
}

// DisableIfOwned 只关闭由本开关打开的外放
func (s *SpeakerSwitch) DisableIfOwned() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owned {
		return false, nil
	}
	return s.disableLocked()
}

func (s *SpeakerSwitch) disableLocked() (bool, error) {
	if s.sp == nil || !s.sp.IsSpeakerphoneOn() {
		s.owned = false
		return false, nil
	}
	if err := s.sp.SetSpeakerphoneOn(false); err != nil {
		return false, err
	}
	s.owned = false
	s.logger.Info("Speakerphone disabled")
	return true, nil
}

func (s *SpeakerSwitch) IsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sp != nil && s.sp.IsSpeakerphoneOn()
}

// Owned 当前外放是否由本开关打开
func (s *SpeakerSwitch) Owned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned
}

// MemorySpeakerphone 没有真实外放控制的宿主（桌面）使用的内存实现
type MemorySpeakerphone struct {
	mu     sync.Mutex
	on     bool
	writes int
}

func (m *MemorySpeakerphone) IsSpeakerphoneOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

func (m *MemorySpeakerphone) SetSpeakerphoneOn(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = on
	m.writes++
	return nil
}

// Writes 返回 SetSpeakerphoneOn 被调用的次数
func (m *MemorySpeakerphone) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
