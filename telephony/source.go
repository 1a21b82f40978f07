package telephony

import (
	"log/slog"
	"sync"

	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

var _ interfaces.TelephonySource = (*Source)(nil)

// Source 进程内的通话状态来源，信号通过 Emit 注入。
// 信号串行投递，handler 在调用 Emit 的 goroutine 上执行。
type Source struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	handler   interfaces.CallStateHandler
	logger    *slog.Logger
}

func NewSource(logger *slog.Logger) *Source {
	return &Source{logger: logger.With("component", "telephony")}
}

// Listen 重复调用时替换旧的 handler
func (s *Source) Listen(handler interfaces.CallStateHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	return nil
}

func (s *Source) Unlisten() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
	return nil
}

func (s *Source) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// Emit 投递一个信号，没有 handler 时丢弃并返回 false
func (s *Source) Emit(state interfaces.RawCallState, phoneNumber string) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	if h == nil {
		s.logger.Debug("No listener, dropping call state signal", "state", state)
		return false
	}
	h(state, phoneNumber)
	return true
}
