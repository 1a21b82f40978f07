// pkg/interfaces/telephony.go
package interfaces

import (
	"context"
	"fmt"
	"strings"
)

// RawCallState 宿主电话平台上报的原始通话状态
type RawCallState int

const (
	RawIdle RawCallState = iota
	RawRinging
	RawOffhook
)

func (s RawCallState) String() string {
	switch s {
	case RawIdle:
		return "idle"
	case RawRinging:
		return "ringing"
	case RawOffhook:
		return "offhook"
	default:
		return fmt.Sprintf("raw(%d)", int(s))
	}
}

// ParseRawCallState 接受 idle/ringing/offhook，大小写不敏感
func ParseRawCallState(s string) (RawCallState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return RawIdle, nil
	case "ringing":
		return RawRinging, nil
	case "offhook", "off_hook", "off-hook":
		return RawOffhook, nil
	default:
		return 0, fmt.Errorf("unknown call state %q", s)
	}
}

// CallStateHandler 在宿主投递信号的线程上被调用，phoneNumber 可能为空
type CallStateHandler func(state RawCallState, phoneNumber string)

// TelephonySource 通话状态观察句柄；Listen 只能挂一个 handler，重复 Listen 替换旧的
type TelephonySource interface {
	Listen(handler CallStateHandler) error
	Unlisten() error
}

// Capabilities 权限/能力查询层，对核心来说只是几个布尔值
type Capabilities interface {
	HasRequiredPermissions() bool
	HasDirectAudioCapability() bool
	RequestPermissions(ctx context.Context) (bool, error)
}
