package telephony

import (
	"context"
	"sync"

	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

var _ interfaces.Capabilities = (*StaticCapabilities)(nil)

// StaticCapabilities 由配置决定的能力层；GrantOnRequest 为 true 时请求权限即授予
type StaticCapabilities struct {
	mu             sync.Mutex
	granted        bool
	direct         bool
	GrantOnRequest bool
}

func NewStaticCapabilities(granted, direct bool) *StaticCapabilities {
	return &StaticCapabilities{granted: granted, direct: direct}
}

func (c *StaticCapabilities) HasRequiredPermissions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.granted
}

func (c *StaticCapabilities) HasDirectAudioCapability() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direct
}

func (c *StaticCapabilities) RequestPermissions(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GrantOnRequest {
		c.granted = true
	}
	return c.granted, nil
}

// SetPermissions 模拟用户在系统设置里修改权限
func (c *StaticCapabilities) SetPermissions(granted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.granted = granted
}
