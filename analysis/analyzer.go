package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/lisuiheng/callguard-go/audio"
)

var (
	ErrAnalyzerUnavailable = errors.New("analyzer unavailable")
	ErrAnalysisTimeout     = errors.New("analysis timed out")
)

// Result 外部分类器的判定
type Result struct {
	IsDeepfake bool
	Confidence int // 0-100
	Raw        string
}

// Analyzer 对一个窗口做分类；实现必须允许并发调用
type Analyzer interface {
	Analyze(ctx context.Context, w audio.Window) (Result, error)
}

// AnalyzerFunc 让普通函数满足 Analyzer
type AnalyzerFunc func(ctx context.Context, w audio.Window) (Result, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, w audio.Window) (Result, error) {
	return f(ctx, w)
}

// RemoteConfig 远端分析器的编码参数
type RemoteConfig struct {
	Format        string // opus/pcm
	SampleRate    int    // opus 编码采样率
	FrameDuration int    // 毫秒
	Bitrate       int
	Timeout       time.Duration
}

func (c *RemoteConfig) setDefaults() {
	if c.Format == "" {
		c.Format = FormatOpus
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20
	}
	if c.Bitrate <= 0 {
		c.Bitrate = 32000
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

const (
	FormatOpus = "opus"
	FormatPCM  = "pcm"
)
