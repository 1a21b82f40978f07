package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lisuiheng/callguard-go/audio"
)

// Config 是整个程序的配置结构，字段与 YAML 文件一一对应
type Config struct {
	Monitor struct {
		PreferDirect bool `mapstructure:"prefer_direct"`
	} `mapstructure:"monitor"`

	Capture struct {
		Dir           string `mapstructure:"dir"`
		SampleRate    int    `mapstructure:"sample_rate"`
		Channels      int    `mapstructure:"channels"`
		WindowSeconds int    `mapstructure:"window_seconds"`
		FrameDuration int    `mapstructure:"frame_duration"` // 毫秒
		Payload       string `mapstructure:"payload"`        // chunk/full
		QueueSize     int    `mapstructure:"queue_size"`
	} `mapstructure:"capture"`

	Audio struct {
		Backends map[string]string `mapstructure:"backends"` // source -> backend
	} `mapstructure:"audio"`

	Capabilities struct {
		PermissionsGranted bool `mapstructure:"permissions_granted"`
		DirectAudio        bool `mapstructure:"direct_audio"`
		ProbeHardware      bool `mapstructure:"probe_hardware"`
	} `mapstructure:"capabilities"`

	Notifier struct {
		Websocket *WebsocketConfig `mapstructure:"websocket"`
	} `mapstructure:"notifier"`

	Analyzer struct {
		Transport     string           `mapstructure:"transport"` // websocket/none
		Websocket     *WebsocketConfig `mapstructure:"websocket"`
		Format        string           `mapstructure:"format"` // opus/pcm
		SampleRate    int              `mapstructure:"sample_rate"`
		FrameDuration int              `mapstructure:"frame_duration"`
		Bitrate       int              `mapstructure:"bitrate"`
		Timeout       time.Duration    `mapstructure:"timeout"`
		Workers       int              `mapstructure:"workers"`
		Queue         int              `mapstructure:"queue"`
	} `mapstructure:"analyzer"`

	History struct {
		Size      int `mapstructure:"size"`
		Threshold int `mapstructure:"threshold"` // 置信度达到该值才算告警
	} `mapstructure:"history"`

	Logging struct {
		Level      string   `mapstructure:"level"`
		Format     string   `mapstructure:"format"`
		Outputs    []string `mapstructure:"outputs"`
		MaxSizeMB  int      `mapstructure:"max_size_mb"`
		MaxBackups int      `mapstructure:"max_backups"`
	} `mapstructure:"logging"`
}

type WebsocketConfig struct {
	URL         string `mapstructure:"url"`
	AccessToken string `mapstructure:"access_token"`
	ClientID    string `mapstructure:"client_id"`
}

// DefaultConfig 返回默认配置，配置文件里没写的字段保持这些值
func DefaultConfig() Config {
	var cfg Config
	cfg.Capture.Dir = filepath.Join(os.TempDir(), "callguard")
	cfg.Capture.SampleRate = 44100
	cfg.Capture.Channels = 1
	cfg.Capture.WindowSeconds = 5
	cfg.Capture.FrameDuration = 60
	cfg.Capture.Payload = string(audio.PayloadChunk)
	cfg.Capture.QueueSize = 16

	cfg.Audio.Backends = map[string]string{}
	for src, b := range audio.DefaultBackends() {
		cfg.Audio.Backends[src.String()] = string(b)
	}

	cfg.Capabilities.PermissionsGranted = true
	cfg.Capabilities.ProbeHardware = true

	cfg.Analyzer.Transport = "none"
	cfg.Analyzer.Format = "opus"
	cfg.Analyzer.SampleRate = 16000
	cfg.Analyzer.FrameDuration = 20
	cfg.Analyzer.Bitrate = 32000
	cfg.Analyzer.Timeout = 10 * time.Second
	cfg.Analyzer.Workers = 2
	cfg.Analyzer.Queue = 8

	cfg.History.Size = 100
	cfg.History.Threshold = 75

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.Outputs = []string{"stdout"}
	cfg.Logging.MaxSizeMB = 20
	cfg.Logging.MaxBackups = 3
	return cfg
}

// Validate 检查取值范围
func (c Config) Validate() error {
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be positive, got %d", c.Capture.SampleRate)
	}
	if c.Capture.Channels <= 0 {
		return fmt.Errorf("capture.channels must be positive, got %d", c.Capture.Channels)
	}
	if c.Capture.WindowSeconds <= 0 {
		return fmt.Errorf("capture.window_seconds must be positive, got %d", c.Capture.WindowSeconds)
	}
	switch audio.PayloadMode(c.Capture.Payload) {
	case audio.PayloadChunk, audio.PayloadFull:
	default:
		return fmt.Errorf("capture.payload must be chunk or full, got %q", c.Capture.Payload)
	}
	if _, err := c.AudioBackends(); err != nil {
		return err
	}
	switch c.Analyzer.Transport {
	case "", "none":
	case "websocket":
		if c.Analyzer.Websocket == nil || c.Analyzer.Websocket.URL == "" {
			return fmt.Errorf("analyzer.websocket.url is required for websocket transport")
		}
	default:
		return fmt.Errorf("unsupported analyzer transport: %s", c.Analyzer.Transport)
	}
	switch c.Analyzer.Format {
	case "opus", "pcm":
	default:
		return fmt.Errorf("analyzer.format must be opus or pcm, got %q", c.Analyzer.Format)
	}
	if c.History.Threshold < 0 || c.History.Threshold > 100 {
		return fmt.Errorf("history.threshold must be within 0-100, got %d", c.History.Threshold)
	}
	return nil
}

// AudioFormat 采集格式
func (c Config) AudioFormat() audio.Format {
	return audio.Format{SampleRate: c.Capture.SampleRate, Channels: c.Capture.Channels}
}

// CaptureConfig 转换成 audio.CaptureConfig
func (c Config) CaptureConfig() audio.CaptureConfig {
	return audio.CaptureConfig{
		Dir:           c.Capture.Dir,
		Format:        c.AudioFormat(),
		WindowSeconds: c.Capture.WindowSeconds,
		Payload:       audio.PayloadMode(c.Capture.Payload),
		QueueSize:     c.Capture.QueueSize,
	}
}

// AudioBackends 解析 audio.backends，未配置的源使用默认映射
func (c Config) AudioBackends() (map[audio.Source]audio.Backend, error) {
	backends := audio.DefaultBackends()
	for name, b := range c.Audio.Backends {
		src, err := audio.ParseSource(name)
		if err != nil {
			return nil, fmt.Errorf("audio.backends: %w", err)
		}
		switch backend := audio.Backend(b); backend {
		case audio.BackendMalgo, audio.BackendMalgoLoopback, audio.BackendPortAudio, audio.BackendNone:
			backends[src] = backend
		default:
			return nil, fmt.Errorf("audio.backends.%s: unknown backend %q", name, b)
		}
	}
	return backends, nil
}
