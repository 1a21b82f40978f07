package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lisuiheng/callguard-go/core"
	"github.com/lisuiheng/callguard-go/logger"
	"github.com/spf13/viper"
)

// loadConfig 加载配置文件；找不到配置文件时使用默认值
func loadConfig(configPath string) (core.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		// 使用命令行指定的路径
		v.SetConfigFile(configPath)
	} else {
		// 默认多路径搜索
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/callguard")
	}

	// 环境变量只对 viper 已知的键生效，所以先把默认值全部登记
	setDefaults(v, core.DefaultConfig())
	v.SetEnvPrefix("CALLGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return core.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := core.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return core.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults 以 CALLGUARD_<SECTION>_<KEY> 形式覆盖的键都要在这里出现
func setDefaults(v *viper.Viper, cfg core.Config) {
	v.SetDefault("monitor.prefer_direct", cfg.Monitor.PreferDirect)

	v.SetDefault("capture.dir", cfg.Capture.Dir)
	v.SetDefault("capture.sample_rate", cfg.Capture.SampleRate)
	v.SetDefault("capture.channels", cfg.Capture.Channels)
	v.SetDefault("capture.window_seconds", cfg.Capture.WindowSeconds)
	v.SetDefault("capture.frame_duration", cfg.Capture.FrameDuration)
	v.SetDefault("capture.payload", cfg.Capture.Payload)
	v.SetDefault("capture.queue_size", cfg.Capture.QueueSize)

	for src, backend := range cfg.Audio.Backends {
		v.SetDefault("audio.backends."+src, backend)
	}

	v.SetDefault("capabilities.permissions_granted", cfg.Capabilities.PermissionsGranted)
	v.SetDefault("capabilities.direct_audio", cfg.Capabilities.DirectAudio)
	v.SetDefault("capabilities.probe_hardware", cfg.Capabilities.ProbeHardware)

	for _, prefix := range []string{"notifier.websocket.", "analyzer.websocket."} {
		v.SetDefault(prefix+"url", "")
		v.SetDefault(prefix+"access_token", "")
		v.SetDefault(prefix+"client_id", "")
	}

	v.SetDefault("analyzer.transport", cfg.Analyzer.Transport)
	v.SetDefault("analyzer.format", cfg.Analyzer.Format)
	v.SetDefault("analyzer.sample_rate", cfg.Analyzer.SampleRate)
	v.SetDefault("analyzer.frame_duration", cfg.Analyzer.FrameDuration)
	v.SetDefault("analyzer.bitrate", cfg.Analyzer.Bitrate)
	v.SetDefault("analyzer.timeout", cfg.Analyzer.Timeout)
	v.SetDefault("analyzer.workers", cfg.Analyzer.Workers)
	v.SetDefault("analyzer.queue", cfg.Analyzer.Queue)

	v.SetDefault("history.size", cfg.History.Size)
	v.SetDefault("history.threshold", cfg.History.Threshold)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.outputs", cfg.Logging.Outputs)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config) error {
	logCfg := logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Outputs:    cfg.Logging.Outputs,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}

	// 调试模式覆盖配置
	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	if err := logger.Init(logCfg); err != nil {
		return err
	}
	logger.Debug("Logger initialized", "level", logCfg.Level, "outputs", logCfg.Outputs)
	return nil
}
