package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lisuiheng/callguard-go/analysis"
	"github.com/lisuiheng/callguard-go/audio"
	"github.com/lisuiheng/callguard-go/core"
	"github.com/lisuiheng/callguard-go/history"
	"github.com/lisuiheng/callguard-go/pkg/interfaces"
	"github.com/lisuiheng/callguard-go/protocols/websocket"
	"github.com/lisuiheng/callguard-go/telephony"
	"golang.org/x/sync/errgroup"
)

// app 把各个组件按配置连接起来
type app struct {
	cfg        core.Config
	logger     *slog.Logger
	notifier   *interfaces.MultiNotifier
	events     *websocket.Notifier
	negotiator *audio.Negotiator
	capture    *audio.CaptureLoop
	monitor    *core.MonitorController
	remote     *analysis.RemoteAnalyzer
	dispatcher *analysis.Dispatcher
	history    *history.Store
}

func newNegotiator(cfg core.Config, notifier interfaces.Notifier, speaker *audio.SpeakerSwitch, logger *slog.Logger) (*audio.Negotiator, error) {
	backends, err := cfg.AudioBackends()
	if err != nil {
		return nil, err
	}
	opener := audio.NewHostOpener(backends, cfg.Capture.FrameDuration, logger)
	return audio.NewNegotiator(opener, speaker, notifier, cfg.AudioFormat(), logger), nil
}

func newApp(cfg core.Config, source interfaces.TelephonySource, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		notifier: interfaces.NewMultiNotifier(interfaces.LogNotifier{Logger: logger}),
	}

	if ws := cfg.Notifier.Websocket; ws != nil && ws.URL != "" {
		clientID := ws.ClientID
		if clientID == "" {
			clientID = uuid.NewString()
		}
		factory := websocket.Factory(websocket.Config{URL: ws.URL, AccessToken: ws.AccessToken, ClientID: clientID})
		a.events = websocket.NewNotifier(factory, clientID, 0, logger)
		a.notifier.Add(a.events)
	}

	speaker := audio.NewSpeakerSwitch(&audio.MemorySpeakerphone{}, logger)
	negotiator, err := newNegotiator(cfg, a.notifier, speaker, logger)
	if err != nil {
		return nil, err
	}
	a.negotiator = negotiator
	a.capture = audio.NewCaptureLoop(cfg.CaptureConfig(), negotiator, a.notifier, logger)

	var prober core.DirectProber
	if cfg.Capabilities.ProbeHardware {
		prober = negotiator
	}
	caps := telephony.NewStaticCapabilities(cfg.Capabilities.PermissionsGranted, cfg.Capabilities.DirectAudio)
	a.monitor, err = core.NewMonitorController(core.MonitorOptions{
		Telephony: func(context.Context) (interfaces.TelephonySource, error) {
			return source, nil
		},
		Capabilities: caps,
		Capture:      a.capture,
		Prober:       prober,
		Speaker:      speaker,
		Notifier:     a.notifier,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	a.history, err = history.NewStore(cfg.History.Size, cfg.History.Threshold, logger)
	if err != nil {
		return nil, err
	}

	var analyzer analysis.Analyzer
	if cfg.Analyzer.Transport == "websocket" {
		ws := cfg.Analyzer.Websocket
		a.remote = analysis.NewRemoteAnalyzer(
			websocket.Factory(websocket.Config{URL: ws.URL, AccessToken: ws.AccessToken, ClientID: ws.ClientID}),
			analysis.RemoteConfig{
				Format:        cfg.Analyzer.Format,
				SampleRate:    cfg.Analyzer.SampleRate,
				FrameDuration: cfg.Analyzer.FrameDuration,
				Bitrate:       cfg.Analyzer.Bitrate,
				Timeout:       cfg.Analyzer.Timeout,
			}, logger)
		analyzer = a.remote
	}
	a.dispatcher = analysis.NewDispatcher(
		analysis.DispatcherConfig{Workers: cfg.Analyzer.Workers, Queue: cfg.Analyzer.Queue},
		analyzer, a.notifier, a.history, logger)

	return a, nil
}

// run 启动监控并运行 drive，直到 ctx 取消；stopWhenDone 为 true 时 drive 结束即退出
func (a *app) run(ctx context.Context, drive func(context.Context) error, stopWhenDone bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.monitor.StartMonitoring(ctx, a.cfg.Monitor.PreferDirect); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.events != nil {
		g.Go(func() error { return a.events.Run(gctx) })
	}

	g.Go(func() error {
		return a.dispatcher.Run(gctx, a.capture.Windows())
	})

	g.Go(func() error {
		err := drive(gctx)
		if stopWhenDone {
			cancel()
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	a.logStats()
	return err
}

func (a *app) shutdown() error {
	var errs []error
	if err := a.monitor.StopMonitoring(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := a.capture.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) logStats() {
	st := a.history.Stats()
	a.logger.Info("Detection summary",
		"total", st.Total,
		"deepfakes", st.Deepfakes,
		"authentic", st.Authentic,
		"failed", st.Failed,
		"avg_confidence", fmt.Sprintf("%.1f", st.AverageConfidence))
}
