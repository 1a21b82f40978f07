package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/lisuiheng/callguard-go/audio"
	"github.com/lisuiheng/callguard-go/history"
	"github.com/lisuiheng/callguard-go/pkg/interfaces"
	"github.com/lisuiheng/callguard-go/utils"
)

// DispatcherConfig 分发器参数
type DispatcherConfig struct {
	Workers int
	Queue   int
}

// Dispatcher 从采集循环取出窗口，通知宿主，交给分析器，并把结果写入历史。
// 分析在 worker 池里执行，不会阻塞窗口通道。
type Dispatcher struct {
	analyzer Analyzer // 为空时只通知窗口，不做分析
	notifier interfaces.Notifier
	history  *history.Store // 可为空
	cfg      DispatcherConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, analyzer Analyzer, notifier interfaces.Notifier, store *history.Store, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 8
	}
	if notifier == nil {
		notifier = interfaces.Discard
	}
	return &Dispatcher{
		analyzer: analyzer,
		notifier: notifier,
		history:  store,
		cfg:      cfg,
		logger:   logger.With("component", "dispatcher"),
		now:      time.Now,
	}
}

// Run 消费 windows 直到通道关闭或 ctx 取消，返回前等待已提交的分析结束
func (d *Dispatcher) Run(ctx context.Context, windows <-chan audio.Window) error {
	pool := utils.NewPool(d.cfg.Workers, d.cfg.Queue, d.logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(shutdownCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case w, ok := <-windows:
			if !ok {
				return nil
			}
			d.dispatch(ctx, pool, w)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, pool *utils.Pool, w audio.Window) {
	d.notifier.Notify(interfaces.AudioWindowReady{
		SessionID:   w.SessionID,
		Seq:         w.Seq,
		AudioPath:   w.Path,
		SessionPath: w.SessionPath,
		Samples:     len(w.Samples) / max(w.Channels, 1),
		Timestamp:   w.CapturedAt.UnixMilli(),
	})

	if d.analyzer == nil {
		return
	}

	if ok := pool.Submit(func() { d.analyze(ctx, w) }); !ok {
		d.logger.Warn("Analysis queue full, skipping window", "session", w.SessionID, "seq", w.Seq)
	}
}

// analyze 号码取自窗口本身，挂断后才处理的窗口也能归到正确的通话
func (d *Dispatcher) analyze(ctx context.Context, w audio.Window) {
	res, err := d.analyzer.Analyze(ctx, w)

	ev := interfaces.AudioAnalysisResult{
		AudioSample: w.Path,
		SessionID:   w.SessionID,
		Seq:         w.Seq,
		Timestamp:   d.now().UnixMilli(),
	}
	det := history.Detection{
		PhoneNumber: w.PhoneNumber,
		AudioSample: w.Path,
	}
	if err != nil {
		d.logger.Warn("Audio analysis failed", "session", w.SessionID, "seq", w.Seq, "error", err)
		ev.Error = err.Error()
		det.Error = err.Error()
	} else {
		ev.IsDeepfake = res.IsDeepfake
		ev.Confidence = res.Confidence
		det.IsDeepfake = res.IsDeepfake
		det.Confidence = res.Confidence
	}

	if d.history != nil {
		d.history.Record(det)
	}
	d.notifier.Notify(ev)
}
