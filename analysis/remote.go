package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lisuiheng/callguard-go/audio"
	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

var _ Analyzer = (*RemoteAnalyzer)(nil)

// 分析器协议消息
type windowHeader struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	Seq           int    `json:"seq"`
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration,omitempty"`
	Path          string `json:"path,omitempty"`
}

type windowEnd struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
}

type analysisReply struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Seq        int    `json:"seq"`
	IsDeepfake bool   `json:"is_deepfake"`
	Confidence int    `json:"confidence"`
	Raw        string `json:"raw,omitempty"`
	Error      string `json:"error,omitempty"`
}

type replyKey struct {
	session string
	seq     int
}

// RemoteAnalyzer 通过 TransportProtocol 把窗口发给外部分类服务。
// 连接按需建立，断开后下一次调用时重建；同一连接上可以有多个请求在等待回复。
type RemoteAnalyzer struct {
	factory interfaces.TransportFactory
	cfg     RemoteConfig
	logger  *slog.Logger

	mu   sync.Mutex
	conn *remoteConn
}

func NewRemoteAnalyzer(factory interfaces.TransportFactory, cfg RemoteConfig, logger *slog.Logger) *RemoteAnalyzer {
	cfg.setDefaults()
	return &RemoteAnalyzer{
		factory: factory,
		cfg:     cfg,
		logger:  logger.With("component", "remote-analyzer"),
	}
}

func (a *RemoteAnalyzer) Analyze(ctx context.Context, w audio.Window) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	frames, format, err := a.encode(w)
	if err != nil {
		return Result{}, err
	}

	conn, err := a.connection(ctx)
	if err != nil {
		return Result{}, err
	}

	key := replyKey{session: w.SessionID, seq: w.Seq}
	ch := conn.register(key)
	defer conn.unregister(key)

	header := windowHeader{
		Type:       "window",
		SessionID:  w.SessionID,
		Seq:        w.Seq,
		Format:     format,
		SampleRate: w.SampleRate,
		Channels:   w.Channels,
		Path:       w.Path,
	}
	if format == FormatOpus {
		header.SampleRate = a.cfg.SampleRate
		header.FrameDuration = a.cfg.FrameDuration
	}
	if err := conn.sendWindow(header, frames); err != nil {
		a.drop(conn)
		return Result{}, fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
	}

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return Result{}, fmt.Errorf("analyzer error: %s", reply.Error)
		}
		return Result{IsDeepfake: reply.IsDeepfake, Confidence: reply.Confidence, Raw: reply.Raw}, nil
	case <-conn.done:
		a.drop(conn)
		return Result{}, fmt.Errorf("%w: connection closed", ErrAnalyzerUnavailable)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, ErrAnalysisTimeout
		}
		return Result{}, ctx.Err()
	}
}

// Close 关闭当前连接
func (a *RemoteAnalyzer) Close() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.close()
}

// encode 返回要发送的二进制帧；opus 时先重采样到编码器支持的采样率
func (a *RemoteAnalyzer) encode(w audio.Window) ([][]byte, string, error) {
	if a.cfg.Format == FormatPCM {
		return [][]byte{w.Raw}, FormatPCM, nil
	}

	channels := max(w.Channels, 1)
	enc, err := audio.NewOpusEncoder(a.cfg.SampleRate, channels, a.cfg.Bitrate, a.cfg.FrameDuration, a.logger)
	if err != nil {
		return nil, "", err
	}
	defer enc.Close()

	pcm := audio.ResampleChannels(w.Samples, channels, w.SampleRate, a.cfg.SampleRate)
	packets, err := enc.EncodeAll(pcm)
	if err != nil {
		return nil, "", err
	}
	return packets, FormatOpus, nil
}

func (a *RemoteAnalyzer) connection(ctx context.Context) (*remoteConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		select {
		case <-a.conn.done:
			a.conn = nil
		default:
			return a.conn, nil
		}
	}

	t, err := a.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
	}
	if err := t.Connect(ctx); err != nil {
		t.Close()
		return nil, fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
	}

	conn := newRemoteConn(t, a.logger)
	a.conn = conn
	a.logger.Info("Connected to analyzer", "protocol", t.ProtocolType())
	return conn, nil
}

// drop 只丢弃仍是当前连接的那个
func (a *RemoteAnalyzer) drop(conn *remoteConn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
	conn.close()
}

type remoteConn struct {
	t       interfaces.TransportProtocol
	sendMu  sync.Mutex
	mu      sync.Mutex
	pending map[replyKey]chan analysisReply
	done    chan struct{} // readLoop 退出时关闭
	logger  *slog.Logger
}

func newRemoteConn(t interfaces.TransportProtocol, logger *slog.Logger) *remoteConn {
	c := &remoteConn{
		t:       t,
		pending: make(map[replyKey]chan analysisReply),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go c.readLoop()
	return c
}

func (c *remoteConn) register(k replyKey) chan analysisReply {
	ch := make(chan analysisReply, 1)
	c.mu.Lock()
	c.pending[k] = ch
	c.mu.Unlock()
	return ch
}

func (c *remoteConn) unregister(k replyKey) {
	c.mu.Lock()
	delete(c.pending, k)
	c.mu.Unlock()
}

// sendWindow 头、帧、结束标记必须连续发送
func (c *remoteConn) sendWindow(h windowHeader, frames [][]byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := c.t.Send(data, interfaces.MsgText); err != nil {
		return fmt.Errorf("send header: %w", err)
	}
	for _, f := range frames {
		if err := c.t.Send(f, interfaces.MsgBinary); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
	}
	end, err := json.Marshal(windowEnd{Type: "window_end", SessionID: h.SessionID, Seq: h.Seq})
	if err != nil {
		return err
	}
	if err := c.t.Send(end, interfaces.MsgText); err != nil {
		return fmt.Errorf("send window end: %w", err)
	}
	return nil
}

func (c *remoteConn) readLoop() {
	defer close(c.done)

	for msg := range c.t.Receive() {
		if msg.Type != interfaces.MsgText {
			continue
		}
		var reply analysisReply
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			c.logger.Warn("Invalid analyzer message", "error", err)
			continue
		}
		if reply.Type != "analysis" {
			c.logger.Debug("Ignoring analyzer message", "type", reply.Type)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[replyKey{session: reply.SessionID, seq: reply.Seq}]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("No pending request for reply", "session", reply.SessionID, "seq", reply.Seq)
			continue
		}
		select {
		case ch <- reply:
		default:
		}
	}
}

func (c *remoteConn) close() error {
	return c.t.Close()
}
