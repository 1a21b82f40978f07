package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/callguard-go/pkg/interfaces"
	"github.com/lisuiheng/callguard-go/utils"
)

var _ interfaces.Notifier = (*Notifier)(nil)

// 宿主事件推送的消息格式
type helloMessage struct {
	Type     string `json:"type"`
	Version  int    `json:"version"`
	ClientID string `json:"client_id,omitempty"`
}

type eventMessage struct {
	Type    string           `json:"type"`
	Name    string           `json:"name"`
	Payload interfaces.Event `json:"payload"`
}

// Notifier 把事件推送给宿主应用。Notify 不阻塞调用方，队列满时丢弃；
// Run 负责连接、发送和断线重连。
type Notifier struct {
	factory  interfaces.TransportFactory
	clientID string
	queue    chan interfaces.Event
	backoff  utils.ReconnectStrategy
	logger   *slog.Logger

	mu      sync.Mutex
	dropped int
}

func NewNotifier(factory interfaces.TransportFactory, clientID string, queueSize int, logger *slog.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Notifier{
		factory:  factory,
		clientID: clientID,
		queue:    make(chan interfaces.Event, queueSize),
		backoff:  utils.NewExponentialBackoff(),
		logger:   logger.With("component", "event-notifier"),
	}
}

func (n *Notifier) Notify(ev interfaces.Event) {
	select {
	case n.queue <- ev:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.logger.Warn("Event queue full, dropping event", "event", ev.EventName())
	}
}

// Dropped 因队列满被丢弃的事件数
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Run 阻塞直到 ctx 取消
func (n *Notifier) Run(ctx context.Context) error {
	for {
		err := n.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		delay := n.backoff.NextDelay()
		n.logger.Warn("Event connection lost, reconnecting", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session 一次连接的生命周期，连接断开或 ctx 取消时返回
func (n *Notifier) session(ctx context.Context) error {
	transport, err := n.factory()
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	defer transport.Close()

	if err := transport.Connect(ctx); err != nil {
		return err
	}

	hello, err := json.Marshal(helloMessage{Type: "hello", Version: ProtocolVersion, ClientID: n.clientID})
	if err != nil {
		return err
	}
	if err := transport.Send(hello, interfaces.MsgText); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	n.backoff.Reset()
	n.logger.Info("Event connection established", "protocol", transport.ProtocolType())

	incoming := transport.Receive()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-incoming:
			if !ok {
				return interfaces.ErrTransportClosed
			}
			// 宿主不需要回复，只记录
			n.logger.Debug("Ignoring message from host", "type", msg.Type, "size", len(msg.Payload))
		case ev := <-n.queue:
			if err := n.send(transport, ev); err != nil {
				if errors.Is(err, errEncode) {
					n.logger.Error("Failed to encode event", "event", ev.EventName(), "error", err)
					continue
				}
				// 这条事件丢了，连接也要重建
				return fmt.Errorf("send %s: %w", ev.EventName(), err)
			}
		}
	}
}

var errEncode = errors.New("encode event")

func (n *Notifier) send(t interfaces.TransportProtocol, ev interfaces.Event) error {
	data, err := json.Marshal(eventMessage{Type: "event", Name: ev.EventName(), Payload: ev})
	if err != nil {
		return fmt.Errorf("%w: %v", errEncode, err)
	}
	return t.Send(data, interfaces.MsgText)
}
