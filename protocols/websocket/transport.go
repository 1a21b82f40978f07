// protocols/websocket/transport.go
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

var _ interfaces.TransportProtocol = (*WSProtocol)(nil)

// ProtocolVersion 通过 Protocol-Version 头告知服务端
const ProtocolVersion = 1

type WSProtocol struct {
	conn      *websocket.Conn
	config    Config
	msgChan   chan interfaces.Message
	closeChan chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// Config 定义websocket特有的配置
type Config struct {
	URL              string
	AccessToken      string
	ClientID         string
	HandshakeTimeout time.Duration
}

func NewWebSocketProtocol(config Config) (*WSProtocol, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("%w: empty websocket url", interfaces.ErrConnectionFailed)
	}
	return &WSProtocol{
		config:    config,
		msgChan:   make(chan interfaces.Message, 100),
		closeChan: make(chan struct{}),
	}, nil
}

// Factory 返回每次创建新连接实例的工厂，供重连使用
func Factory(config Config) interfaces.TransportFactory {
	return func() (interfaces.TransportProtocol, error) {
		return NewWebSocketProtocol(config)
	}
}

func (p *WSProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.closeChan:
		return interfaces.ErrTransportClosed
	default:
	}
	if p.conn != nil {
		return nil
	}

	headers := http.Header{}
	if p.config.AccessToken != "" {
		headers.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.AccessToken))
	}
	headers.Set("Protocol-Version", fmt.Sprintf("%d", ProtocolVersion))
	if p.config.ClientID != "" {
		headers.Set("Client-Id", p.config.ClientID)
	}

	dialer := *websocket.DefaultDialer
	if p.config.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = p.config.HandshakeTimeout
	}
	conn, _, err := dialer.DialContext(ctx, p.config.URL, headers)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	p.conn = conn

	go p.readPump(conn)
	return nil
}

func (p *WSProtocol) readPump(conn *websocket.Conn) {
	defer close(p.msgChan)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case p.msgChan <- interfaces.Message{
			Payload: data,
			Type:    convertMsgType(msgType),
		}:
		case <-p.closeChan:
			return
		}
	}
}

func convertMsgType(wsType int) interfaces.MessageType {
	switch wsType {
	case websocket.TextMessage:
		return interfaces.MsgText
	case websocket.BinaryMessage:
		return interfaces.MsgBinary
	default:
		return interfaces.MsgControl
	}
}

func (p *WSProtocol) Send(data []byte, msgType interfaces.MessageType) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.closeChan:
		return interfaces.ErrTransportClosed
	default:
	}
	if p.conn == nil {
		return interfaces.ErrConnectionFailed
	}

	wsType := websocket.TextMessage
	if msgType == interfaces.MsgBinary {
		wsType = websocket.BinaryMessage
	}
	return p.conn.WriteMessage(wsType, data)
}

// Receive 连接断开后通道会被关闭
func (p *WSProtocol) Receive() <-chan interfaces.Message {
	return p.msgChan
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

func (p *WSProtocol) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeChan)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.conn != nil {
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = p.conn.Close()
		} else {
			// 从未连接时 readPump 不会运行，由这里关闭
			close(p.msgChan)
		}
	})
	return err
}
