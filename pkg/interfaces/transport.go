// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrTransportClosed     = errors.New("transport closed")
)

// TransportProtocol 是事件推送和远端分析器共用的双向消息通道
type TransportProtocol interface {
	Connect(ctx context.Context) error
	Send(data []byte, msgType MessageType) error
	Receive() <-chan Message
	Close() error
	ProtocolType() string
}

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // JSON文本
	MsgBinary                     // 二进制数据（音频帧）
	MsgControl                    // 控制指令
)

// TransportFactory 每次调用创建一个新的未连接实例，重连时使用
type TransportFactory func() (TransportProtocol, error)
