package port

import (
	"context"
	"encoding/json"

	"xsig/internal/domain/model"
)

// StreamMessage 推送消息信封 {id, type, topic, data}
type StreamMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Subject string          `json:"subject,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// 控制消息类型
const (
	MessageWelcome = "welcome"
	MessagePong    = "pong"
	MessageAck     = "ack"
	MessageData    = "message"
	MessageError   = "error"
)

// StreamConn 一条已建立的推送连接，WriteJSON 可与 ReadMessage 并发
type StreamConn interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Close() error
}

// StreamDialer 建立推送连接
type StreamDialer interface {
	Dial(ctx context.Context, url string) (StreamConn, error)
}

// UpdateKind 行情更新类型
type UpdateKind int

const (
	UpdateNone UpdateKind = iota
	UpdateCandle
	UpdateExecution
	UpdateQuote
)

// StreamUpdate 解码后的行情更新
type StreamUpdate struct {
	Kind      UpdateKind
	Bar       model.Bar
	Execution model.Execution
	Quote     model.Quote
}

// StreamProtocol 交易所推送协议：主题编码、请求构造、数据解码
type StreamProtocol interface {
	CandleTopic(symbol string, res model.Resolution) string
	ExecutionTopic(symbol string) string
	TickerTopic(symbol string) string

	ConnectURL(endpoint, token string) (string, error)
	SubscribeRequest(topic string, subscribe bool) any
	PingRequest() any

	// Decode 解码 MessageData；无法识别的主题返回 UpdateNone
	Decode(msg StreamMessage) (StreamUpdate, error)
}
