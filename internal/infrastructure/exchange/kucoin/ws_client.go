package kucoin

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

// Dialer 基于 gorilla/websocket 的推送连接
type Dialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// NewDialer 创建推送连接器
func NewDialer() *Dialer {
	return &Dialer{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// ConnectURL 拼接 endpoint?token=..&connectId=..
func ConnectURL(endpoint, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("connectId", uuid.NewString())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial 建立连接
func (d *Dialer) Dial(ctx context.Context, rawURL string) (port.StreamConn, error) {
	cctx, cancel := context.WithTimeout(ctx, d.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(cctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	return &wsConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	wmu sync.Mutex // gorilla 连接只允许一个并发写
}

func (c *wsConn) WriteJSON(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, b, err := c.conn.ReadMessage()
	return b, err
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

// Protocol KuCoin 合约公共推送协议
type Protocol struct{}

func (Protocol) CandleTopic(symbol string, res model.Resolution) string {
	return "/contractMarket/limitCandle:" + symbol + "_" + res.String()
}

func (Protocol) ExecutionTopic(symbol string) string {
	return "/contractMarket/execution:" + symbol
}

func (Protocol) TickerTopic(symbol string) string {
	return "/contractMarket/tickerV2:" + symbol
}

func (Protocol) ConnectURL(endpoint, token string) (string, error) {
	return ConnectURL(endpoint, token)
}

type subscribeReq struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic"`
	PrivateChannel bool   `json:"privateChannel"`
	Response       bool   `json:"response"`
}

// SubscribeRequest {"type":"subscribe","topic":...,"response":true}
func (Protocol) SubscribeRequest(topic string, subscribe bool) any {
	typ := "subscribe"
	if !subscribe {
		typ = "unsubscribe"
	}
	return subscribeReq{ID: uuid.NewString(), Type: typ, Topic: topic, Response: true}
}

type pingReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (Protocol) PingRequest() any {
	return pingReq{ID: uuid.NewString(), Type: "ping"}
}

// Decode 按主题前缀分发
func (Protocol) Decode(msg port.StreamMessage) (port.StreamUpdate, error) {
	switch {
	case strings.HasPrefix(msg.Topic, "/contractMarket/limitCandle:"):
		_, resStr, ok := SplitCandleTopic(msg.Topic)
		if !ok {
			return port.StreamUpdate{}, fmt.Errorf("candle topic %q: %w", msg.Topic, errMalformed)
		}
		res, err := model.ParseResolution(resStr)
		if err != nil {
			return port.StreamUpdate{}, err
		}
		bar, err := DecodeCandle(msg.Topic, msg.Data, res)
		if err != nil {
			return port.StreamUpdate{}, err
		}
		return port.StreamUpdate{Kind: port.UpdateCandle, Bar: bar}, nil

	case strings.HasPrefix(msg.Topic, "/contractMarket/execution:"):
		e, err := DecodeExecution(msg.Data)
		if err != nil {
			return port.StreamUpdate{}, fmt.Errorf("execution %s: %w", msg.Topic, err)
		}
		if e.Symbol == "" {
			e.Symbol = TopicSymbol(msg.Topic)
		}
		return port.StreamUpdate{Kind: port.UpdateExecution, Execution: e}, nil

	case strings.HasPrefix(msg.Topic, "/contractMarket/tickerV2:"):
		q, err := DecodeTicker(msg.Data)
		if err != nil {
			return port.StreamUpdate{}, fmt.Errorf("ticker %s: %w", msg.Topic, err)
		}
		if q.Symbol == "" {
			q.Symbol = TopicSymbol(msg.Topic)
		}
		return port.StreamUpdate{Kind: port.UpdateQuote, Quote: q}, nil
	}
	return port.StreamUpdate{}, nil
}

var (
	_ port.StreamDialer   = (*Dialer)(nil)
	_ port.StreamProtocol = Protocol{}
)
