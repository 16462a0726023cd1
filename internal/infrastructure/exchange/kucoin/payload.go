package kucoin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"xsig/internal/domain/model"
)

var errMalformed = errors.New("malformed payload")

// candleData limitCandle 推送
// candles: [start(s), open, close, high, low, volume, turnover]
type candleData struct {
	Symbol  string      `json:"symbol"`
	Candles []flexFloat `json:"candles"`
	Time    int64       `json:"time"`
}

// DecodeCandle 解析 K 线推送（可能是未收盘的 K 线）
func DecodeCandle(topic string, data json.RawMessage, res model.Resolution) (model.Bar, error) {
	var d candleData
	if err := json.Unmarshal(data, &d); err != nil {
		return model.Bar{}, fmt.Errorf("candle %s: %w", topic, err)
	}
	if len(d.Candles) < 6 {
		return model.Bar{}, fmt.Errorf("candle %s: %w", topic, errMalformed)
	}
	sym := strings.ToUpper(d.Symbol)
	if sym == "" {
		sym, _, _ = SplitCandleTopic(topic)
	}
	bar := model.Bar{
		Symbol:     sym,
		Resolution: res,
		Start:      int64(d.Candles[0]) * 1000,
		Open:       float64(d.Candles[1]),
		Close:      float64(d.Candles[2]),
		High:       float64(d.Candles[3]),
		Low:        float64(d.Candles[4]),
		Volume:     float64(d.Candles[5]),
	}
	if !bar.Valid() {
		return model.Bar{}, fmt.Errorf("candle %s: %w", topic, errMalformed)
	}
	return bar, nil
}

// SplitCandleTopic /contractMarket/limitCandle:XBTUSDTM_1hour -> XBTUSDTM, 1hour
func SplitCandleTopic(topic string) (symbol, resolution string, ok bool) {
	i := strings.LastIndexByte(topic, ':')
	if i < 0 {
		return "", "", false
	}
	rest := topic[i+1:]
	j := strings.LastIndexByte(rest, '_')
	if j <= 0 || j == len(rest)-1 {
		return "", "", false
	}
	return rest[:j], rest[j+1:], true
}

// TopicSymbol /contractMarket/execution:XBTUSDTM -> XBTUSDTM
func TopicSymbol(topic string) string {
	i := strings.LastIndexByte(topic, ':')
	if i < 0 {
		return ""
	}
	return topic[i+1:]
}

// Execution 成交推送
type Execution struct {
	Symbol string    `json:"symbol"`
	Side   string    `json:"side"` // buy / sell（主动方）
	Size   flexFloat `json:"size"`
	Price  flexFloat `json:"price"`
	Ts     int64     `json:"ts"` // 纳秒
}

// DecodeExecution 解析成交推送
func DecodeExecution(data json.RawMessage) (model.Execution, error) {
	var e Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return model.Execution{}, err
	}
	if e.Size <= 0 || e.Price <= 0 {
		return model.Execution{}, errMalformed
	}
	return model.Execution{
		Symbol: strings.ToUpper(e.Symbol),
		Buy:    strings.EqualFold(e.Side, "buy"),
		Size:   float64(e.Size),
		Price:  float64(e.Price),
		Ts:     e.Ts / 1e6,
	}, nil
}

type tickerData struct {
	Symbol       string    `json:"symbol"`
	BestBidPrice flexFloat `json:"bestBidPrice"`
	BestBidSize  flexFloat `json:"bestBidSize"`
	BestAskPrice flexFloat `json:"bestAskPrice"`
	BestAskSize  flexFloat `json:"bestAskSize"`
	Ts           int64     `json:"ts"` // 纳秒
}

// DecodeTicker 解析最优买卖价推送
func DecodeTicker(data json.RawMessage) (model.Quote, error) {
	var t tickerData
	if err := json.Unmarshal(data, &t); err != nil {
		return model.Quote{}, err
	}
	if t.BestBidPrice <= 0 || t.BestAskPrice <= 0 {
		return model.Quote{}, errMalformed
	}
	return model.Quote{
		Symbol:  strings.ToUpper(t.Symbol),
		Bid:     float64(t.BestBidPrice),
		BidSize: float64(t.BestBidSize),
		Ask:     float64(t.BestAskPrice),
		AskSize: float64(t.BestAskSize),
		Ts:      t.Ts / 1e6,
	}, nil
}
