package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Resolution K 线周期（分钟）
type Resolution int

func (r Resolution) Duration() time.Duration {
	return time.Duration(r) * time.Minute
}

// String KuCoin 风格的周期名，例如 1min / 15min / 1hour
func (r Resolution) String() string {
	switch {
	case r >= 10080 && r%10080 == 0:
		return strconv.Itoa(int(r)/10080) + "week"
	case r >= 1440 && r%1440 == 0:
		return strconv.Itoa(int(r)/1440) + "day"
	case r >= 60 && r%60 == 0:
		return strconv.Itoa(int(r)/60) + "hour"
	default:
		return strconv.Itoa(int(r)) + "min"
	}
}

// Bar 一根 OHLCV K 线，按 (symbol, resolution) 归属
type Bar struct {
	Symbol     string     `json:"symbol"`
	Resolution Resolution `json:"resolution"`
	Start      int64      `json:"start_ms"` // K 线开始时间（毫秒）
	Open       float64    `json:"open"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Close      float64    `json:"close"`
	Volume     float64    `json:"volume"`
}

// Valid 基本数据完整性检查
func (b Bar) Valid() bool {
	return b.Start > 0 && b.Close > 0 && b.High >= b.Low && b.Volume >= 0
}

// BarKey (symbol, resolution) 组合键
type BarKey struct {
	Symbol     string
	Resolution Resolution
}

func (k BarKey) String() string {
	return k.Symbol + "_" + k.Resolution.String()
}

// Execution 一笔成交（实盘模式订单流）
type Execution struct {
	Symbol string  `json:"symbol"`
	Buy    bool    `json:"buy"` // 主动买
	Size   float64 `json:"size"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts_ms"`
}

// Quote 最优买卖价
type Quote struct {
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	BidSize float64 `json:"bid_size"`
	Ask     float64 `json:"ask"`
	AskSize float64 `json:"ask_size"`
	Ts      int64   `json:"ts_ms"`
}

// SpreadBps 买卖价差（基点）
func (q Quote) SpreadBps() float64 {
	mid := (q.Bid + q.Ask) / 2
	if mid <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid * 10000
}

// ParseResolution 解析 1min / 15min / 1hour / 1day，也接受纯分钟数
func ParseResolution(s string) (Resolution, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1
	switch {
	case strings.HasSuffix(s, "min"):
		s = strings.TrimSuffix(s, "min")
	case strings.HasSuffix(s, "hour"):
		s, mult = strings.TrimSuffix(s, "hour"), 60
	case strings.HasSuffix(s, "day"):
		s, mult = strings.TrimSuffix(s, "day"), 1440
	case strings.HasSuffix(s, "week"):
		s, mult = strings.TrimSuffix(s, "week"), 10080
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid resolution %q", s)
	}
	return Resolution(n * mult), nil
}
