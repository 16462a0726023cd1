package kucoin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

// DefaultRestURL KuCoin 合约 REST 地址
const DefaultRestURL = "https://api-futures.kucoin.com"

// Client KuCoin 合约公共 REST 客户端（合约目录 / K 线 / 推送令牌）
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建 REST 客户端
func NewClient(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultRestURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSpace(baseURL),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type contractItem struct {
	Symbol              string    `json:"symbol"`
	BaseCurrency        string    `json:"baseCurrency"`
	QuoteCurrency       string    `json:"quoteCurrency"`
	Status              string    `json:"status"`
	LastTradePrice      flexFloat `json:"lastTradePrice"`
	MarkPrice           flexFloat `json:"markPrice"`
	IndexPrice          flexFloat `json:"indexPrice"`
	VolumeOf24h         flexFloat `json:"volumeOf24h"`
	TurnoverOf24h       flexFloat `json:"turnoverOf24h"`
	OpenInterest        flexFloat `json:"openInterest"`
	Multiplier          flexFloat `json:"multiplier"`
	LotSize             flexFloat `json:"lotSize"`
	TickSize            flexFloat `json:"tickSize"`
	MaxLeverage         flexFloat `json:"maxLeverage"`
	FundingFeeRate      flexFloat `json:"fundingFeeRate"`
	NextFundingRateTime int64     `json:"nextFundingRateTime"`
}

// FetchContracts 获取全部活跃合约
func (c *Client) FetchContracts(ctx context.Context) ([]model.Contract, error) {
	var items []contractItem
	if err := c.getJSON(ctx, "/api/v1/contracts/active", nil, &items); err != nil {
		return nil, fmt.Errorf("fetch contracts: %w", err)
	}

	out := make([]model.Contract, 0, len(items))
	for _, it := range items {
		sym := strings.ToUpper(strings.TrimSpace(it.Symbol))
		if sym == "" {
			continue
		}
		out = append(out, model.Contract{
			Symbol:        sym,
			BaseCurrency:  strings.ToUpper(it.BaseCurrency),
			QuoteCurrency: strings.ToUpper(it.QuoteCurrency),
			Status:        it.Status,
			LastPrice:     float64(it.LastTradePrice),
			MarkPrice:     float64(it.MarkPrice),
			IndexPrice:    float64(it.IndexPrice),
			Volume24h:     float64(it.VolumeOf24h),
			Turnover24h:   float64(it.TurnoverOf24h),
			OpenInterest:  float64(it.OpenInterest),
			Multiplier:    float64(it.Multiplier),
			LotSize:       float64(it.LotSize),
			TickSize:      float64(it.TickSize),
			MaxLeverage:   float64(it.MaxLeverage),
			FundingRate:   float64(it.FundingFeeRate),
			NextFundingMs: it.NextFundingRateTime,
		})
	}
	return out, nil
}

// FetchCandles 获取历史 K 线，按开始时间升序返回
// 每行格式: [time(ms), open, high, low, close, volume]
func (c *Client) FetchCandles(ctx context.Context, symbol string, res model.Resolution, from, to time.Time) ([]model.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("granularity", strconv.Itoa(int(res)))
	if !from.IsZero() {
		params.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	}
	if !to.IsZero() {
		params.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
	}

	var rows [][]flexFloat
	if err := c.getJSON(ctx, "/api/v1/kline/query", params, &rows); err != nil {
		return nil, fmt.Errorf("fetch candles %s %s: %w", symbol, res, err)
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		bars = append(bars, model.Bar{
			Symbol:     symbol,
			Resolution: res,
			Start:      int64(r[0]),
			Open:       float64(r[1]),
			High:       float64(r[2]),
			Low:        float64(r[3]),
			Close:      float64(r[4]),
			Volume:     float64(r[5]),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Start < bars[j].Start })
	return bars, nil
}

type bulletResp struct {
	Token           string `json:"token"`
	InstanceServers []struct {
		Endpoint     string `json:"endpoint"`
		Protocol     string `json:"protocol"`
		PingInterval int64  `json:"pingInterval"`
		PingTimeout  int64  `json:"pingTimeout"`
	} `json:"instanceServers"`
}

// PublicToken 申请公共推送令牌，每次连接都需要新的令牌
func (c *Client) PublicToken(ctx context.Context) (*port.SessionToken, error) {
	var resp bulletResp
	if err := c.postJSON(ctx, "/api/v1/bullet-public", nil, &resp); err != nil {
		return nil, fmt.Errorf("bullet-public: %w", err)
	}
	if resp.Token == "" || len(resp.InstanceServers) == 0 {
		return nil, errors.New("bullet-public: empty token or instance servers")
	}

	tok := &port.SessionToken{Token: resp.Token}
	for _, s := range resp.InstanceServers {
		if s.Endpoint == "" {
			continue
		}
		tok.Endpoints = append(tok.Endpoints, s.Endpoint)
		if tok.HeartbeatInterval == 0 && s.PingInterval > 0 {
			tok.HeartbeatInterval = time.Duration(s.PingInterval) * time.Millisecond
			tok.HeartbeatTimeout = time.Duration(s.PingTimeout) * time.Millisecond
		}
	}
	if len(tok.Endpoints) == 0 {
		return nil, errors.New("bullet-public: no usable endpoint")
	}
	return tok, nil
}

var (
	_ port.ContractCatalog = (*Client)(nil)
	_ port.CandleSource    = (*Client)(nil)
	_ port.TokenSource     = (*Client)(nil)
)
