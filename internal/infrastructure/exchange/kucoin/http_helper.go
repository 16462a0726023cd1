package kucoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"xsig/internal/infrastructure/exchange"
)

// codeOK KuCoin 成功业务码
const codeOK = "200000"

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// getJSON 发送 GET 请求并解出 data 字段
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint, err := exchange.BuildQueryURL(c.baseURL, path, params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// postJSON 发送 POST 请求并解出 data 字段
func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	endpoint, err := exchange.BuildQueryURL(c.baseURL, path, nil)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &exchange.APIError{Msg: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exchange.APIError{Status: resp.StatusCode, Msg: "read body failed", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var env envelope
		_ = json.Unmarshal(body, &env)
		return &exchange.APIError{
			Status: resp.StatusCode,
			Code:   env.Code,
			Msg:    fmt.Sprintf("kucoin http %d: %s", resp.StatusCode, truncate(string(body), 256)),
		}
	}

	var env envelope
	if err := exchange.ParseJSON(body, &env); err != nil {
		return &exchange.APIError{Status: resp.StatusCode, Msg: "malformed envelope", Err: err}
	}
	if env.Code != codeOK {
		return &exchange.APIError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if out == nil {
		return nil
	}
	if err := exchange.ParseJSON(env.Data, out); err != nil {
		return &exchange.APIError{Status: 400, Code: env.Code, Msg: "malformed data", Err: err}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// flexFloat 兼容字符串和数字两种编码
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = exchange.BytesTrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flexFloat %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
