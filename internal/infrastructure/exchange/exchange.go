package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// APIError REST 调用失败的分类信息
type APIError struct {
	Status int    // HTTP 状态码，0 表示未收到响应
	Code   string // 交易所业务码
	Msg    string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api error status=%d code=%s: %s: %v", e.Status, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("api error status=%d code=%s: %s", e.Status, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable 超时 / 5xx / 429 / 网络错误可重试；其余 4xx（认证、参数）不可重试
func (e *APIError) Retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	case e.Status >= 400:
		return false
	}
	// 2xx 但业务码异常：限流码可重试
	return e.Code == CodeRateLimited
}

// CodeRateLimited 业务层限流码
const CodeRateLimited = "429000"

// IsRetryable 判断任意错误是否值得重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// BytesTrimSpace trims whitespace from byte slice
func BytesTrimSpace(b []byte) []byte {
	i := 0
	j := len(b) - 1
	for i <= j && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i++
	}
	for j >= i && (b[j] == ' ' || b[j] == '\n' || b[j] == '\r' || b[j] == '\t') {
		j--
	}
	if i > j {
		return []byte{}
	}
	return b[i : j+1]
}

// ParseJSON safely parses JSON
func ParseJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json unmarshal: %w", err)
	}
	return nil
}

// BuildQueryURL builds a URL with query parameters
func BuildQueryURL(base, path string, query url.Values) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("base url is empty")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}
