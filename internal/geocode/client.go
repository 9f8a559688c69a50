package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"paxtrack/internal/logger"
	"paxtrack/internal/metrics"
)

// Provider：地理编码服务的原始调用；query 为已编码的地址查询串（不含凭据）
type Provider interface {
	Fetch(ctx context.Context, query string) (string, error)
}

// 文档注释：Google Geocoding REST 客户端
// 背景：仅负责一次 HTTP 往返并返回原始响应文本；响应解析与成功判定在 ParseResponse 中完成，缓存的是原始文本。
// 约束：凭据只拼接在出站请求上，不进入缓存键；可选按分钟限速，避免超出服务商配额。
type Client struct {
	BaseURL string
	Key     string
	HTTP    *http.Client
	limiter *rate.Limiter
}

// NewClient：timeout<=0 时使用 30s；ratePerMin<=0 表示不限速
func NewClient(baseURL, key string, timeout time.Duration, ratePerMin int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{BaseURL: baseURL, Key: key, HTTP: &http.Client{Timeout: timeout}}
	if ratePerMin > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMin)), 1)
	}
	return c
}

// 文档注释：查询单个地址
// 参数：query 形如 address=...（url 编码）。
// 返回：响应体原文；非 2xx、响应体不是 JSON 或网络错误时返回错误，不进入缓存，由上层决定当天快照是否放弃。
func (c *Client) Fetch(ctx context.Context, query string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	u := c.BaseURL + "?" + query + "&key=" + url.QueryEscape(c.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	t0 := time.Now()
	metrics.GeocodeRequestsTotal.Inc()
	logger.L().Debug("geocode_req", "query", query)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		logger.L().Error("geocode_http_error", "err", err)
		metrics.GeocodeFailTotal.Inc()
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.L().Error("geocode_read_error", "err", err)
		metrics.GeocodeFailTotal.Inc()
		return "", err
	}
	dur := time.Since(t0).Milliseconds()
	metrics.GeocodeDurationMs.Observe(float64(dur))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.GeocodeFailTotal.Inc()
		return "", fmt.Errorf("geocode: unexpected status %d", resp.StatusCode)
	}
	if !json.Valid(b) {
		metrics.GeocodeFailTotal.Inc()
		logger.L().Error("geocode_body_invalid", "query", query, "bytes", len(b))
		return "", fmt.Errorf("geocode: response body is not JSON")
	}
	metrics.GeocodeSuccessTotal.Inc()
	logger.L().Debug("geocode_resp", "query", query, "bytes", len(b), "duration_ms", dur)
	return string(b), nil
}
