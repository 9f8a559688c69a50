// 包 archive：上游数据集的更新索引与行数据拉取
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paxtrack/internal/logger"
	"paxtrack/internal/record"
)

// Link：行数据下载地址
type Link struct {
	URL string `json:"url"`
}

// 文档注释：一次数据集发布
// 背景：索引接口返回的数值字段常以字符串形式出现，时间不带时区；解码时统一容错。
type Update struct {
	UpdateDate   time.Time
	User         string
	Rows         int
	RowChange    int
	Columns      int
	ColumnChange int
	ArchiveLink  Link
}

type rawUpdate struct {
	UpdateDate   string      `json:"update_date"`
	User         string      `json:"user"`
	Rows         json.Number `json:"rows"`
	RowChange    json.Number `json:"row_change"`
	Columns      json.Number `json:"columns"`
	ColumnChange json.Number `json:"column_change"`
	ArchiveLink  Link        `json:"archive_link"`
}

func (u *Update) UnmarshalJSON(b []byte) error {
	var r rawUpdate
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	t, err := record.ParseTime(r.UpdateDate)
	if err != nil {
		return fmt.Errorf("update_date: %w", err)
	}
	u.UpdateDate = t
	u.User = r.User
	u.Rows = atoi(r.Rows)
	u.RowChange = atoi(r.RowChange)
	u.Columns = atoi(r.Columns)
	u.ColumnChange = atoi(r.ColumnChange)
	u.ArchiveLink = r.ArchiveLink
	return nil
}

func atoi(n json.Number) int {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

// Day：发布时间所在的日历日（零点）
func (u Update) Day() time.Time {
	y, m, d := u.UpdateDate.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Path：以发布时间命名的快照文件名
func (u Update) Path() string {
	return FileName(u.UpdateDate)
}

// FileName：YYYY_MM_DD_HH_MM_SS.json
func FileName(t time.Time) string {
	return t.Format("2006_01_02_15_04_05") + ".json"
}

// StatusError：上游返回非 2xx
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("archive: %s returned status %d", e.URL, e.Status)
}

// 文档注释：上游 HTTP 客户端
// 约束：不做重试，失败直接返回，由快照层决定跳过哪一天。
type Client struct {
	IndexURL string
	HTTP     *http.Client
}

func NewClient(indexURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{IndexURL: indexURL, HTTP: &http.Client{Timeout: timeout}}
}

// FetchIndex：拉取全部发布记录，顺序不作保证
func (c *Client) FetchIndex(ctx context.Context) ([]Update, error) {
	logger.L().Info("archive_index_fetch", "url", c.IndexURL)
	b, err := c.get(ctx, c.IndexURL)
	if err != nil {
		return nil, err
	}
	var out []Update
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("archive index: %w", err)
	}
	logger.L().Debug("archive_index_ok", "updates", len(out))
	return out, nil
}

// FetchBody：下载一次发布的 CSV 行数据原文
func (c *Client) FetchBody(ctx context.Context, u Update) ([]byte, error) {
	logger.L().Info("archive_body_fetch", "update", u.UpdateDate, "rows", u.Rows, "url", u.ArchiveLink.URL)
	return c.get(ctx, u.ArchiveLink.URL)
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: u, Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
