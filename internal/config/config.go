// 包 config：从环境变量读取采集、地理编码与汇总参数；.env 由入口通过 godotenv 预先加载
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"paxtrack/internal/record"
)

const (
	DefaultArchiveURL     = "https://healthdata.gov/resource/j7fh-jg79.json"
	DefaultGeocodeBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"
	DefaultMinDate        = "2022-01-05"
)

// Config：一次运行所需的全部参数
type Config struct {
	ArchiveURL string
	// 早于该日期（按日历日比较）的更新直接丢弃
	MinDate  time.Time
	CacheDir string

	GoogleAPIKey        string
	GeocodeBaseURL      string
	GeocodeBatchSize    int
	GeocodeRatePerMin   int
	GeocodeOnMissingKey string
	GeocodeCacheBackend string

	HTTPTimeout time.Duration

	MaxLocations int
	Dimensions   []string
	OutputDir    string

	PGEnable    bool
	MetricsAddr string

	ScheduleEnable bool
	IngestHour     int
	IngestTZ       string
}

// GeocodeCacheFile：文件后端的缓存路径
func (c Config) GeocodeCacheFile() string {
	return filepath.Join(c.CacheDir, "geocoder.json")
}

// 文档注释：从环境变量构建配置
// 背景：沿用逐项读取、缺省回退的方式；数值解析失败时回退默认值，仅枚举与日期类参数非法时报错。
// 返回：配置与校验错误；错误时调用方应终止，避免以错误口径生成汇总。
func FromEnv() (Config, error) {
	c := Config{
		ArchiveURL:          envOr("ARCHIVE_URL", DefaultArchiveURL),
		CacheDir:            envOr("CACHE_DIR", ".cache"),
		GoogleAPIKey:        os.Getenv("GOOGLE_API_KEY"),
		GeocodeBaseURL:      envOr("GEOCODE_BASE_URL", DefaultGeocodeBaseURL),
		GeocodeBatchSize:    envInt("GEOCODE_BATCH_SIZE", 10),
		GeocodeRatePerMin:   envInt("GEOCODE_RATE_PER_MIN", 0),
		GeocodeOnMissingKey: strings.ToLower(envOr("GEOCODE_ON_MISSING_KEY", "omit")),
		GeocodeCacheBackend: strings.ToLower(envOr("GEOCODE_CACHE_BACKEND", "file")),
		HTTPTimeout:         time.Duration(envInt("HTTP_TIMEOUT_S", 30)) * time.Second,
		MaxLocations:        envInt("SUMMARY_MAX_LOCATIONS", 10),
		Dimensions:          splitList(envOr("SUMMARY_DIMENSIONS", "state_code,county")),
		OutputDir:           envOr("OUTPUT_DIR", filepath.Join("data", "summary")),
		PGEnable:            strings.ToLower(os.Getenv("PG_ENABLE")) == "true",
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
		ScheduleEnable:      strings.ToLower(os.Getenv("SCHEDULE_ENABLE")) == "true",
		IngestHour:          envInt("INGEST_HOUR", 6),
		IngestTZ:            envOr("INGEST_TZ", "America/New_York"),
	}
	d, err := time.Parse("2006-01-02", envOr("ARCHIVE_MIN_DATE", DefaultMinDate))
	if err != nil {
		return c, fmt.Errorf("ARCHIVE_MIN_DATE: %w", err)
	}
	c.MinDate = d
	return c, c.Validate()
}

// Validate：校验枚举与取值范围
func (c Config) Validate() error {
	var errs []error
	switch c.GeocodeOnMissingKey {
	case "omit", "synthesize":
	default:
		errs = append(errs, fmt.Errorf("GEOCODE_ON_MISSING_KEY: unknown policy %q", c.GeocodeOnMissingKey))
	}
	switch c.GeocodeCacheBackend {
	case "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("GEOCODE_CACHE_BACKEND: unknown backend %q", c.GeocodeCacheBackend))
	}
	if c.GeocodeBatchSize <= 0 {
		errs = append(errs, errors.New("GEOCODE_BATCH_SIZE must be positive"))
	}
	for _, d := range c.Dimensions {
		if !record.KnownDimension(d) {
			errs = append(errs, fmt.Errorf("SUMMARY_DIMENSIONS: unknown dimension %q (known: %s)", d, strings.Join(record.Dimensions, ",")))
		}
	}
	if c.MaxLocations <= 0 {
		errs = append(errs, errors.New("SUMMARY_MAX_LOCATIONS must be positive"))
	}
	if c.IngestHour < 0 || c.IngestHour > 23 {
		errs = append(errs, errors.New("INGEST_HOUR must be within 0-23"))
	}
	return errors.Join(errs...)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
