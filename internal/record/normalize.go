package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/golang/geo/s2"
)

// 上游表头
const (
	colProviderName         = "Provider Name"
	colAddress1             = "Address1"
	colAddress2             = "Address2"
	colCity                 = "City"
	colCounty               = "County"
	colStateCode            = "State Code"
	colZip                  = "Zip"
	colLat                  = "Lat"
	colLng                  = "Lng"
	colNationalDrugCode     = "National Drug Code"
	colOrderLabel           = "Order Label"
	colLastOrderDate        = "Last Order Date"
	colLastDeliveredDate    = "Last Delivered Date"
	colTotalCourses         = "Total Courses"
	colCoursesAvailable     = "Courses Available"
	colCoursesAvailableDate = "Courses Available Date"
	colGeocodedAddress      = "Geocoded Address"
)

var (
	ErrMissing = errors.New("required field missing")
	ErrInvalid = errors.New("invalid value")
)

var pointRE = regexp.MustCompile(`^POINT\s+\((-?\d+\.?\d*)\s+(-?\d+\.?\d*)\)`)

// 固定格式时间（上游旧版导出）
const legacyLayout = "01/02/2006 03:04:05 PM"

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// RowError：单行规范化失败，携带行号、字段与原始值便于定位
type RowError struct {
	Row   int
	Field string
	Value string
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: field %q (value %q): %v", e.Row, e.Field, e.Value, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// 文档注释：解析上游 CSV 文本为按表头索引的原始行
// 背景：上游行数据为带表头的逗号分隔文本，每行对应一条原始记录；列数不齐时缺列按空串处理。
// 异常：CSV 语法错误直接返回，整份数据视为传输失败。
func ParseCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// 文档注释：规范化一批原始行
// 背景：单行失败不影响同批其他行，失败行以 RowError 返回，由调用方记录后继续。
// 返回：成功记录（保持原顺序）与失败明细；Row 为从 0 起的数据行下标。
func NormalizeAll(rows []map[string]string) ([]Location, []*RowError) {
	out := make([]Location, 0, len(rows))
	var errs []*RowError
	for i, row := range rows {
		loc, err := Normalize(row)
		if err != nil {
			var re *RowError
			if errors.As(err, &re) {
				re.Row = i
				errs = append(errs, re)
				continue
			}
			errs = append(errs, &RowError{Row: i, Err: err})
			continue
		}
		out = append(out, loc)
	}
	return out, errs
}

// 文档注释：规范化单行
// 规则：
// - 原始值为空串的字段视为缺失；
// - 文本字段（提供方、地址、城市、县）去首尾空白并逐词首字母大写；
// - 日期先按 ISO-8601 解析，失败再按 MM/DD/YYYY hh:mm:ss AM/PM 解析；
// - "Geocoded Address" 中的 POINT (lng lat) 优先于单独的 Lat/Lng 列。
// 异常：必填字段缺失或任一字段无法解析时返回 *RowError（Row 由批处理填充）。
func Normalize(row map[string]string) (Location, error) {
	var l Location
	var err error
	req := func(col string) string {
		if err != nil {
			return ""
		}
		v, ok := titleField(row, col)
		if !ok {
			err = &RowError{Field: col, Value: row[col], Err: ErrMissing}
		}
		return v
	}
	reqRaw := func(col string) string {
		if err != nil {
			return ""
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			err = &RowError{Field: col, Value: row[col], Err: ErrMissing}
		}
		return v
	}

	l.ProviderName = req(colProviderName)
	l.Address1 = req(colAddress1)
	l.City = req(colCity)
	l.StateCode = reqRaw(colStateCode)
	l.ZipCode = reqRaw(colZip)
	l.NationalDrugCode = reqRaw(colNationalDrugCode)
	l.OrderLabel = reqRaw(colOrderLabel)
	if err != nil {
		return l, err
	}
	if v, ok := titleField(row, colAddress2); ok {
		l.Address2 = &v
	}
	if v, ok := titleField(row, colCounty); ok {
		l.County = &v
	}

	if lat, lng, ok := parsePoint(row[colGeocodedAddress]); ok {
		l.Lat, l.Lng = &lat, &lng
	} else {
		if l.Lat, err = floatField(row, colLat); err != nil {
			return l, err
		}
		if l.Lng, err = floatField(row, colLng); err != nil {
			return l, err
		}
	}

	if l.TotalCourses, err = countField(row, colTotalCourses); err != nil {
		return l, err
	}
	if l.CoursesAvailable, err = countField(row, colCoursesAvailable); err != nil {
		return l, err
	}
	if l.LastOrderDate, err = timeField(row, colLastOrderDate); err != nil {
		return l, err
	}
	if l.LastDeliveredDate, err = timeField(row, colLastDeliveredDate); err != nil {
		return l, err
	}
	if l.CoursesAvailableDate, err = timeField(row, colCoursesAvailableDate); err != nil {
		return l, err
	}
	return l, nil
}

// TitleCase：逐词首字母大写，其余字母小写，连续空白折叠为单个空格
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, n := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[n:])
	}
	return strings.Join(words, " ")
}

func titleField(row map[string]string, col string) (string, bool) {
	v := TitleCase(row[col])
	return v, v != ""
}

func floatField(row map[string]string, col string) (*float64, error) {
	raw := row[col]
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, &RowError{Field: col, Value: raw, Err: fmt.Errorf("%w: %v", ErrInvalid, err)}
	}
	return &f, nil
}

func countField(row map[string]string, col string) (*int, error) {
	raw := row[col]
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, &RowError{Field: col, Value: raw, Err: fmt.Errorf("%w: %v", ErrInvalid, err)}
	}
	if n < 0 {
		return nil, &RowError{Field: col, Value: raw, Err: fmt.Errorf("%w: negative count", ErrInvalid)}
	}
	return &n, nil
}

func timeField(row map[string]string, col string) (*time.Time, error) {
	raw := row[col]
	if raw == "" {
		return nil, nil
	}
	t, err := ParseTime(raw)
	if err != nil {
		return nil, &RowError{Field: col, Value: raw, Err: err}
	}
	return &t, nil
}

// ParseTime：先尝试 ISO-8601，再尝试固定格式；均失败返回 ErrInvalid
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(legacyLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized time %q", ErrInvalid, s)
}

// parsePoint：解析 POINT (lng lat)；坐标越界视为未匹配
func parsePoint(s string) (lat, lng float64, ok bool) {
	m := pointRE.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	lng, err1 := strconv.ParseFloat(m[1], 64)
	lat, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if !s2.LatLngFromDegrees(lat, lng).IsValid() {
		return 0, 0, false
	}
	return lat, lng, true
}
