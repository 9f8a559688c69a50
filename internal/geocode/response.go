package geocode

import (
	"encoding/json"
	"net/url"

	"github.com/golang/geo/s2"
)

// Result：一次地理编码命中
type Result struct {
	Lat     float64
	Lng     float64
	PlaceID string
	// 由缺失凭据策略生成，而非服务商返回
	Synthetic bool
}

type apiResponse struct {
	Status  string `json:"status"`
	Results []struct {
		PlaceID  string `json:"place_id"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// QueryKey：地址的规范化查询串，同时作为缓存键
func QueryKey(address string) string {
	q := url.Values{}
	q.Set("address", address)
	return q.Encode()
}

// 文档注释：解析服务商原始响应
// 背景：status=="OK" 视为命中并取第一条结果；其余状态（ZERO_RESULTS 等）视为未命中而非错误。
// 返回：命中结果或 nil；仅在响应不是合法 JSON 时返回错误。坐标越界同样视为未命中。
func ParseResponse(raw string) (*Result, error) {
	var r apiResponse
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	if r.Status != "OK" || len(r.Results) == 0 {
		return nil, nil
	}
	first := r.Results[0]
	loc := first.Geometry.Location
	if !s2.LatLngFromDegrees(loc.Lat, loc.Lng).IsValid() {
		return nil, nil
	}
	return &Result{Lat: loc.Lat, Lng: loc.Lng, PlaceID: first.PlaceID}, nil
}
