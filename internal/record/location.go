// 包 record：站点记录模型、原始行规范化与派生指标
package record

import (
	"strings"
	"time"

	"paxtrack/internal/identity"
)

// 文档注释：单个治疗药物分发站点在某次快照中的记录
// 背景：JSON 字段名沿用上游表头（首字母大写、空格分隔），快照文件与上游 CSV 保持同一口径；缺失字段以 nil 表示并在序列化时省略。
// 约束：派生字段（Courses Delivered 等）由 Derive 填充，落盘的快照文件中不包含。
type Location struct {
	ProviderName         string     `json:"Provider Name"`
	Address1             string     `json:"Address1"`
	Address2             *string    `json:"Address2,omitempty"`
	City                 string     `json:"City"`
	County               *string    `json:"County,omitempty"`
	StateCode            string     `json:"State Code"`
	ZipCode              string     `json:"Zip"`
	Lat                  *float64   `json:"Lat,omitempty"`
	Lng                  *float64   `json:"Lng,omitempty"`
	NationalDrugCode     string     `json:"National Drug Code"`
	OrderLabel           string     `json:"Order Label"`
	LastOrderDate        *time.Time `json:"Last Order Date,omitempty"`
	LastDeliveredDate    *time.Time `json:"Last Delivered Date,omitempty"`
	TotalCourses         *int       `json:"Total Courses,omitempty"`
	CoursesAvailable     *int       `json:"Courses Available,omitempty"`
	CoursesAvailableDate *time.Time `json:"Courses Available Date,omitempty"`
	// 坐标由缺失凭据策略合成而非服务商返回
	Synthetic bool `json:"Synthetic,omitempty"`

	CoursesDelivered *int     `json:"Courses Delivered,omitempty"`
	DaysAvailable    *int     `json:"Days Available,omitempty"`
	CoursesPerDay    *float64 `json:"Courses Per Day,omitempty"`

	// 运行期站点标识，由快照层登记后填充，不落盘
	ID int `json:"-"`
}

// IdentityKey：站点自然键（提供方、地址两行、邮编）
func (l Location) IdentityKey() identity.Key {
	return identity.Key{
		ProviderName: l.ProviderName,
		Address1:     l.Address1,
		Address2:     deref(l.Address2),
		ZipCode:      l.ZipCode,
	}
}

// HasCoordinates：经纬度均已知
func (l Location) HasCoordinates() bool { return l.Lat != nil && l.Lng != nil }

// GeocodeAddress：拼接用于地理编码的单行地址
func (l Location) GeocodeAddress() string {
	var b strings.Builder
	b.WriteString(l.Address1)
	if a2 := deref(l.Address2); a2 != "" {
		b.WriteString(", ")
		b.WriteString(a2)
	}
	b.WriteString(", ")
	b.WriteString(l.City)
	b.WriteString(", ")
	b.WriteString(l.StateCode)
	b.WriteString(" ")
	b.WriteString(l.ZipCode)
	return b.String()
}

// Dimensions：可用于切分汇总树的维度名
var Dimensions = []string{
	"provider_name", "address1", "address2", "city", "county",
	"state_code", "zip_code", "zip", "national_drug_code", "order_label",
}

// KnownDimension：维度名是否可由 Dimension 取值
func KnownDimension(name string) bool {
	for _, d := range Dimensions {
		if d == name {
			return true
		}
	}
	return false
}

// 文档注释：按维度名取值
// 背景：汇总树按调用方给定的字段逐层切分；字段名使用蛇形命名（state_code、county 等）。
// 返回：字段文本；缺失或未知字段返回空串，由汇总层归入 UNKNOWN。
func (l Location) Dimension(name string) string {
	switch name {
	case "provider_name":
		return l.ProviderName
	case "address1":
		return l.Address1
	case "address2":
		return deref(l.Address2)
	case "city":
		return l.City
	case "county":
		return deref(l.County)
	case "state_code":
		return l.StateCode
	case "zip_code", "zip":
		return l.ZipCode
	case "national_drug_code":
		return l.NationalDrugCode
	case "order_label":
		return l.OrderLabel
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
