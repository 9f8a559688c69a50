// 包 publish：把汇总树逐节点写成静态 JSON 页面
package publish

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"paxtrack/internal/logger"
	"paxtrack/internal/record"
	"paxtrack/internal/summary"
)

// IndexFile：每个节点目录下的页面文件名
const IndexFile = "index.json"

// Listing：清单中的站点，附带运行期站点标识
type Listing struct {
	LocationID int `json:"location_id"`
	record.Location
}

// Page：单个节点的页面内容
type Page struct {
	Path             []string       `json:"path"`
	Latest           string         `json:"latest_date,omitempty"`
	Children         []string       `json:"children"`
	TotalCourses     summary.Rollup `json:"total_courses"`
	CoursesDelivered summary.Rollup `json:"courses_delivered"`
	CoursesAvailable summary.Rollup `json:"courses_available"`
	Locations        []Listing      `json:"locations,omitempty"`
}

// NewPage：由节点生成页面，子节点名按字典序排列
func NewPage(n *summary.Node) Page {
	p := Page{
		Path:             n.Path,
		Latest:           n.Latest(),
		Children:         make([]string, 0, len(n.Children)),
		TotalCourses:     n.TotalCourses,
		CoursesDelivered: n.CoursesDelivered,
		CoursesAvailable: n.CoursesAvailable,
	}
	for name := range n.Children {
		p.Children = append(p.Children, name)
	}
	sort.Strings(p.Children)
	if n.Locations != nil {
		p.Locations = make([]Listing, 0, len(n.Locations))
		for _, l := range n.Locations {
			p.Locations = append(p.Locations, Listing{LocationID: l.ID, Location: l})
		}
		sort.SliceStable(p.Locations, func(i, j int) bool { return p.Locations[i].LocationID < p.Locations[j].LocationID })
	}
	return p
}

// 文档注释：写出整棵汇总树
// 背景：目录结构与节点路径一一对应，根节点写在 dir/index.json；路径段按 summary.EscapeSegment 转义，与落库路径一致。
// 约束：每个文件先写临时文件再原子替换，读者不会看到写了一半的页面。
// 返回：写出的页面数量；任一页面失败立即停止。
func Write(dir string, root *summary.Node) (int, error) {
	pages := 0
	err := summary.Walk(root, func(n *summary.Node) error {
		target := filepath.Join(dir, filepath.FromSlash(summary.StoragePath(n)))
		if err := os.MkdirAll(target, 0o755); err != nil {
			return err
		}
		b, err := json.Marshal(NewPage(n))
		if err != nil {
			return err
		}
		path := filepath.Join(target, IndexFile)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, b, 0o644); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			return err
		}
		pages++
		return nil
	})
	if err != nil {
		logger.L().Error("publish_error", "dir", dir, "pages", pages, "err", err)
		return pages, err
	}
	logger.L().Info("publish_done", "dir", dir, "pages", pages)
	return pages, nil
}
