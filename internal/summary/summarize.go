package summary

import "paxtrack/internal/record"

// Unknown：维度值缺失或为空时归入的分桶
const Unknown = "UNKNOWN"

// DefaultMaxLocations：节点附带站点清单的默认上限
const DefaultMaxLocations = 10

// Rollup：日期键 → 药物标签 → 求和
type Rollup map[string]map[string]int

func (r Rollup) add(date, label string, v *int) {
	m, ok := r[date]
	if !ok {
		m = map[string]int{}
		r[date] = m
	}
	n := 0
	if v != nil {
		n = *v
	}
	m[label] += n
}

// 文档注释：汇总树节点
// 背景：根节点路径为空；每向下一层在路径末尾追加该层维度值。
// 约束：Locations 为 nil 表示该节点不附带清单；附带时为最新日期且仍有库存的站点。
type Node struct {
	Path             []string
	TotalCourses     Rollup
	CoursesDelivered Rollup
	CoursesAvailable Rollup
	Children         map[string]*Node
	Locations        []record.Location
}

// 文档注释：按维度递归构建汇总树
// 规则：
// - 按（日期, 标签）对 Total Courses / Courses Delivered / Courses Available 求和，缺失按 0 计；
// - 取节点内最大日期的行中 Courses Available > 0 的站点为候选清单；
// - 候选数量小于 maxLocations 或已无剩余维度时附带清单；
// - 仍有维度时按下一维度取值切分，空值归入 UNKNOWN，逐个递归。
// 约束：每层只对本节点的行做一次分组，不对整表重复过滤；maxLocations <= 0 时取默认值。
func Summarize(rows []Row, dims []string, maxLocations int) *Node {
	if maxLocations <= 0 {
		maxLocations = DefaultMaxLocations
	}
	return summarize(rows, dims, nil, maxLocations)
}

func summarize(rows []Row, dims []string, path []string, maxLocations int) *Node {
	n := &Node{
		Path:             path,
		TotalCourses:     Rollup{},
		CoursesDelivered: Rollup{},
		CoursesAvailable: Rollup{},
		Children:         map[string]*Node{},
	}
	if n.Path == nil {
		n.Path = []string{}
	}

	latest := ""
	for _, r := range rows {
		label := r.Location.OrderLabel
		n.TotalCourses.add(r.Date, label, r.Location.TotalCourses)
		n.CoursesDelivered.add(r.Date, label, r.Location.CoursesDelivered)
		n.CoursesAvailable.add(r.Date, label, r.Location.CoursesAvailable)
		if r.Date > latest {
			latest = r.Date
		}
	}

	listing := []record.Location{}
	for _, r := range rows {
		if r.Date == latest && r.Location.CoursesAvailable != nil && *r.Location.CoursesAvailable > 0 {
			listing = append(listing, r.Location)
		}
	}
	if len(listing) < maxLocations || len(dims) == 0 {
		n.Locations = listing
	}

	if len(dims) == 0 {
		return n
	}
	dim, rest := dims[0], dims[1:]
	groups := map[string][]Row{}
	for _, r := range rows {
		v := r.Location.Dimension(dim)
		if v == "" {
			v = Unknown
		}
		groups[v] = append(groups[v], r)
	}
	for v, sub := range groups {
		childPath := make([]string, len(path)+1)
		copy(childPath, path)
		childPath[len(path)] = v
		n.Children[v] = summarize(sub, rest, childPath, maxLocations)
	}
	return n
}

// Latest：节点内最大日期键，无数据时为空串
func (n *Node) Latest() string {
	latest := ""
	for d := range n.TotalCourses {
		if d > latest {
			latest = d
		}
	}
	return latest
}
