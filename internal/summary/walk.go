package summary

import (
	"net/url"
	"strings"
)

// 文档注释：深度优先遍历汇总树，先父后子
// 约束：兄弟节点之间的顺序不作保证，需要稳定顺序的调用方自行排序；fn 返回错误时立即停止。
func Walk(root *Node, fn func(*Node) error) error {
	if root == nil {
		return nil
	}
	if err := fn(root); err != nil {
		return err
	}
	for _, c := range root.Children {
		if err := Walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// 文档注释：单个路径段的转义
// 规则：按 URL 路径段百分号编码（/ 与 \ 均被编码），. 与 .. 编码为 %2E；不同取值得到不同结果。
func EscapeSegment(s string) string {
	switch s {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(s)
}

// StoragePath：转义后的路径段以 / 拼接，根节点为空串；发布目录与落库路径共用
func StoragePath(n *Node) string {
	segs := make([]string, len(n.Path))
	for i, s := range n.Path {
		segs[i] = EscapeSegment(s)
	}
	return strings.Join(segs, "/")
}
