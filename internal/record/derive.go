package record

import "math"

// 文档注释：已送达疗程数
// 规则：
// - Total Courses 缺失 → 缺失；
// - Courses Available 缺失 → 0；
// - 否则 max(0, total - available)。
// 约束：只在零处截断，不保证不超过 total；上游计数不一致时由下游自行容错。
func CoursesDelivered(l Location) *int {
	if l.TotalCourses == nil {
		return nil
	}
	n := 0
	if l.CoursesAvailable != nil {
		n = max(0, *l.TotalCourses-*l.CoursesAvailable)
	}
	return &n
}

// DaysAvailable：库存日期与最近送达（无则最近下单）日期之间的整天数，向下取整
func DaysAvailable(l Location) *int {
	if l.CoursesAvailableDate == nil {
		return nil
	}
	ref := l.LastDeliveredDate
	if ref == nil {
		ref = l.LastOrderDate
	}
	if ref == nil {
		return nil
	}
	d := int(math.Floor(l.CoursesAvailableDate.Sub(*ref).Hours() / 24))
	return &d
}

// CoursesPerDay：日均送达量；送达量缺失或天数缺失/为零时缺失
func CoursesPerDay(l Location) *float64 {
	if l.CoursesDelivered == nil || l.DaysAvailable == nil || *l.DaysAvailable == 0 {
		return nil
	}
	v := float64(*l.CoursesDelivered) / float64(*l.DaysAvailable)
	return &v
}

// Derive：按依赖顺序填充派生字段
func Derive(l *Location) {
	l.CoursesDelivered = CoursesDelivered(*l)
	l.DaysAvailable = DaysAvailable(*l)
	l.CoursesPerDay = CoursesPerDay(*l)
}
