package summary

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paxtrack/internal/record"
	"paxtrack/internal/snapshot"
)

func intp(v int) *int       { return &v }
func strp(s string) *string { return &s }

func loc(name, state, county, label string, total, avail *int) record.Location {
	l := record.Location{
		ProviderName:     name,
		Address1:         "1 Main St",
		City:             "Boston",
		StateCode:        state,
		ZipCode:          "02118",
		NationalDrugCode: "ndc",
		OrderLabel:       label,
		TotalCourses:     total,
		CoursesAvailable: avail,
	}
	if county != "" {
		l.County = strp(county)
	}
	return l
}

func day(d int, locs ...record.Location) snapshot.Day {
	date := time.Date(2022, 1, d, 0, 0, 0, 0, time.UTC)
	return snapshot.Day{Date: date, UpdateTime: date.Add(12 * time.Hour), Locations: locs}
}

func TestBuildTableTagsDateAndDerives(t *testing.T) {
	rows := BuildTable([]snapshot.Day{
		day(6, loc("A", "MA", "Suffolk", "Paxlovid", intp(50), intp(70))),
		day(7, loc("A", "MA", "Suffolk", "Paxlovid", intp(50), intp(20)), loc("B", "MA", "", "Paxlovid", nil, intp(3))),
	})
	require.Len(t, rows, 3)
	assert.Equal(t, "2022/01/06", rows[0].Date)
	assert.Equal(t, "2022/01/07", rows[2].Date)
	assert.Equal(t, 0, *rows[0].Location.CoursesDelivered)
	assert.Equal(t, 30, *rows[1].Location.CoursesDelivered)
	assert.Nil(t, rows[2].Location.CoursesDelivered)
}

func TestRollupByDateAndLabel(t *testing.T) {
	rows := BuildTable([]snapshot.Day{day(6,
		loc("A1", "MA", "Suffolk", "A", intp(10), intp(4)),
		loc("A2", "MA", "Suffolk", "A", intp(5), intp(5)),
		loc("B1", "MA", "Suffolk", "B", intp(20), intp(0)),
	)})
	n := Summarize(rows, nil, 10)

	d := "2022/01/06"
	assert.Equal(t, 15, n.TotalCourses[d]["A"])
	assert.Equal(t, 6, n.CoursesDelivered[d]["A"])
	assert.Equal(t, 9, n.CoursesAvailable[d]["A"])
	assert.Equal(t, 20, n.TotalCourses[d]["B"])
	assert.Equal(t, 20, n.CoursesDelivered[d]["B"])
	assert.Equal(t, 0, n.CoursesAvailable[d]["B"])
	assert.Empty(t, n.Path)
	assert.Empty(t, n.Children)
	// B1 has nothing on hand
	assert.Len(t, n.Locations, 2)
}

func TestAbsentTotalsReportAsZero(t *testing.T) {
	rows := BuildTable([]snapshot.Day{day(6, loc("A", "MA", "", "X", nil, nil))})
	n := Summarize(rows, nil, 10)
	v, ok := n.TotalCourses["2022/01/06"]["X"]
	assert.True(t, ok)
	assert.Equal(t, 0, v)
	assert.Equal(t, 0, n.CoursesDelivered["2022/01/06"]["X"])
}

func qualifying(n int, county string) []record.Location {
	out := make([]record.Location, n)
	for i := range out {
		out[i] = loc(fmt.Sprintf("P%d", i), "MA", county, "Paxlovid", intp(5), intp(1))
	}
	return out
}

func TestLeafListingThreshold(t *testing.T) {
	nine := Summarize(BuildTable([]snapshot.Day{day(6, qualifying(9, "Suffolk")...)}), []string{"county"}, 10)
	eleven := Summarize(BuildTable([]snapshot.Day{day(6, qualifying(11, "Suffolk")...)}), []string{"county"}, 10)

	assert.Len(t, nine.Locations, 9)
	assert.Nil(t, eleven.Locations)
	// no dimensions remain below, so the leaf always lists
	require.Contains(t, eleven.Children, "Suffolk")
	assert.Len(t, eleven.Children["Suffolk"].Locations, 11)
}

func TestListingUsesLatestDateOnly(t *testing.T) {
	rows := BuildTable([]snapshot.Day{
		day(6, loc("Old", "MA", "Suffolk", "Paxlovid", intp(5), intp(5))),
		day(7, loc("New", "MA", "Suffolk", "Paxlovid", intp(5), intp(2)), loc("Empty", "MA", "Suffolk", "Paxlovid", intp(5), intp(0))),
	})
	n := Summarize(rows, nil, 10)
	require.Len(t, n.Locations, 1)
	assert.Equal(t, "New", n.Locations[0].ProviderName)
	assert.Equal(t, "2022/01/07", n.Latest())
}

func TestUnknownBucketAndPaths(t *testing.T) {
	rows := BuildTable([]snapshot.Day{day(6,
		loc("A", "MA", "Suffolk", "Paxlovid", intp(5), intp(1)),
		loc("B", "MA", "", "Paxlovid", intp(7), intp(2)),
		loc("C", "NY", "Kings", "Paxlovid", intp(9), intp(3)),
	)})
	root := Summarize(rows, []string{"state_code", "county"}, 10)

	require.Len(t, root.Children, 2)
	ma := root.Children["MA"]
	require.NotNil(t, ma)
	assert.Equal(t, []string{"MA"}, ma.Path)
	require.Contains(t, ma.Children, Unknown)
	unknown := ma.Children[Unknown]
	assert.Equal(t, []string{"MA", Unknown}, unknown.Path)
	assert.Equal(t, 7, unknown.TotalCourses["2022/01/06"]["Paxlovid"])
	require.Len(t, unknown.Locations, 1)
	assert.Equal(t, "B", unknown.Locations[0].ProviderName)
	assert.Equal(t, "MA/UNKNOWN", StoragePath(unknown))
	assert.Equal(t, "", StoragePath(root))
}

func TestPartitionExhaustive(t *testing.T) {
	var locs []record.Location
	states := []string{"MA", "NY", ""}
	counties := []string{"Suffolk", "Kings", ""}
	labels := []string{"Paxlovid", "Lagevrio"}
	for i := 0; i < 30; i++ {
		var total, avail *int
		if i%4 != 0 {
			total = intp(i * 3)
		}
		if i%5 != 0 {
			avail = intp(i)
		}
		locs = append(locs, loc(fmt.Sprintf("P%d", i), states[i%3], counties[i%2+i%3/2], labels[i%2], total, avail))
	}
	root := Summarize(BuildTable([]snapshot.Day{day(6, locs[:15]...), day(7, locs...)}), []string{"state_code", "county"}, 10)

	err := Walk(root, func(n *Node) error {
		if len(n.Children) == 0 {
			return nil
		}
		for name, parent := range map[string]Rollup{"total": n.TotalCourses, "delivered": n.CoursesDelivered, "available": n.CoursesAvailable} {
			sum := Rollup{}
			for _, c := range n.Children {
				var r Rollup
				switch name {
				case "total":
					r = c.TotalCourses
				case "delivered":
					r = c.CoursesDelivered
				default:
					r = c.CoursesAvailable
				}
				for d, m := range r {
					for l, v := range m {
						sum.add(d, l, &v)
					}
				}
			}
			assert.Equal(t, parent, sum, "%s at %v", name, n.Path)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestZeroRows(t *testing.T) {
	n := Summarize(nil, []string{"state_code"}, 10)
	assert.Empty(t, n.TotalCourses)
	assert.Empty(t, n.Children)
	assert.Equal(t, "", n.Latest())
}

func TestWalkParentBeforeChildren(t *testing.T) {
	rows := BuildTable([]snapshot.Day{day(6,
		loc("A", "MA", "Suffolk", "Paxlovid", intp(5), intp(1)),
		loc("B", "NY", "Kings", "Paxlovid", intp(5), intp(1)),
	)})
	root := Summarize(rows, []string{"state_code", "county"}, 10)

	seen := map[string]bool{}
	count := 0
	err := Walk(root, func(n *Node) error {
		count++
		if len(n.Path) > 0 {
			parent := StoragePath(&Node{Path: n.Path[:len(n.Path)-1]})
			assert.True(t, seen[parent], "parent of %v not visited first", n.Path)
		}
		seen[StoragePath(n)] = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	stop := errors.New("stop")
	count = 0
	err = Walk(root, func(n *Node) error {
		count++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}

func TestEscapeSegmentIsInjective(t *testing.T) {
	values := []string{"A/B", "A_B", "A%2FB", ".", "..", "%2E", "A\\B", "St. Louis", ""}
	seen := map[string]string{}
	for _, v := range values {
		e := EscapeSegment(v)
		assert.NotContains(t, e, "/")
		assert.NotContains(t, e, "\\")
		assert.NotEqual(t, ".", e)
		assert.NotEqual(t, "..", e)
		prev, dup := seen[e]
		assert.False(t, dup, "%q and %q both escape to %q", prev, v, e)
		seen[e] = v
	}
	assert.Equal(t, "MA/A%2FB", StoragePath(&Node{Path: []string{"MA", "A/B"}}))
}
