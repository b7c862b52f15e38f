package rollup

import (
	"sort"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

// Counter sums counts per dimension value.
type Counter struct {
	m map[string]int64
}

func NewCounter() *Counter {
	return &Counter{m: make(map[string]int64)}
}

func (c *Counter) Add(name string, n int64) {
	c.m[name] += n
}

// AddAll folds a ranked list into the counter.
func (c *Counter) AddAll(counts []models.Count) {
	for _, item := range counts {
		c.Add(item.Name, item.Count)
	}
}

func (c *Counter) Len() int {
	return len(c.m)
}

// TopN returns the limit largest entries. See TopN.
func (c *Counter) TopN(limit int) []models.Count {
	out := make([]models.Count, 0, len(c.m))
	for name, n := range c.m {
		out = append(out, models.Count{Name: name, Count: n})
	}
	return TopN(out, limit)
}

// TopN sorts counts by count descending, then name descending, and keeps the
// first limit entries. A non-positive limit keeps everything. counts is
// reordered in place. The tie order is byte-wise, matching both backends'
// per-day ranking, so a merged list ranks the same as a single day.
func TopN(counts []models.Count, limit int) []models.Count {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Name > counts[j].Name
	})
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}
