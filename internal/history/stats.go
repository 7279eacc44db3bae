// ABOUTME: Aggregations over run history for the admin dashboard.
// ABOUTME: Daily counts, model usage, chart series by range and 14-day totals.

package history

import (
	"strings"
	"time"
)

// Chart ranges accepted by Series
const (
	RangeDaily   = "daily"
	RangeWeekly  = "weekly"
	RangeMonthly = "monthly"
	RangeAll     = "all"
)

// ModelV2 is counted separately; every other model counts as V1
const ModelV2 = "V2"

var weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Usage counts runs per model generation
type Usage struct {
	V1Count int `json:"v1Count"`
	V2Count int `json:"v2Count"`
}

// Series is a labelled per-model chart series
type Series struct {
	Labels []string `json:"labels"`
	V1     []int    `json:"v1"`
	V2     []int    `json:"v2"`
}

// Totals is a labelled chart series of run counts
type Totals struct {
	Labels []string `json:"labels"`
	Data   []int    `json:"data"`
}

// DailyPredictions counts runs within the 24 hours before now
func DailyPredictions(records []Record, now time.Time) int {
	cutoff := now.Add(-24 * time.Hour)
	count := 0
	for _, record := range records {
		if record.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// ModelUsage counts runs per model generation
func ModelUsage(records []Record) Usage {
	var usage Usage
	for _, record := range records {
		if record.Model == ModelV2 {
			usage.V2Count++
		} else {
			usage.V1Count++
		}
	}
	return usage
}

// BuildSeries buckets runs for the given range: daily is the last 24 hours by hour,
// weekly the last 7 days by weekday, monthly the last 30 days by date and all
// every record by weekday. Unknown ranges are treated as weekly.
func BuildSeries(records []Record, rangeParam string, now time.Time) Series {
	var (
		cutoff time.Time
		labels []string
		label  func(time.Time) string
	)

	switch strings.ToLower(strings.TrimSpace(rangeParam)) {
	case RangeDaily:
		cutoff = now.Add(-24 * time.Hour)
		for i := 0; i < 24; i++ {
			labels = append(labels, now.Add(-time.Duration(23-i)*time.Hour).Format("15:00"))
		}
		label = func(t time.Time) string { return t.Format("15:00") }
	case RangeMonthly:
		cutoff = now.AddDate(0, 0, -30)
		for i := 29; i >= 0; i-- {
			labels = append(labels, now.AddDate(0, 0, -i).Format("Jan 02"))
		}
		label = func(t time.Time) string { return t.Format("Jan 02") }
	case RangeAll:
		labels = weekdays
		label = func(t time.Time) string { return t.Format("Mon") }
	default:
		cutoff = now.AddDate(0, 0, -7)
		labels = weekdays
		label = func(t time.Time) string { return t.Format("Mon") }
	}

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	series := Series{
		Labels: append([]string(nil), labels...),
		V1:     make([]int, len(labels)),
		V2:     make([]int, len(labels)),
	}
	for _, record := range records {
		if !cutoff.IsZero() && record.Timestamp.Before(cutoff) {
			continue
		}
		i, ok := index[label(record.Timestamp.In(now.Location()))]
		if !ok {
			continue
		}
		if record.Model == ModelV2 {
			series.V2[i]++
		} else {
			series.V1[i]++
		}
	}
	return series
}

// DailyTotals counts runs per day over the 14 days ending today
func DailyTotals(records []Record, now time.Time) Totals {
	cutoff := now.AddDate(0, 0, -14)

	totals := Totals{
		Labels: make([]string, 14),
		Data:   make([]int, 14),
	}
	index := make(map[string]int, 14)
	for i := 0; i < 14; i++ {
		l := now.AddDate(0, 0, -(13 - i)).Format("Jan 02")
		totals.Labels[i] = l
		index[l] = i
	}

	for _, record := range records {
		if record.Timestamp.Before(cutoff) {
			continue
		}
		if i, ok := index[record.Timestamp.In(now.Location()).Format("Jan 02")]; ok {
			totals.Data[i]++
		}
	}
	return totals
}
