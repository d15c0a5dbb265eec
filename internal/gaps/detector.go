// Package gaps detects missing bars in a time series against a trading
// calendar, so a backfill job can target exactly the missing ranges.
package gaps

import (
	"sort"
	"time"

	"github.com/sawpanic/marketfeed/internal/domain"
)

// Gap describes one contiguous missing range at a given timeframe.
type Gap struct {
	Symbol    string
	Timeframe domain.TimeFrame
	Start     time.Time // first missing expected timestamp
	End       time.Time // last missing expected timestamp
	BarCount  int        // number of expected-but-missing bars
}

// Detector finds gaps in a bar series for a symbol against a calendar.
type Detector struct {
	calendar Calendar
}

// NewDetector builds a gap detector bound to a trading calendar.
func NewDetector(cal Calendar) *Detector {
	return &Detector{calendar: cal}
}

// nextExpected advances t by one bar period, for daily-and-up timeframes
// skipping non-trading days; for intraday timeframes it simply adds the
// nominal duration (session-boundary handling is left to the caller via
// the provided calendar's finer-grained IsTradingDay check per bar).
func (d *Detector) nextExpected(t time.Time, tf domain.TimeFrame) time.Time {
	step := tf.Duration()
	if step <= 0 {
		step = 24 * time.Hour
	}
	next := t.Add(step)
	if tf.IsIntraday() {
		return next
	}
	for !d.calendar.IsTradingDay(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// Detect scans a sorted-or-unsorted slice of bar timestamps (already filtered
// to one symbol/timeframe) between rangeStart and rangeEnd inclusive, and
// returns every contiguous run of expected-but-missing bars: a leading gap
// if the first present bar is later than rangeStart's first expected bar, a
// pairwise gap between any two consecutive present bars whose distance
// exceeds one expected step, and a trailing gap if the last present bar is
// earlier than rangeEnd's last expected bar.
func (d *Detector) Detect(symbol string, tf domain.TimeFrame, timestamps []time.Time, rangeStart, rangeEnd time.Time) []Gap {
	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var gaps []Gap

	firstExpected := rangeStart
	for !tf.IsIntraday() && !d.calendar.IsTradingDay(firstExpected) && !firstExpected.After(rangeEnd) {
		firstExpected = firstExpected.Add(24 * time.Hour)
	}

	cursor := firstExpected
	if len(sorted) == 0 {
		if g := d.span(symbol, tf, cursor, rangeEnd); g != nil {
			gaps = append(gaps, *g)
		}
		return gaps
	}

	if sorted[0].After(cursor) {
		// leading gap: everything expected before the first present bar
		last := d.stepBack(sorted[0], tf)
		if g := d.span(symbol, tf, cursor, last); g != nil {
			gaps = append(gaps, *g)
		}
	}

	for i := 0; i < len(sorted)-1; i++ {
		expectedNext := d.nextExpected(sorted[i], tf)
		if sorted[i+1].After(expectedNext) {
			last := d.stepBack(sorted[i+1], tf)
			if g := d.span(symbol, tf, expectedNext, last); g != nil {
				gaps = append(gaps, *g)
			}
		}
	}

	lastPresent := sorted[len(sorted)-1]
	if lastPresent.Before(rangeEnd) {
		expectedNext := d.nextExpected(lastPresent, tf)
		if !expectedNext.After(rangeEnd) {
			if g := d.span(symbol, tf, expectedNext, rangeEnd); g != nil {
				gaps = append(gaps, *g)
			}
		}
	}

	return gaps
}

func (d *Detector) stepBack(t time.Time, tf domain.TimeFrame) time.Time {
	step := tf.Duration()
	if step <= 0 {
		step = 24 * time.Hour
	}
	prev := t.Add(-step)
	if tf.IsIntraday() {
		return prev
	}
	for !d.calendar.IsTradingDay(prev) {
		prev = prev.Add(-24 * time.Hour)
	}
	return prev
}

func (d *Detector) span(symbol string, tf domain.TimeFrame, start, end time.Time) *Gap {
	if end.Before(start) {
		return nil
	}
	count := d.countExpected(start, end, tf)
	if count <= 0 {
		return nil
	}
	return &Gap{Symbol: symbol, Timeframe: tf, Start: start, End: end, BarCount: count}
}

func (d *Detector) countExpected(start, end time.Time, tf domain.TimeFrame) int {
	count := 1
	cursor := start
	for cursor.Before(end) {
		cursor = d.nextExpected(cursor, tf)
		count++
	}
	return count
}

// MergeOverlapping collapses gaps whose ranges touch or overlap into a single
// wider gap, assuming all inputs share the same symbol/timeframe.
func MergeOverlapping(gaps []Gap) []Gap {
	if len(gaps) == 0 {
		return gaps
	}
	sorted := make([]Gap, len(gaps))
	copy(sorted, gaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []Gap{sorted[0]}
	for _, g := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !g.Start.After(last.End.Add(24 * time.Hour)) {
			if g.End.After(last.End) {
				last.End = g.End
			}
			last.BarCount += g.BarCount
		} else {
			merged = append(merged, g)
		}
	}
	return merged
}

// Summary aggregates gap counts for a reporting view.
type Summary struct {
	Symbol       string
	Timeframe    domain.TimeFrame
	TotalGaps    int
	TotalMissing int
	LargestGap   *Gap
}

// Summarize reduces a gap list to a single report row.
func Summarize(symbol string, tf domain.TimeFrame, gaps []Gap) Summary {
	s := Summary{Symbol: symbol, Timeframe: tf, TotalGaps: len(gaps)}
	for i := range gaps {
		s.TotalMissing += gaps[i].BarCount
		if s.LargestGap == nil || gaps[i].BarCount > s.LargestGap.BarCount {
			g := gaps[i]
			s.LargestGap = &g
		}
	}
	return s
}
