// Package planner implements the JobPlanner (§4.5): partitioning a
// prediction date sequence into segments bracketed by pair dates,
// emitting one or more fusion jobs per prediction date, and driving
// pair-raster load/eviction off segment boundaries rather than
// individual predictions. Modeled on the teacher's Stripper/Tiler
// Pyramid+DAG split (stripper.go, tiler.go): there a Pyramid carves an
// image into strips whose parent/child relationships form a DAG; here
// a date axis is carved into segments whose bracketing pairs form the
// load/evict schedule.
package planner

import (
	"sort"

	"github.com/google/uuid"

	"github.com/fusimg/fusimg/internal/ferr"
)

// Segment is the maximal run of consecutive prediction dates
// bracketed by the same pair date(s) (§4.5 step 1). Lower/Upper are
// nil at the open ends of the date range (a run of prediction dates
// before the first pair, or after the last).
type Segment struct {
	Lower, Upper *int
	Dates        []int
}

// bracket identifies which pair date(s) enclose a given prediction
// date; two prediction dates fall in the same Segment iff their
// brackets compare equal.
type bracket struct {
	hasLower bool
	lower    int
	hasUpper bool
	upper    int
}

func bracketFor(sortedPairs []int, d int) bracket {
	i := sort.SearchInts(sortedPairs, d)
	var b bracket
	if i < len(sortedPairs) && sortedPairs[i] == d {
		// the prediction date coincides with a pair date itself.
		b.hasLower, b.lower = true, sortedPairs[i]
		b.hasUpper, b.upper = true, sortedPairs[i]
		return b
	}
	if i > 0 {
		b.hasLower, b.lower = true, sortedPairs[i-1]
	}
	if i < len(sortedPairs) {
		b.hasUpper, b.upper = true, sortedPairs[i]
	}
	return b
}

// BuildSegments partitions predDates into Segments per §4.5 step 1.
// pairDates and predDates need not arrive sorted.
func BuildSegments(pairDates, predDates []int) ([]Segment, error) {
	if len(pairDates) == 0 {
		return nil, ferr.New(ferr.InvalidArgument, "planner requires at least one pair date")
	}
	pairs := append([]int(nil), pairDates...)
	sort.Ints(pairs)
	preds := append([]int(nil), predDates...)
	sort.Ints(preds)

	var segments []Segment
	var cur bracket
	have := false
	for _, d := range preds {
		b := bracketFor(pairs, d)
		if !have || b != cur {
			seg := Segment{}
			if b.hasLower {
				l := b.lower
				seg.Lower = &l
			}
			if b.hasUpper {
				u := b.upper
				seg.Upper = &u
			}
			segments = append(segments, seg)
			cur = b
			have = true
		}
		last := &segments[len(segments)-1]
		last.Dates = append(last.Dates, d)
	}
	return segments, nil
}

// needs returns the distinct pair dates a Segment requires loaded,
// lower before upper, deduplicated when a prediction date coincides
// with a pair date and Lower == Upper.
func needs(seg Segment) []int {
	var ds []int
	if seg.Lower != nil {
		ds = append(ds, *seg.Lower)
	}
	if seg.Upper != nil && (seg.Lower == nil || *seg.Upper != *seg.Lower) {
		ds = append(ds, *seg.Upper)
	}
	return ds
}

// Job is one fusion prediction to run: predict PredDate from Pair1
// (and, when Pair3 is set, jointly from Pair3 as a double-pair job).
type Job struct {
	ID       string
	PredDate int
	Pair1    int
	Pair3    *int
}

func newJob(predDate, pair1 int, pair3 *int) Job {
	return Job{ID: uuid.NewString(), PredDate: predDate, Pair1: pair1, Pair3: pair3}
}

// jobsForSegment emits §4.5 step 2's jobs for every date in seg.
func jobsForSegment(seg Segment, doublePair bool) []Job {
	var jobs []Job
	for _, d := range seg.Dates {
		switch {
		case seg.Lower != nil && seg.Upper != nil && *seg.Lower == *seg.Upper:
			jobs = append(jobs, newJob(d, *seg.Lower, nil))
		case seg.Lower != nil && seg.Upper != nil && doublePair:
			u := *seg.Upper
			jobs = append(jobs, newJob(d, *seg.Lower, &u))
		case seg.Lower != nil && seg.Upper != nil:
			// double-pair mode off: one single-pair job per bracketing
			// pair, in chronological order.
			jobs = append(jobs, newJob(d, *seg.Lower, nil))
			jobs = append(jobs, newJob(d, *seg.Upper, nil))
		case seg.Lower != nil:
			jobs = append(jobs, newJob(d, *seg.Lower, nil))
		default:
			jobs = append(jobs, newJob(d, *seg.Upper, nil))
		}
	}
	return jobs
}
