// Package diag exposes the narrow sample-statistics surface the
// out-of-scope imgcompare/imggeocrop collaborator (§1 Non-goals) needs
// from the core: the core computes per-channel sample statistics, it
// never renders a plot or a histogram image itself.
package diag

import (
	"gonum.org/v1/gonum/stat"

	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/raster"
)

// ChannelSummary is one channel's sample statistics, the scalar
// summary a scatter/histogram plotting collaborator samples before
// rendering.
type ChannelSummary struct {
	Mean, StdDev float64
	Histogram    []uint64
}

// Summarize computes ChannelSummary for one channel of r, histogrammed
// into buckets spanning [lo, hi] via Raster.Histogram.
func Summarize(r *raster.Raster, channel, buckets int, lo, hi float64) ChannelSummary {
	return ChannelSummary{
		Mean:      r.Mean(channel, nil),
		StdDev:    r.StdDev(channel, nil),
		Histogram: r.Histogram(channel, buckets, lo, hi),
	}
}

// Correlation returns the Pearson correlation coefficient between one
// channel of a and the same channel of b, the other standard input a
// scatter-plot collaborator needs (e.g. a predicted fine raster
// against a held-out observation).
func Correlation(a, b *raster.Raster, channel int) (float64, error) {
	if a.Width() != b.Width() || a.Height() != b.Height() {
		return 0, ferr.Newf(ferr.SizeMismatch, "correlation requires matching shapes, got %dx%d vs %dx%d",
			a.Width(), a.Height(), b.Width(), b.Height())
	}
	n := a.Width() * a.Height()
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for y := 0; y < a.Height(); y++ {
		for x := 0; x < a.Width(); x++ {
			xs = append(xs, a.At(x, y, channel))
			ys = append(ys, b.At(x, y, channel))
		}
	}
	return stat.Correlation(xs, ys, nil), nil
}
