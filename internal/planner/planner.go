package planner

import (
	"context"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/geoinfo"
	"github.com/fusimg/fusimg/internal/logx"
	"github.com/fusimg/fusimg/internal/raster"
	"github.com/fusimg/fusimg/internal/store"
)

// Loader fetches the raster for (tag, date), matching the §6 Loader
// collaborator's signature narrowed to what the planner needs: it
// does not crop or convert, that is the caller's loader implementation
// to decide. The returned Proxy is the geoinfo.Proxy the loaded
// raster's pixels are georeferenced against; a nil Proxy (e.g. for
// synthetic or ungeoreferenced inputs) skips the planner's §2
// "resolve CRS and rectangles" step for that raster.
type Loader func(ctx context.Context, tag string, date int) (*raster.Raster, geoinfo.Proxy, error)

// JobPlanner drives §4.5: segment the date axis, emit jobs per
// segment, and load/evict pair rasters at segment boundaries instead
// of per prediction.
type JobPlanner struct {
	st         *store.ImageStore
	load       Loader
	highTag    string
	lowTag     string
	ramCeiling resource.Quantity
	doublePair bool

	mu     sync.Mutex
	loaded map[int]bool

	bboxMu             sync.Mutex
	haveBBox           bool
	minX, minY, maxX, maxY float64
}

// New builds a JobPlanner. ramCeiling is the RAM budget of §5
// Backpressure; a zero Quantity means unlimited. doublePair mirrors
// the kernel option of the same name: when set, a prediction date
// between two pairs is scheduled as a single double-pair job instead
// of two single-pair jobs.
func New(st *store.ImageStore, load Loader, highTag, lowTag string, ramCeiling resource.Quantity, doublePair bool) (*JobPlanner, error) {
	if highTag == "" || lowTag == "" || highTag == lowTag {
		return nil, ferr.New(ferr.InvalidArgument, "planner requires distinct non-empty high/low tags")
	}
	return &JobPlanner{
		st:         st,
		load:       load,
		highTag:    highTag,
		lowTag:     lowTag,
		ramCeiling: ramCeiling,
		doublePair: doublePair,
		loaded:     make(map[int]bool),
	}, nil
}

// Plan partitions predDates into segments without loading anything;
// callers that only need the schedule (e.g. diagnostics) can call
// this directly instead of Run.
func (p *JobPlanner) Plan(pairDates, predDates []int) ([]Segment, error) {
	return BuildSegments(pairDates, predDates)
}

// Run executes every segment in order: it loads a segment's pair
// rasters before running its jobs (prefetching the *next* segment's
// pairs in the background via errgroup while the current segment's
// jobs are handed to process), and evicts a segment's pair rasters
// once the following segment no longer references them. process is
// invoked once per emitted Job; the coarse-at-pred raster for a job's
// PredDate is guaranteed loaded before process runs and loaded at
// most once overall.
func (p *JobPlanner) Run(ctx context.Context, pairDates, predDates []int, process func(ctx context.Context, job Job) error) error {
	segments, err := p.Plan(pairDates, predDates)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}

	for _, d := range needs(segments[0]) {
		if err := p.ensurePair(ctx, d); err != nil {
			return err
		}
	}

	for i, seg := range segments {
		if err := checkCtx(ctx); err != nil {
			return err
		}

		var g *errgroup.Group
		var gctx context.Context
		hasNext := i+1 < len(segments)
		var nextNeeds []int
		if hasNext {
			nextNeeds = needs(segments[i+1])
			if p.withinBudget() {
				g, gctx = errgroup.WithContext(ctx)
				for _, d := range nextNeeds {
					d := d
					g.Go(func() error { return p.ensurePair(gctx, d) })
				}
			}
		}

		for _, job := range jobsForSegment(seg, p.doublePair) {
			if err := p.ensureCoarseAtPred(ctx, job.PredDate); err != nil {
				if g != nil {
					_ = g.Wait()
				}
				return err
			}
			if err := process(ctx, job); err != nil {
				if g != nil {
					_ = g.Wait()
				}
				return err
			}
		}

		if g != nil {
			if err := g.Wait(); err != nil {
				return err
			}
		} else if hasNext {
			// backpressure held off the background prefetch above;
			// load the next segment's pairs synchronously instead.
			for _, d := range nextNeeds {
				if err := p.ensurePair(ctx, d); err != nil {
					return err
				}
			}
		}

		keep := make(map[int]bool, len(nextNeeds))
		for _, d := range nextNeeds {
			keep[d] = true
		}
		for _, d := range needs(seg) {
			if !keep[d] {
				p.evictPair(d)
			}
		}
	}
	return nil
}

func (p *JobPlanner) ensurePair(ctx context.Context, date int) error {
	p.mu.Lock()
	if p.loaded[date] {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	f, fgeo, err := p.load(ctx, p.highTag, date)
	if err != nil {
		return ferr.Wrap(ferr.IO, err, "load pair raster").WithTag(p.highTag).WithDate(date)
	}
	if err := p.resolveRect(p.highTag, date, fgeo, f); err != nil {
		return err
	}
	if err := p.st.Set(p.highTag, date, f); err != nil {
		return err
	}
	c, cgeo, err := p.load(ctx, p.lowTag, date)
	if err != nil {
		return ferr.Wrap(ferr.IO, err, "load pair raster").WithTag(p.lowTag).WithDate(date)
	}
	if err := p.resolveRect(p.lowTag, date, cgeo, c); err != nil {
		return err
	}
	if err := p.st.Set(p.lowTag, date, c); err != nil {
		return err
	}

	p.mu.Lock()
	p.loaded[date] = true
	p.mu.Unlock()
	return nil
}

func (p *JobPlanner) ensureCoarseAtPred(ctx context.Context, date int) error {
	if p.st.Has(p.lowTag, date) {
		return nil
	}
	r, g, err := p.load(ctx, p.lowTag, date)
	if err != nil {
		return ferr.Wrap(ferr.IO, err, "load coarse-at-pred raster").WithTag(p.lowTag).WithDate(date)
	}
	if err := p.resolveRect(p.lowTag, date, g, r); err != nil {
		return err
	}
	return p.st.Set(p.lowTag, date, r)
}

// resolveRect asks geo to resolve r's pixel bounds into the dataset's
// projected bounding box (§2: "asks GeoInfoProxy to resolve CRS and
// rectangles"), then folds it into the running intersection of every
// rect resolved so far — §6's project_rect is the operation the core
// uses to confirm the loaded rasters still overlap as pair/coarse
// images accumulate across dates, the way a human driving the
// pipeline would sanity-check a multi-scene AOI before fusing it. A
// nil geo (synthetic or ungeoreferenced inputs) is a no-op.
func (p *JobPlanner) resolveRect(tag string, date int, geo geoinfo.Proxy, r *raster.Raster) error {
	if geo == nil {
		return nil
	}
	minX, minY, maxX, maxY, err := geo.ProjectRect(r.Bounds())
	if err != nil {
		return ferr.Wrap(ferr.IO, err, "resolve projected rectangle").WithTag(tag).WithDate(date)
	}
	logx.L().Debug("resolved projected rectangle", logx.Tag(tag), logx.Date(date))

	p.bboxMu.Lock()
	defer p.bboxMu.Unlock()
	if !p.haveBBox {
		p.minX, p.minY, p.maxX, p.maxY = minX, minY, maxX, maxY
		p.haveBBox = true
		return nil
	}
	p.minX, p.minY = math.Max(p.minX, minX), math.Max(p.minY, minY)
	p.maxX, p.maxY = math.Min(p.maxX, maxX), math.Min(p.maxY, maxY)
	if p.minX >= p.maxX || p.minY >= p.maxY {
		return ferr.New(ferr.SizeMismatch, "loaded rasters do not share an overlapping projected extent").WithTag(tag).WithDate(date)
	}
	return nil
}

func (p *JobPlanner) evictPair(date int) {
	p.st.Remove(p.highTag, date)
	p.st.Remove(p.lowTag, date)
	p.mu.Lock()
	delete(p.loaded, date)
	p.mu.Unlock()
}

// withinBudget reports whether the store's current memory footprint
// leaves room under the configured RAM ceiling for a background
// prefetch; a zero ceiling means unlimited.
func (p *JobPlanner) withinBudget() bool {
	if p.ramCeiling.IsZero() {
		return true
	}
	return p.st.MemoryBytes() < p.ramCeiling.Value()
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ferr.Wrap(ferr.InternalLogic, ctx.Err(), "prediction cancelled")
	default:
		return nil
	}
}
