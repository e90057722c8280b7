package parallel

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/kernel"
	"github.com/fusimg/fusimg/internal/logx"
	"github.com/fusimg/fusimg/internal/options"
	"github.com/fusimg/fusimg/internal/raster"
	"github.com/fusimg/fusimg/internal/store"
)

// Parallelizer drives a tileable FusionKernel over axis-aligned tiles
// of a prediction area on a bounded worker pool (§4.6), the same
// pool.New().WithMaxGoroutines(n).WithErrors().WithFirstError() shape
// as the teacher's cmd/pcogger/parallel-cogger.go.
type Parallelizer struct {
	numWorkers int
	tileSize   int
}

// New builds a Parallelizer with numWorkers concurrent tile workers,
// splitting the prediction area into tileSize x tileSize tiles.
func New(numWorkers, tileSize int) *Parallelizer {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if tileSize <= 0 {
		tileSize = 512
	}
	return &Parallelizer{numWorkers: numWorkers, tileSize: tileSize}
}

// Run tiles bundle's prediction area, runs a fresh kernel instance
// (from newKernel) per tile on the worker pool, and merges tile
// outputs into one Raster sized to the full area. It refuses
// composition with a kernel that declares Tileable()==false (§4.6),
// checking on a throwaway instance before any tile is dispatched.
func (p *Parallelizer) Run(ctx context.Context, newKernel func() kernel.FusionKernel, bundle options.OptionBundle, st *store.ImageStore, date int, mask *raster.MaskSet) (*raster.Raster, error) {
	if !newKernel().Tileable() {
		return nil, ferr.New(ferr.InvalidArgument, "kernel is not tileable, cannot run under Parallelizer")
	}

	area := bundle.Area()
	tiles := SplitTiles(area, p.tileSize)
	if len(tiles) == 1 {
		k := newKernel()
		if err := k.ProcessOptions(bundle); err != nil {
			return nil, err
		}
		return k.Predict(ctx, st, date, mask)
	}

	template, err := st.GetAny()
	if err != nil {
		return nil, err
	}
	out, err := raster.New(area.W, area.H, template.Channels(), template.DType())
	if err != nil {
		return nil, err
	}
	for c := 0; c < template.Channels(); c++ {
		out.SetNoData(c, template.NoData(c))
	}

	var mu sync.Mutex
	wp := pool.New().WithMaxGoroutines(p.numWorkers).WithErrors().WithFirstError()
	for _, tile := range tiles {
		tile := tile
		wp.Go(func() error {
			select {
			case <-ctx.Done():
				return ferr.Wrap(ferr.InternalLogic, ctx.Err(), "prediction cancelled")
			default:
			}
			logx.L().Debug("predicting tile", logx.Tile(tile.Output.X, tile.Output.Y), logx.Date(date))

			tileMask, err := subMask(mask, area, tile.Output)
			if err != nil {
				return err
			}
			k := newKernel()
			if err := k.ProcessOptions(bundle.WithArea(tile.Output)); err != nil {
				return err
			}
			tileOut, err := k.Predict(ctx, st, date, tileMask)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			return blit(out, tileOut, area, tile.Output)
		})
	}
	if err := wp.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// blit copies src (sized exactly tileOutput.W x tileOutput.H) into
// dst (sized area.W x area.H) at tileOutput's offset relative to
// area; each destination pixel is written by exactly one tile.
func blit(dst, src *raster.Raster, area, tileOutput raster.Rect) error {
	ox, oy := tileOutput.X-area.X, tileOutput.Y-area.Y
	channels := dst.Channels()
	for y := 0; y < tileOutput.H; y++ {
		for x := 0; x < tileOutput.W; x++ {
			for c := 0; c < channels; c++ {
				dst.SetRaw(ox+x, oy+y, c, src.At(x, y, c))
			}
		}
	}
	return nil
}

// subMask slices the portion of mask (indexed in area-local
// coordinates, matching the full prediction output) that corresponds
// to one tile's Output rectangle. A nil mask stays nil.
func subMask(mask *raster.MaskSet, area, tileOutput raster.Rect) (*raster.MaskSet, error) {
	if mask == nil {
		return nil, nil
	}
	rel := raster.Rect{X: tileOutput.X - area.X, Y: tileOutput.Y - area.Y, W: tileOutput.W, H: tileOutput.H}
	v, err := mask.View(rel)
	if err != nil {
		return nil, err
	}
	return &raster.MaskSet{Raster: *v}, nil
}
