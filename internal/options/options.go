// Package options implements the per-kernel OptionBundle sum type of
// §3/§9: a validated configuration record built with the teacher's
// functional-options pattern (tiler.go's TilerOption, stripper.go's
// StripperOption) rather than parsed from a CLI — option parsing is
// an explicit external collaborator (§9).
package options

import (
	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/raster"
)

// KernelKind names which concrete FusionKernel an OptionBundle targets.
type KernelKind string

const (
	Starfm  KernelKind = "starfm"
	Estarfm KernelKind = "estarfm"
	FitFC   KernelKind = "fitfc"
)

// DataRange clamps predicted values (§3 data_range); a nil *DataRange
// means "use the native range of the base type" (§4.4.2 step 7).
type DataRange struct {
	Lo, Hi float64
}

// OptionBundle is the sum type DESIGN.md calls for: a concrete
// per-kernel options struct identified by Kernel() and checked by
// Validate() before a FusionKernel accepts it.
type OptionBundle interface {
	Kernel() KernelKind
	Validate() error
	// Area returns the configured prediction_area.
	Area() raster.Rect
	// WithArea returns a copy of the bundle bound to a different
	// prediction_area, leaving every other field unchanged. Used by
	// the Parallelizer to rebind a tile's rectangle onto an
	// already-validated bundle without re-parsing options.
	WithArea(raster.Rect) OptionBundle
}

// common holds the fields shared across every kernel variant (§3).
type common struct {
	WindowSize     int
	PredictionArea raster.Rect
	HighTag        string
	LowTag         string
	PairDate1      int
	PairDate3      *int // optional: set only when a second bracketing pair is configured
	DataRange      *DataRange
}

func (c common) validate() error {
	if c.WindowSize < 3 || c.WindowSize%2 == 0 {
		return ferr.Newf(ferr.InvalidArgument, "window_size must be odd and >=3, got %d", c.WindowSize)
	}
	if c.HighTag == "" || c.LowTag == "" {
		return ferr.New(ferr.InvalidArgument, "high_tag and low_tag must be set")
	}
	if c.HighTag == c.LowTag {
		return ferr.New(ferr.InvalidArgument, "high_tag and low_tag must differ")
	}
	if c.PredictionArea.W <= 0 || c.PredictionArea.H <= 0 {
		return ferr.New(ferr.InvalidArgument, "prediction_area must have positive width/height")
	}
	if c.DataRange != nil && c.DataRange.Hi <= c.DataRange.Lo {
		return ferr.New(ferr.InvalidArgument, "data_range must have hi > lo")
	}
	return nil
}

// --- STARFM ---

// StarfmOptions configures the STARFM-class kernel (§4.4.1).
type StarfmOptions struct {
	common
	NumClasses            float64
	SpectralUncertainty   float64
	TemporalUncertainty   float64
	StrictFiltering       bool
	CopyOnZeroDiff        bool
	TemporalWeightingMode bool
	DoublePairMode        bool
	LogScale              float64
}

func (o *StarfmOptions) Kernel() KernelKind { return Starfm }

func (o *StarfmOptions) Area() raster.Rect { return o.PredictionArea }

func (o *StarfmOptions) WithArea(r raster.Rect) OptionBundle {
	cp := *o
	cp.PredictionArea = r
	return &cp
}

func (o *StarfmOptions) Validate() error {
	if err := o.common.validate(); err != nil {
		return err
	}
	if o.NumClasses < 1 {
		return ferr.Newf(ferr.InvalidArgument, "num_classes must be >=1, got %g", o.NumClasses)
	}
	if o.SpectralUncertainty < 0 || o.TemporalUncertainty < 0 {
		return ferr.New(ferr.InvalidArgument, "uncertainties must be >=0")
	}
	if o.DoublePairMode && o.PairDate3 == nil {
		return ferr.New(ferr.InvalidArgument, "double_pair_mode requires pair_date_3")
	}
	return nil
}

// StarfmOption mutates a StarfmOptions under construction.
type StarfmOption func(*StarfmOptions) error

func NewStarfmOptions(windowSize int, area raster.Rect, highTag, lowTag string, pairDate1 int, opts ...StarfmOption) (*StarfmOptions, error) {
	o := &StarfmOptions{
		common: common{
			WindowSize:     windowSize,
			PredictionArea: area,
			HighTag:        highTag,
			LowTag:         lowTag,
			PairDate1:      pairDate1,
		},
		NumClasses: 4,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func WithPairDate3(d int) StarfmOption {
	return func(o *StarfmOptions) error { o.PairDate3 = &d; return nil }
}
func WithNumClasses(n float64) StarfmOption {
	return func(o *StarfmOptions) error { o.NumClasses = n; return nil }
}
func WithSpectralUncertainty(v float64) StarfmOption {
	return func(o *StarfmOptions) error { o.SpectralUncertainty = v; return nil }
}
func WithTemporalUncertainty(v float64) StarfmOption {
	return func(o *StarfmOptions) error { o.TemporalUncertainty = v; return nil }
}
func WithStrictFiltering(v bool) StarfmOption {
	return func(o *StarfmOptions) error { o.StrictFiltering = v; return nil }
}
func WithCopyOnZeroDiff(v bool) StarfmOption {
	return func(o *StarfmOptions) error { o.CopyOnZeroDiff = v; return nil }
}
func WithTemporalWeightingMode(v bool) StarfmOption {
	return func(o *StarfmOptions) error { o.TemporalWeightingMode = v; return nil }
}
func WithDoublePairMode(v bool) StarfmOption {
	return func(o *StarfmOptions) error { o.DoublePairMode = v; return nil }
}
func WithLogScale(v float64) StarfmOption {
	return func(o *StarfmOptions) error { o.LogScale = v; return nil }
}
func WithDataRange(lo, hi float64) StarfmOption {
	return func(o *StarfmOptions) error { o.DataRange = &DataRange{Lo: lo, Hi: hi}; return nil }
}

// --- ESTARFM ---

// EstarfmOptions configures the ESTARFM-class kernel (§4.4.2); it
// always requires both bracketing pairs.
type EstarfmOptions struct {
	common
	NumClasses                   float64
	UseLocalTol                  bool
	UseQualityWeightedRegression bool
	UncertaintyFactor            float64
}

func (o *EstarfmOptions) Kernel() KernelKind { return Estarfm }

func (o *EstarfmOptions) Area() raster.Rect { return o.PredictionArea }

func (o *EstarfmOptions) WithArea(r raster.Rect) OptionBundle {
	cp := *o
	cp.PredictionArea = r
	return &cp
}

func (o *EstarfmOptions) Validate() error {
	if err := o.common.validate(); err != nil {
		return err
	}
	if o.PairDate3 == nil {
		return ferr.New(ferr.InvalidArgument, "estarfm requires pair_date_3")
	}
	if o.NumClasses < 1 {
		return ferr.Newf(ferr.InvalidArgument, "num_classes must be >=1, got %g", o.NumClasses)
	}
	if o.UncertaintyFactor < 0 {
		return ferr.New(ferr.InvalidArgument, "uncertainty_factor must be >=0")
	}
	return nil
}

type EstarfmOption func(*EstarfmOptions) error

func NewEstarfmOptions(windowSize int, area raster.Rect, highTag, lowTag string, pairDate1, pairDate3 int, opts ...EstarfmOption) (*EstarfmOptions, error) {
	o := &EstarfmOptions{
		common: common{
			WindowSize:     windowSize,
			PredictionArea: area,
			HighTag:        highTag,
			LowTag:         lowTag,
			PairDate1:      pairDate1,
			PairDate3:      &pairDate3,
		},
		NumClasses:        4,
		UncertaintyFactor: 1,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func WithEstarfmNumClasses(n float64) EstarfmOption {
	return func(o *EstarfmOptions) error { o.NumClasses = n; return nil }
}
func WithUseLocalTol(v bool) EstarfmOption {
	return func(o *EstarfmOptions) error { o.UseLocalTol = v; return nil }
}
func WithUseQualityWeightedRegression(v bool) EstarfmOption {
	return func(o *EstarfmOptions) error { o.UseQualityWeightedRegression = v; return nil }
}
func WithUncertaintyFactor(v float64) EstarfmOption {
	return func(o *EstarfmOptions) error { o.UncertaintyFactor = v; return nil }
}
func WithEstarfmDataRange(lo, hi float64) EstarfmOption {
	return func(o *EstarfmOptions) error { o.DataRange = &DataRange{Lo: lo, Hi: hi}; return nil }
}

// --- FitFC ---

// FitFCOptions configures the FitFC-class kernel (§4.4.3).
type FitFCOptions struct {
	common
	NumNeighbors     int
	ResolutionFactor float64
}

func (o *FitFCOptions) Kernel() KernelKind { return FitFC }

func (o *FitFCOptions) Area() raster.Rect { return o.PredictionArea }

func (o *FitFCOptions) WithArea(r raster.Rect) OptionBundle {
	cp := *o
	cp.PredictionArea = r
	return &cp
}

func (o *FitFCOptions) Validate() error {
	if err := o.common.validate(); err != nil {
		return err
	}
	if o.NumNeighbors < 1 {
		return ferr.Newf(ferr.InvalidArgument, "num_neighbors must be >=1, got %d", o.NumNeighbors)
	}
	if o.ResolutionFactor <= 0 {
		return ferr.Newf(ferr.InvalidArgument, "resolution_factor must be >0, got %g", o.ResolutionFactor)
	}
	return nil
}

type FitFCOption func(*FitFCOptions) error

func NewFitFCOptions(windowSize int, area raster.Rect, highTag, lowTag string, pairDate1 int, numNeighbors int, resolutionFactor float64, opts ...FitFCOption) (*FitFCOptions, error) {
	o := &FitFCOptions{
		common: common{
			WindowSize:     windowSize,
			PredictionArea: area,
			HighTag:        highTag,
			LowTag:         lowTag,
			PairDate1:      pairDate1,
		},
		NumNeighbors:     numNeighbors,
		ResolutionFactor: resolutionFactor,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func WithFitFCDataRange(lo, hi float64) FitFCOption {
	return func(o *FitFCOptions) error { o.DataRange = &DataRange{Lo: lo, Hi: hi}; return nil }
}
