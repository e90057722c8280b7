// Package raster implements the multi-resolution image store's pixel
// buffer type: a dense, channel-interleaved 2D raster over a closed
// set of numeric base types, with owning allocation and cropped views
// that share the parent's buffer the way the teacher's pIFD/IFD tree
// shares a single TagData buffer across strips instead of copying it
// (tiler.go, assembleLevelStrips).
package raster

import (
	"math"

	"github.com/fusimg/fusimg/internal/ferr"
)

// BaseType is the closed set of pixel element types a Raster may hold.
type BaseType int

const (
	U8 BaseType = iota
	I8
	U16
	I16
	I32
	F32
	F64
)

func (t BaseType) String() string {
	switch t {
	case U8:
		return "u8"
	case I8:
		return "i8"
	case U16:
		return "u16"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "unknown"
	}
}

// Size returns the number of bytes one element of t occupies.
func (t BaseType) Size() int {
	switch t {
	case U8, I8:
		return 1
	case U16, I16:
		return 2
	case I32, F32:
		return 4
	case F64:
		return 8
	default:
		return 0
	}
}

// Range returns the native [min, max] bounds of t, used as the
// default clamp range when an OptionBundle leaves data_range unset
// (§4.4.2 step 7) and as the saturation bounds for ConvertTo.
func (t BaseType) Range() (lo, hi float64) {
	switch t {
	case U8:
		return 0, 255
	case I8:
		return -128, 127
	case U16:
		return 0, 65535
	case I16:
		return -32768, 32767
	case I32:
		return -2147483648, 2147483647
	case F32:
		return -math.MaxFloat32, math.MaxFloat32
	case F64:
		return -math.MaxFloat64, math.MaxFloat64
	default:
		return 0, 0
	}
}

// Rect is an axis-aligned pixel rectangle, relative to whatever
// Raster's coordinate space it is applied to.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) contains(inner Rect) bool {
	return inner.X >= 0 && inner.Y >= 0 &&
		inner.X+inner.W <= r.W && inner.Y+inner.H <= r.H &&
		inner.W > 0 && inner.H > 0
}

// Intersect returns the overlap of r and o; W/H are 0 if disjoint.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.X+r.W, o.X+o.W), min(r.Y+r.H, o.Y+o.H)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Expand grows r by n pixels on every side, clipped to bounds.
func (r Rect) Expand(n, boundsW, boundsH int) Rect {
	x0 := max(0, r.X-n)
	y0 := max(0, r.Y-n)
	x1 := min(boundsW, r.X+r.W+n)
	y1 := min(boundsH, r.Y+r.H+n)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Interval is one closed or half-open real interval, used to build
// the valid-value set of §3 and to classify pixels with
// CreateMaskFromRanges.
type Interval struct {
	Lo, Hi           float64
	LoInclusive      bool
	HiInclusive      bool
}

// Closed builds a [lo, hi] interval.
func Closed(lo, hi float64) Interval {
	return Interval{Lo: lo, Hi: hi, LoInclusive: true, HiInclusive: true}
}

// HalfOpen builds a [lo, hi) interval.
func HalfOpen(lo, hi float64) Interval {
	return Interval{Lo: lo, Hi: hi, LoInclusive: true, HiInclusive: false}
}

func (iv Interval) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	loOK := v > iv.Lo || (iv.LoInclusive && v == iv.Lo)
	hiOK := v < iv.Hi || (iv.HiInclusive && v == iv.Hi)
	return loOK && hiOK
}

func containsAny(intervals []Interval, v float64) bool {
	for _, iv := range intervals {
		if iv.Contains(v) {
			return true
		}
	}
	return false
}

// Raster owns (or crops a view over) a dense N-channel pixel buffer.
// Pixels are stored channel-interleaved: element(x,y,c) lives at
// ((originY+y)*rowStride+(originX+x))*channels+c, scaled by the base
// type's byte size. A view shares buf with its parent; Go's GC keeps
// buf alive as long as any view references it, which is this repo's
// equivalent of the teacher's copy-on-write third-party raster type
// (see DESIGN.md's internal/raster entry).
type Raster struct {
	width, height, channels int
	dtype                   BaseType
	rowStride               int
	originX, originY        int
	buf                     []byte
	owner                   bool
	noData                  []float64
	validIntervals          []Interval
}

// New allocates a zeroed, owning Raster.
func New(width, height, channels int, dtype BaseType) (*Raster, error) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return nil, ferr.Newf(ferr.InvalidArgument, "width/height/channels must be >0, got %dx%dx%d", width, height, channels)
	}
	nd := make([]float64, channels)
	for i := range nd {
		nd[i] = math.NaN()
	}
	return &Raster{
		width: width, height: height, channels: channels, dtype: dtype,
		rowStride: width,
		buf:       make([]byte, width*height*channels*dtype.Size()),
		owner:     true,
		noData:    nd,
	}, nil
}

func (r *Raster) Width() int        { return r.width }
func (r *Raster) Height() int       { return r.height }
func (r *Raster) Channels() int     { return r.channels }
func (r *Raster) DType() BaseType   { return r.dtype }
func (r *Raster) IsOwning() bool    { return r.owner }
func (r *Raster) Bounds() Rect      { return Rect{W: r.width, H: r.height} }

// NoData returns the configured no-data value for channel c, or NaN
// if unset.
func (r *Raster) NoData(c int) float64 { return r.noData[c] }

// SetNoData configures the per-channel no-data value.
func (r *Raster) SetNoData(c int, v float64) {
	r.noData[c] = v
}

// SetValidIntervals attaches the raster's valid-value set (§3).
func (r *Raster) SetValidIntervals(ivs []Interval) {
	r.validIntervals = ivs
}

func (r *Raster) ValidIntervals() []Interval { return r.validIntervals }

func (r *Raster) elemOffset(x, y, c int) int {
	return ((r.originY+y)*r.rowStride + (r.originX + x)) * r.channels * r.dtype.Size() + c*r.dtype.Size()
}

// At returns the pixel value at (x,y,c) converted to float64.
func (r *Raster) At(x, y, c int) float64 {
	off := r.elemOffset(x, y, c)
	b := r.buf[off : off+r.dtype.Size()]
	switch r.dtype {
	case U8:
		return float64(b[0])
	case I8:
		return float64(int8(b[0]))
	case U16:
		return float64(leUint16(b))
	case I16:
		return float64(int16(leUint16(b)))
	case I32:
		return float64(int32(leUint32(b)))
	case F32:
		return float64(math.Float32frombits(leUint32(b)))
	case F64:
		return math.Float64frombits(leUint64(b))
	default:
		return math.NaN()
	}
}

// SetRaw stores value into (x,y,c), truncating/casting to the
// Raster's base type without saturation (callers needing saturation
// use ConvertTo, which clamps explicitly).
func (r *Raster) SetRaw(x, y, c int, value float64) {
	off := r.elemOffset(x, y, c)
	b := r.buf[off : off+r.dtype.Size()]
	switch r.dtype {
	case U8:
		b[0] = byte(value)
	case I8:
		b[0] = byte(int8(value))
	case U16:
		putLeUint16(b, uint16(value))
	case I16:
		putLeUint16(b, uint16(int16(value)))
	case I32:
		putLeUint32(b, uint32(int32(value)))
	case F32:
		putLeUint32(b, math.Float32bits(float32(value)))
	case F64:
		putLeUint64(b, math.Float64bits(value))
	}
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
func putLeUint16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// View returns a cropped Raster sharing this Raster's buffer. rect is
// relative to r's own coordinate space.
func (r *Raster) View(rect Rect) (*Raster, error) {
	if !r.Bounds().contains(rect) {
		return nil, ferr.Newf(ferr.InvalidArgument, "view rect %+v not contained in %dx%d raster", rect, r.width, r.height)
	}
	return &Raster{
		width: rect.W, height: rect.H, channels: r.channels, dtype: r.dtype,
		rowStride: r.rowStride,
		originX:   r.originX + rect.X,
		originY:   r.originY + rect.Y,
		buf:       r.buf,
		owner:     false,
		noData:    append([]float64(nil), r.noData...),
		validIntervals: r.validIntervals,
	}, nil
}

// Clone deep-copies r into a new owning Raster of identical shape.
func (r *Raster) Clone() *Raster {
	cp, _ := New(r.width, r.height, r.channels, r.dtype)
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			for c := 0; c < r.channels; c++ {
				cp.SetRaw(x, y, c, r.At(x, y, c))
			}
		}
	}
	copy(cp.noData, r.noData)
	cp.validIntervals = r.validIntervals
	return cp
}

// ConvertTo allocates a new owning Raster of dtype, saturating-casting
// every pixel. Per §4.1 this is the one operation allowed to change
// base_type.
func (r *Raster) ConvertTo(dtype BaseType) (*Raster, error) {
	out, err := New(r.width, r.height, r.channels, dtype)
	if err != nil {
		return nil, err
	}
	lo, hi := dtype.Range()
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			for c := 0; c < r.channels; c++ {
				v := r.At(x, y, c)
				if !math.IsNaN(v) {
					if v < lo {
						v = lo
					} else if v > hi {
						v = hi
					}
				}
				out.SetRaw(x, y, c, v)
			}
		}
	}
	copy(out.noData, r.noData)
	out.validIntervals = r.validIntervals
	return out, nil
}

// Set assigns value to every pixel of r, or only where mask is
// nonzero when mask is supplied.
func (r *Raster) Set(value float64, mask *MaskSet) error {
	if mask != nil {
		if err := r.checkMaskShape(mask); err != nil {
			return err
		}
	}
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			for c := 0; c < r.channels; c++ {
				if mask != nil && !mask.ValidAt(x, y, c) {
					continue
				}
				r.SetRaw(x, y, c, value)
			}
		}
	}
	return nil
}

func (r *Raster) checkMaskShape(mask *MaskSet) error {
	if mask.Width() != r.width || mask.Height() != r.height {
		return ferr.Newf(ferr.SizeMismatch, "mask %dx%d vs raster %dx%d", mask.Width(), mask.Height(), r.width, r.height)
	}
	if mask.Channels() != 1 && mask.Channels() != r.channels {
		return ferr.Newf(ferr.SizeMismatch, "mask channels %d incompatible with raster channels %d", mask.Channels(), r.channels)
	}
	return nil
}

// Split produces one single-channel Raster per channel. Because
// pixels are channel-interleaved, a single channel cannot be exposed
// as a strided view over the shared buffer without a second stride
// dimension this type doesn't carry, so each output channel is
// materialized into its own buffer instead of sharing storage.
func (r *Raster) Split() []*Raster {
	out := make([]*Raster, r.channels)
	for c := 0; c < r.channels; c++ {
		ch, _ := New(r.width, r.height, 1, r.dtype)
		for y := 0; y < r.height; y++ {
			for x := 0; x < r.width; x++ {
				ch.SetRaw(x, y, 0, r.At(x, y, c))
			}
		}
		ch.noData[0] = r.noData[c]
		out[c] = ch
	}
	return out
}

// AbsDiff computes the elementwise absolute difference between r and
// other.
func (r *Raster) AbsDiff(other *Raster) (*Raster, error) {
	if r.width != other.width || r.height != other.height || r.channels != other.channels {
		return nil, ferr.Newf(ferr.SizeMismatch, "shape %dx%dx%d vs %dx%dx%d", r.width, r.height, r.channels, other.width, other.height, other.channels)
	}
	if r.dtype != other.dtype {
		return nil, ferr.Newf(ferr.TypeMismatch, "%s vs %s", r.dtype, other.dtype)
	}
	out, err := New(r.width, r.height, r.channels, r.dtype)
	if err != nil {
		return nil, err
	}
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			for c := 0; c < r.channels; c++ {
				a, b := r.At(x, y, c), other.At(x, y, c)
				out.SetRaw(x, y, c, math.Abs(a-b))
			}
		}
	}
	return out, nil
}

// CreateMaskFromRanges builds a MaskSet where a pixel is 255 iff its
// value lies in the union of intervals. When r has more than one
// channel, the per-channel masks are ANDed into a single-channel
// result, matching the multi-channel variant of §4.1.
func (r *Raster) CreateMaskFromRanges(intervals []Interval) (*MaskSet, error) {
	mr, err := New(r.width, r.height, 1, U8)
	if err != nil {
		return nil, err
	}
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			valid := true
			for c := 0; c < r.channels; c++ {
				if !containsAny(intervals, r.At(x, y, c)) {
					valid = false
					break
				}
			}
			if valid {
				mr.SetRaw(x, y, 0, 255)
			}
		}
	}
	return &MaskSet{Raster: *mr}, nil
}

// Histogram computes a per-channel histogram of n buckets spanning
// [lo, hi]. Together with Mean and StdDev it is the numeric surface
// this package exposes, through internal/diag, for the out-of-scope
// imgcompare/plotting collaborator (§1); this package never renders a
// plot itself.
func (r *Raster) Histogram(channel, buckets int, lo, hi float64) []uint64 {
	counts := make([]uint64, buckets)
	if hi <= lo || buckets <= 0 {
		return counts
	}
	width := (hi - lo) / float64(buckets)
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			v := r.At(x, y, channel)
			if math.IsNaN(v) || v < lo || v > hi {
				continue
			}
			idx := int((v - lo) / width)
			if idx >= buckets {
				idx = buckets - 1
			}
			counts[idx]++
		}
	}
	return counts
}

// Mean and StdDev over the full raster for one channel, restricted to
// pixels where mask (if non-nil) is valid. Used by kernel sample-area
// statistics (§4.4.1 step 1, §4.4.2 step 1).
func (r *Raster) Mean(channel int, mask *MaskSet) float64 {
	sum, n := 0.0, 0
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			if mask != nil && !mask.ValidAt(x, y, channel) {
				continue
			}
			v := r.At(x, y, channel)
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func (r *Raster) StdDev(channel int, mask *MaskSet) float64 {
	mean := r.Mean(channel, mask)
	if math.IsNaN(mean) {
		return math.NaN()
	}
	sum, n := 0.0, 0
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			if mask != nil && !mask.ValidAt(x, y, channel) {
				continue
			}
			v := r.At(x, y, channel)
			if math.IsNaN(v) {
				continue
			}
			d := v - mean
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return math.Sqrt(sum / float64(n))
}
