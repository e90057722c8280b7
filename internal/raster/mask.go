package raster

import "github.com/fusimg/fusimg/internal/ferr"

// MaskSet is a Raster subtype of base type u8 with values in {0, 255}
// (§4.2): either single-channel, applying to every data channel, or
// carrying the same channel count as the data it masks.
type MaskSet struct {
	Raster
}

// NewMask allocates a zeroed (all-invalid) MaskSet.
func NewMask(width, height, channels int) (*MaskSet, error) {
	r, err := New(width, height, channels, U8)
	if err != nil {
		return nil, err
	}
	return &MaskSet{Raster: *r}, nil
}

// FromValidIntervals is the MaskSet constructor named in §4.2,
// delegating to Raster.CreateMaskFromRanges.
func FromValidIntervals(r *Raster, intervals []Interval) (*MaskSet, error) {
	return r.CreateMaskFromRanges(intervals)
}

// ValidAt reports whether the mask value at (x,y,c) is 255. For a
// single-channel mask applied to a multi-channel raster, c is ignored
// (single-channel masks apply uniformly to every data channel).
func (m *MaskSet) ValidAt(x, y, c int) bool {
	if m.Channels() == 1 {
		c = 0
	}
	return m.At(x, y, c) == 255
}

func (m *MaskSet) shapeCompatible(o *MaskSet) error {
	if m.Width() != o.Width() || m.Height() != o.Height() {
		return ferr.Newf(ferr.SizeMismatch, "mask %dx%d vs %dx%d", m.Width(), m.Height(), o.Width(), o.Height())
	}
	return nil
}

// BitwiseAnd combines two masks: a pixel is valid in the result iff
// valid in both. Masks must agree on width/height; per ValidAt, a
// single-channel operand broadcasts across the other's channels.
func (m *MaskSet) BitwiseAnd(o *MaskSet) (*MaskSet, error) {
	if err := m.shapeCompatible(o); err != nil {
		return nil, err
	}
	channels := m.Channels()
	if o.Channels() > channels {
		channels = o.Channels()
	}
	out, _ := NewMask(m.Width(), m.Height(), channels)
	for y := 0; y < m.Height(); y++ {
		for x := 0; x < m.Width(); x++ {
			for c := 0; c < channels; c++ {
				if m.ValidAt(x, y, c) && o.ValidAt(x, y, c) {
					out.SetRaw(x, y, c, 255)
				}
			}
		}
	}
	return out, nil
}

// BitwiseOr combines two masks: a pixel is valid in the result iff
// valid in either.
func (m *MaskSet) BitwiseOr(o *MaskSet) (*MaskSet, error) {
	if err := m.shapeCompatible(o); err != nil {
		return nil, err
	}
	channels := m.Channels()
	if o.Channels() > channels {
		channels = o.Channels()
	}
	out, _ := NewMask(m.Width(), m.Height(), channels)
	for y := 0; y < m.Height(); y++ {
		for x := 0; x < m.Width(); x++ {
			for c := 0; c < channels; c++ {
				if m.ValidAt(x, y, c) || o.ValidAt(x, y, c) {
					out.SetRaw(x, y, c, 255)
				}
			}
		}
	}
	return out, nil
}

// BitwiseNot inverts validity.
func (m *MaskSet) BitwiseNot() *MaskSet {
	out, _ := NewMask(m.Width(), m.Height(), m.Channels())
	for y := 0; y < m.Height(); y++ {
		for x := 0; x < m.Width(); x++ {
			for c := 0; c < m.Channels(); c++ {
				if !m.ValidAt(x, y, c) {
					out.SetRaw(x, y, c, 255)
				}
			}
		}
	}
	return out
}

// Count returns the number of valid pixels across all channels.
func (m *MaskSet) Count() int {
	n := 0
	for y := 0; y < m.Height(); y++ {
		for x := 0; x < m.Width(); x++ {
			for c := 0; c < m.Channels(); c++ {
				if m.ValidAt(x, y, c) {
					n++
				}
			}
		}
	}
	return n
}
