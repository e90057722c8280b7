// This file adapts the teacher's COG/TIFF IFD writer (airbusgeo/cogger's
// cog.go) down to a single-IFD, single-strile TIFF encoder:
// EncodeStripedTIFF writes one Raster to an io.Writer (cmd/fusimg
// writes every prediction with it) and DecodeStripedTIFF reads it
// back, using the TIFF tag set the teacher already writes, without the COG pyramid/mask/overview chaining that format
// doesn't need here (§1 Non-goals: no new raster file format — this
// reuses the existing TIFF tag set and never touches a filesystem
// path; actual file I/O stays the loader collaborator's job, §6).
package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"

	"github.com/fusimg/fusimg/internal/ferr"
)

const (
	tByte   = 1
	tAscii  = 2
	tShort  = 3
	tLong   = 4
	tSByte  = 6
	tSShort = 8
	tSLong  = 9
	tFloat  = 11
	tDouble = 12
)

func sampleFormatTag(dtype BaseType) uint16 {
	switch dtype {
	case I8, I16, I32:
		return 2 // two's complement signed integer
	case F32, F64:
		return 3 // IEEE floating point
	default:
		return 1 // unsigned integer
	}
}

// EncodeStripedTIFF writes r as a minimal classic (non-big) TIFF: one
// IFD, one strile holding the entire image uncompressed, channel
// interleaved (PlanarConfiguration=1), matching the pixel layout
// Raster already uses internally.
func EncodeStripedTIFF(w io.Writer, r *Raster) error {
	enc := binary.LittleEndian
	header := [8]byte{}
	copy(header[0:], "II")
	enc.PutUint16(header[2:], 42)
	enc.PutUint32(header[4:], 8)
	if _, err := w.Write(header[:]); err != nil {
		return ferr.Wrap(ferr.IO, err, "write tiff header")
	}

	bps := make([]uint16, r.channels)
	sf := make([]uint16, r.channels)
	for i := range bps {
		bps[i] = uint16(r.dtype.Size() * 8)
		sf[i] = sampleFormatTag(r.dtype)
	}

	type taggedField struct {
		tag  uint16
		data interface{}
	}
	fields := []taggedField{
		{256, uint32(r.width)},
		{257, uint32(r.height)},
		{258, bps},
		{259, uint16(1)}, // Compression: none
		{262, uint16(1)}, // PhotometricInterpretation: black is zero
		{277, uint16(r.channels)},
		{284, uint16(1)}, // PlanarConfiguration: contiguous
		{322, uint32(r.width)},
		{323, uint32(r.height)},
		{339, sf},
	}

	ntags := uint64(len(fields)) + 2 // +TileOffsets +TileByteCounts
	tagsSize := uint64(2) + ntags*12 + 4

	var overflow bytes.Buffer
	overflowOffset := uint64(8) + tagsSize

	var ifd bytes.Buffer
	var u16 [2]byte
	enc.PutUint16(u16[:], uint16(ntags))
	ifd.Write(u16[:])

	writeShortOrLong := func(tag uint16, v uint32, isShort bool) {
		var buf [12]byte
		enc.PutUint16(buf[0:2], tag)
		if isShort {
			enc.PutUint16(buf[2:4], tShort)
			enc.PutUint32(buf[4:8], 1)
			enc.PutUint16(buf[8:], uint16(v))
		} else {
			enc.PutUint16(buf[2:4], tLong)
			enc.PutUint32(buf[4:8], 1)
			enc.PutUint32(buf[8:], v)
		}
		ifd.Write(buf[:])
	}
	writeArrayU16 := func(tag uint16, vals []uint16) {
		var buf [12]byte
		enc.PutUint16(buf[0:2], tag)
		enc.PutUint16(buf[2:4], tShort)
		enc.PutUint32(buf[4:8], uint32(len(vals)))
		if len(vals) <= 2 {
			for i, v := range vals {
				enc.PutUint16(buf[8+i*2:], v)
			}
		} else {
			enc.PutUint32(buf[8:], uint32(overflowOffset+uint64(overflow.Len())))
			for _, v := range vals {
				var b [2]byte
				enc.PutUint16(b[:], v)
				overflow.Write(b[:])
			}
		}
		ifd.Write(buf[:])
	}

	for _, f := range fields {
		switch d := f.data.(type) {
		case uint32:
			writeShortOrLong(f.tag, d, false)
		case uint16:
			writeShortOrLong(f.tag, uint32(d), true)
		case []uint16:
			writeArrayU16(f.tag, d)
		default:
			return ferr.New(ferr.InternalLogic, fmt.Sprintf("unhandled tiff field type for tag %d", f.tag))
		}
	}

	dataOffset := uint64(8) + tagsSize + uint64(overflow.Len())
	dataLen := uint32(len(r.buf))
	writeShortOrLong(324, uint32(dataOffset), false) // TileOffsets (single strile)
	writeShortOrLong(325, dataLen, false)             // TileByteCounts

	var nextIFD [4]byte // 0: no next IFD
	ifd.Write(nextIFD[:])
	ifd.Write(overflow.Bytes())

	if uint64(ifd.Len()) != tagsSize+uint64(overflow.Len()) {
		return ferr.Newf(ferr.InternalLogic, "ifd size mismatch: computed %d wrote %d", tagsSize+uint64(overflow.Len()), ifd.Len())
	}
	if _, err := w.Write(ifd.Bytes()); err != nil {
		return ferr.Wrap(ferr.IO, err, "write ifd")
	}
	if _, err := w.Write(r.buf); err != nil {
		return ferr.Wrap(ferr.IO, err, "write pixel data")
	}
	return nil
}

// tiffIFD mirrors the subset of tags this encoder writes; used to
// unmarshal via github.com/google/tiff the same way the teacher's
// loader.go does (tiff.UnmarshalIFD into a struct tagged with field
// numbers).
type tiffIFD struct {
	ImageWidth      uint64   `tiff:"field,tag=256"`
	ImageLength     uint64   `tiff:"field,tag=257"`
	BitsPerSample   []uint16 `tiff:"field,tag=258"`
	SamplesPerPixel uint16   `tiff:"field,tag=277"`
	SampleFormat    []uint16 `tiff:"field,tag=339"`
	TileOffsets     []uint64 `tiff:"field,tag=324"`
	TileByteCounts  []uint64 `tiff:"field,tag=325"`
}

func dtypeFromTags(bits uint16, format uint16) (BaseType, error) {
	switch {
	case format == 3 && bits == 32:
		return F32, nil
	case format == 3 && bits == 64:
		return F64, nil
	case format == 2 && bits == 8:
		return I8, nil
	case format == 2 && bits == 16:
		return I16, nil
	case format == 2 && bits == 32:
		return I32, nil
	case bits == 8:
		return U8, nil
	case bits == 16:
		return U16, nil
	default:
		return 0, ferr.Newf(ferr.FileFormat, "unsupported sample format=%d bits=%d", format, bits)
	}
}

// DecodeStripedTIFF reads back a Raster written by EncodeStripedTIFF.
func DecodeStripedTIFF(r tiff.ReadAtReadSeeker) (*Raster, error) {
	t, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return nil, ferr.Wrap(ferr.FileFormat, err, "parse tiff")
	}
	ifds := t.IFDs()
	if len(ifds) != 1 {
		return nil, ferr.Newf(ferr.FileFormat, "expected exactly 1 ifd, got %d", len(ifds))
	}
	var parsed tiffIFD
	if err := tiff.UnmarshalIFD(ifds[0], &parsed); err != nil {
		return nil, ferr.Wrap(ferr.FileFormat, err, "unmarshal ifd")
	}
	sf := uint16(1)
	if len(parsed.SampleFormat) > 0 {
		sf = parsed.SampleFormat[0]
	}
	bits := uint16(8)
	if len(parsed.BitsPerSample) > 0 {
		bits = parsed.BitsPerSample[0]
	}
	dtype, err := dtypeFromTags(bits, sf)
	if err != nil {
		return nil, err
	}
	channels := int(parsed.SamplesPerPixel)
	if channels == 0 {
		channels = 1
	}
	out, err := New(int(parsed.ImageWidth), int(parsed.ImageLength), channels, dtype)
	if err != nil {
		return nil, err
	}
	if len(parsed.TileOffsets) != 1 || len(parsed.TileByteCounts) != 1 {
		return nil, ferr.New(ferr.FileFormat, "expected a single strile covering the whole image")
	}
	if _, err := r.Seek(int64(parsed.TileOffsets[0]), io.SeekStart); err != nil {
		return nil, ferr.Wrap(ferr.IO, err, "seek to pixel data")
	}
	if _, err := io.ReadFull(r, out.buf); err != nil {
		return nil, ferr.Wrap(ferr.IO, err, "read pixel data")
	}
	return out, nil
}
