// Package parallel implements the Parallelizer (§4.6): split a
// prediction area into axis-aligned tiles, run a tileable
// FusionKernel over each tile on a bounded worker pool, and merge the
// disjoint tile outputs into one Raster. Modeled on the teacher's
// Stripper/Tiler row-major strip split (stripper.go's `stripping`),
// generalized from one axis (image rows) to two (tile rectangles),
// since fusion kernels need square window context rather than
// single-direction overview downsampling.
package parallel

import "github.com/fusimg/fusimg/internal/raster"

// Tile is one axis-aligned piece of a prediction area. Output is the
// rectangle this tile owns exclusively in the merged result; tiles
// partition the area's Output rectangles disjointly (§4.6 "each
// output pixel is written by exactly one tile").
type Tile struct {
	Output raster.Rect
}

// SplitTiles partitions area into tileSize x tileSize pieces in
// row-major order, clipped at area's own borders. A non-positive
// tileSize, or an area already no larger than one tile, yields a
// single tile covering the whole area.
func SplitTiles(area raster.Rect, tileSize int) []Tile {
	if tileSize <= 0 || (area.W <= tileSize && area.H <= tileSize) {
		return []Tile{{Output: area}}
	}
	var tiles []Tile
	for y := area.Y; y < area.Y+area.H; y += tileSize {
		h := minInt(tileSize, area.Y+area.H-y)
		for x := area.X; x < area.X+area.W; x += tileSize {
			w := minInt(tileSize, area.X+area.W-x)
			tiles = append(tiles, Tile{Output: raster.Rect{X: x, Y: y, W: w, H: h}})
		}
	}
	return tiles
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
