// Package store implements the multi-resolution image store: a
// mapping from (tag, date) to Raster, owning those rasters for the
// duration of one fusion job. Modeled on the teacher's IFD-chain
// ownership (cog.go's COG holding the lifetime of every IFD/mask it
// was handed) but keyed, not chained.
package store

import (
	"fmt"
	"sync"

	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/raster"
)

type key struct {
	tag  string
	date int
}

// ImageStore maps (tag, date) to Raster. All rasters inserted into
// one store must agree on {width, height, channels}; the first
// insertion fixes that shape (§4.3).
type ImageStore struct {
	mu     sync.RWMutex
	data   map[key]*raster.Raster
	width  int
	height int
	chans  int
	shaped bool
}

func New() *ImageStore {
	return &ImageStore{data: make(map[key]*raster.Raster)}
}

// Set inserts or replaces the raster at (tag, date).
func (s *ImageStore) Set(tag string, date int, r *raster.Raster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shaped {
		s.width, s.height, s.chans = r.Width(), r.Height(), r.Channels()
		s.shaped = true
	} else if r.Width() != s.width || r.Height() != s.height || r.Channels() != s.chans {
		return ferr.Newf(ferr.SizeMismatch, "raster %dx%dx%d does not match store shape %dx%dx%d",
			r.Width(), r.Height(), r.Channels(), s.width, s.height, s.chans).
			WithTag(tag).WithDate(date)
	}
	s.data[key{tag, date}] = r
	return nil
}

// Has reports whether (tag, date) is present.
func (s *ImageStore) Has(tag string, date int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key{tag, date}]
	return ok
}

// Get returns the raster at (tag, date), failing with not_found.
func (s *ImageStore) Get(tag string, date int) (*raster.Raster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[key{tag, date}]
	if !ok {
		return nil, ferr.Newf(ferr.NotFound, "no raster for tag/date").WithTag(tag).WithDate(date)
	}
	return r, nil
}

// Remove evicts (tag, date) from the store.
func (s *ImageStore) Remove(tag string, date int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key{tag, date})
}

// GetAny returns an arbitrary raster, used by probes that only need
// the store's common shape.
func (s *ImageStore) GetAny() (*raster.Raster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data {
		return r, nil
	}
	return nil, ferr.New(ferr.NotFound, "store is empty")
}

// Tags returns the distinct resolution tags currently held.
func (s *ImageStore) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for k := range s.data {
		if !seen[k.tag] {
			seen[k.tag] = true
			out = append(out, k.tag)
		}
	}
	return out
}

// Dates returns the dates held for tag.
func (s *ImageStore) Dates(tag string) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int
	for k := range s.data {
		if k.tag == tag {
			out = append(out, k.date)
		}
	}
	return out
}

// MemoryBytes sums width*height*channels*element size over every
// entry currently held, feeding the planner's RAM ceiling (§5
// Backpressure). A buffer shared by several entries (the same Raster
// stored under two keys, or views of one parent) is counted once per
// entry.
func (s *ImageStore) MemoryBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, r := range s.data {
		total += int64(r.Width()) * int64(r.Height()) * int64(r.Channels()) * int64(r.DType().Size())
	}
	return total
}

func (k key) String() string {
	return fmt.Sprintf("%s@%d", k.tag, k.date)
}
