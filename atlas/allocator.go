package atlas

import (
	"errors"
	"sync"
)

// ErrRegionNotAllocated is returned by Deallocate for a rectangle that is not
// currently allocated, including a second release of the same region.
var ErrRegionNotAllocated = errors.New("atlas: region is not allocated")

// Stats is a snapshot of allocator occupancy.
//
// Fragmentation is 1 - LargestFreeArea/FreeArea, and 0 when the free space is
// empty or a single block.
type Stats struct {
	TotalArea         int
	UsedArea          int
	FreeArea          int
	LargestFreeArea   int
	AllocatedRegions  int
	FreeRegions       int
	AllocationCount   uint64
	DeallocationCount uint64
	Fragmentation     float64
}

// Allocator is a guillotine best-fit rectangle packer.
//
// Allocator is safe for concurrent use.
type Allocator struct {
	mu sync.Mutex

	width  int
	height int

	free      []Region
	allocated []Region

	allocCount    uint64
	deallocCount  uint64
	usedArea      int
	fragmentation float64
}

// NewAllocator creates an allocator whose free set is the whole width x height area.
func NewAllocator(width, height int) *Allocator {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	a := &Allocator{width: width, height: height}
	a.resetLocked()
	return a
}

// Width returns the atlas width.
func (a *Allocator) Width() int { return a.width }

// Height returns the atlas height.
func (a *Allocator) Height() int { return a.height }

// Allocate reserves a width x height rectangle for owner.
//
// It returns false when no free region is large enough. No compaction is
// attempted.
func (a *Allocator) Allocate(width, height int, owner AssetID) (Region, bool) {
	if width <= 0 || height <= 0 {
		return Region{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	best := -1
	bestArea := 0
	for i, f := range a.free {
		if f.Width < width || f.Height < height {
			continue
		}
		if area := f.Area(); best < 0 || area < bestArea {
			best = i
			bestArea = area
		}
	}
	if best < 0 {
		slogger().Debug("atlas: no free region fits",
			"width", width, "height", height, "free_regions", len(a.free))
		return Region{}, false
	}

	chosen := a.free[best]
	a.free[best] = a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	region := Region{X: chosen.X, Y: chosen.Y, Width: width, Height: height, owner: owner, owned: true}

	if chosen.Width > width {
		a.free = append(a.free, Region{
			X:      chosen.X + width,
			Y:      chosen.Y,
			Width:  chosen.Width - width,
			Height: height,
		})
	}
	if chosen.Height > height {
		a.free = append(a.free, Region{
			X:      chosen.X,
			Y:      chosen.Y + height,
			Width:  chosen.Width,
			Height: chosen.Height - height,
		})
	}

	a.allocated = append(a.allocated, region)
	a.allocCount++
	a.usedArea += region.Area()
	a.updateFragmentation()
	return region, true
}

// Deallocate returns an allocated region to the free set and coalesces.
//
// The region must match an allocated rectangle exactly; the owner is not
// compared.
func (a *Allocator) Deallocate(r Region) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := -1
	for i, al := range a.allocated {
		if al.sameRect(r) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrRegionNotAllocated
	}

	released := a.allocated[idx]
	a.allocated[idx] = a.allocated[len(a.allocated)-1]
	a.allocated = a.allocated[:len(a.allocated)-1]

	a.free = append(a.free, released.free())
	a.coalesce()

	a.deallocCount++
	a.usedArea -= released.Area()
	a.updateFragmentation()
	return nil
}

// coalesce merges free regions pairwise until a full pass finds nothing to merge.
func (a *Allocator) coalesce() {
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(a.free) && !merged; i++ {
			for j := i + 1; j < len(a.free); j++ {
				m, ok := merge(a.free[i], a.free[j])
				if !ok {
					continue
				}
				a.free[i] = m
				a.free[j] = a.free[len(a.free)-1]
				a.free = a.free[:len(a.free)-1]
				merged = true
				break
			}
		}
	}
}

func (a *Allocator) updateFragmentation() {
	total, largest := 0, 0
	for _, f := range a.free {
		area := f.Area()
		total += area
		if area > largest {
			largest = area
		}
	}
	if total == 0 || len(a.free) <= 1 {
		a.fragmentation = 0
		return
	}
	a.fragmentation = 1 - float64(largest)/float64(total)
}

// Stats returns a snapshot of the allocator state.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		TotalArea:         a.width * a.height,
		UsedArea:          a.usedArea,
		AllocatedRegions:  len(a.allocated),
		FreeRegions:       len(a.free),
		AllocationCount:   a.allocCount,
		DeallocationCount: a.deallocCount,
		Fragmentation:     a.fragmentation,
	}
	for _, f := range a.free {
		s.FreeArea += f.Area()
		if f.Area() > s.LargestFreeArea {
			s.LargestFreeArea = f.Area()
		}
	}
	return s
}

// FreeRegions returns a copy of the free set.
func (a *Allocator) FreeRegions() []Region {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Region(nil), a.free...)
}

// AllocatedRegions returns a copy of the allocated set.
func (a *Allocator) AllocatedRegions() []Region {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Region(nil), a.allocated...)
}

// Utilization returns the fraction of area allocated (0.0 to 1.0).
func (a *Allocator) Utilization() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.width * a.height
	if total == 0 {
		return 0
	}
	return float64(a.usedArea) / float64(total)
}

// Reset drops every allocation. Counters are kept.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Allocator) resetLocked() {
	a.allocated = a.allocated[:0]
	a.free = a.free[:0]
	if a.width > 0 && a.height > 0 {
		a.free = append(a.free, Region{Width: a.width, Height: a.height})
	}
	a.usedArea = 0
	a.fragmentation = 0
}
