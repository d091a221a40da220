package atlas

import (
	"fmt"
	"image"
)

// AssetID identifies the asset that owns an allocated region.
type AssetID uint32

// Region is a rectangular area of the atlas.
//
// Allocated regions carry an owner; free regions do not.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int

	owner AssetID
	owned bool
}

// Owner returns the owning asset and whether the region is allocated.
func (r Region) Owner() (AssetID, bool) {
	return r.owner, r.owned
}

// IsValid returns true if the region has positive dimensions.
func (r Region) IsValid() bool {
	return r.Width > 0 && r.Height > 0
}

// Area returns Width * Height.
func (r Region) Area() int {
	return r.Width * r.Height
}

// Contains returns true if the point (x, y) is inside the region.
func (r Region) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Overlaps reports whether the two regions share any pixel.
func (r Region) Overlaps(o Region) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// String returns a string representation of the region.
func (r Region) String() string {
	if r.owned {
		return fmt.Sprintf("Region(%d,%d %dx%d owner=%d)", r.X, r.Y, r.Width, r.Height, r.owner)
	}
	return fmt.Sprintf("Region(%d,%d %dx%d free)", r.X, r.Y, r.Width, r.Height)
}

func (r Region) sameRect(o Region) bool {
	return r.X == o.X && r.Y == o.Y && r.Width == o.Width && r.Height == o.Height
}

func (r Region) free() Region {
	r.owner = 0
	r.owned = false
	return r
}

// merge joins two free regions when they share a full edge.
// Horizontal neighbours need equal Y and Height, vertical neighbours equal X and Width.
func merge(a, b Region) (Region, bool) {
	if a.Y == b.Y && a.Height == b.Height {
		switch {
		case a.X+a.Width == b.X:
			return Region{X: a.X, Y: a.Y, Width: a.Width + b.Width, Height: a.Height}, true
		case b.X+b.Width == a.X:
			return Region{X: b.X, Y: a.Y, Width: a.Width + b.Width, Height: a.Height}, true
		}
	}
	if a.X == b.X && a.Width == b.Width {
		switch {
		case a.Y+a.Height == b.Y:
			return Region{X: a.X, Y: a.Y, Width: a.Width, Height: a.Height + b.Height}, true
		case b.Y+b.Height == a.Y:
			return Region{X: a.X, Y: b.Y, Width: a.Width, Height: a.Height + b.Height}, true
		}
	}
	return Region{}, false
}
