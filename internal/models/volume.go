package models

import (
	"fmt"
	"image"

	"github.com/ks67768/biomedicalimageanalysis/pkg/grid"
)

// Slice represents a single 2D image of a slice stack with metadata
type Slice struct {
	// Image is the decoded slice image
	Image image.Image

	// Index is the position of this slice in the sorted sequence
	Index int

	// Filename is the original filename of the slice
	Filename string
}

// Volume is a voxel grid: a geometric descriptor plus a dense buffer of
// 8-bit pixel values.
type Volume struct {
	grid.Geometry

	// Data holds the voxels with x varying fastest:
	// Data[z*nx*ny + y*nx + x]
	Data []uint8
}

// NewVolume allocates a zero-filled volume for the given geometry
func NewVolume(geom grid.Geometry) *Volume {
	return &Volume{
		Geometry: geom,
		Data:     make([]uint8, geom.NumVoxels()),
	}
}

// Validate checks the geometry invariants and that the buffer length matches
// the size.
func (v *Volume) Validate() error {
	if err := v.Geometry.Validate(); err != nil {
		return err
	}
	if len(v.Data) != v.NumVoxels() {
		return fmt.Errorf("buffer holds %d voxels, size %v needs %d", len(v.Data), v.Size, v.NumVoxels())
	}
	return nil
}

// Offset returns the buffer position of voxel (x, y, z)
func (v *Volume) Offset(x, y, z int) int {
	return z*v.Size[0]*v.Size[1] + y*v.Size[0] + x
}

// At returns the value of voxel (x, y, z)
func (v *Volume) At(x, y, z int) uint8 {
	return v.Data[v.Offset(x, y, z)]
}

// Set stores value at voxel (x, y, z)
func (v *Volume) Set(x, y, z int, value uint8) {
	v.Data[v.Offset(x, y, z)] = value
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	data := make([]uint8, len(v.Data))
	copy(data, v.Data)
	return &Volume{Geometry: v.Geometry, Data: data}
}
