package volumeio

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
	"github.com/ks67768/biomedicalimageanalysis/pkg/grid"
)

// GeometryFile is the sidecar holding the physical placement of a slice stack
const GeometryFile = "geometry.yaml"

// sliceGeometry is the YAML form of the sidecar. Slice images carry no
// physical information of their own.
type sliceGeometry struct {
	Spacing   [3]float64    `yaml:"spacing"`
	Origin    [3]float64    `yaml:"origin"`
	Direction [3][3]float64 `yaml:"direction"`
}

// readSliceStack loads every image in dir, sorted by the number embedded in
// the file name, as consecutive z slices.
func readSliceStack(dir string) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read slice directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isImage2D(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no slice images found in %s", ErrFormat, dir)
	}

	// Keep anatomical order: slice_2 must precede slice_10
	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})

	slices := make([]models.Slice, 0, len(names))
	for i, name := range names {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load slice %s: %w", name, err)
		}
		slices = append(slices, models.Slice{Image: img, Index: i, Filename: name})
	}

	images := make([]image.Image, len(slices))
	for i, s := range slices {
		images[i] = s.Image
	}
	vol, err := imagesToVolume(images)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}

	if err := applyGeometryFile(filepath.Join(dir, GeometryFile), &vol.Geometry); err != nil {
		return nil, err
	}
	return vol, nil
}

// applyGeometryFile overrides spacing, origin and direction from the sidecar.
// A missing sidecar leaves the unit geometry in place.
func applyGeometryFile(path string, geom *grid.Geometry) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read geometry file: %w", err)
	}

	sg := sliceGeometry{
		Spacing:   [3]float64{geom.Spacing.X, geom.Spacing.Y, geom.Spacing.Z},
		Origin:    [3]float64{geom.Origin.X, geom.Origin.Y, geom.Origin.Z},
		Direction: geom.Direction,
	}
	if err := yaml.Unmarshal(data, &sg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}

	geom.Spacing = r3.Vec{X: sg.Spacing[0], Y: sg.Spacing[1], Z: sg.Spacing[2]}
	geom.Origin = r3.Vec{X: sg.Origin[0], Y: sg.Origin[1], Z: sg.Origin[2]}
	geom.Direction = sg.Direction
	if err := geom.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}
	return nil
}

// writeSliceStack stores each z slice of vol as slice_NNN.png in dir along
// with the geometry sidecar.
func writeSliceStack(dir string, vol *models.Volume) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create slice directory: %w", err)
	}

	for z := 0; z < vol.Size[2]; z++ {
		filename := filepath.Join(dir, fmt.Sprintf("slice_%03d.png", z))
		if err := saveImage(filename, volumeSlice(vol, z)); err != nil {
			return err
		}
	}

	sg := sliceGeometry{
		Spacing:   [3]float64{vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z},
		Origin:    [3]float64{vol.Origin.X, vol.Origin.Y, vol.Origin.Z},
		Direction: vol.Direction,
	}
	data, err := yaml.Marshal(&sg)
	if err != nil {
		return fmt.Errorf("failed to marshal geometry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, GeometryFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write geometry file: %w", err)
	}
	return nil
}

// extractNumber extracts the digits of a file name as one integer; names
// without digits sort first.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}
