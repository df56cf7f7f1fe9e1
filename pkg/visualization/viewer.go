package visualization

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
)

// Viewer extracts axis-aligned slices from a volume and writes them as
// images for inspection.
type Viewer struct {
	volume *models.Volume
}

// NewViewer creates a viewer over vol. The volume is not copied.
func NewViewer(vol *models.Volume) *Viewer {
	return &Viewer{volume: vol}
}

// axisLength returns the number of slices along axis
func (v *Viewer) axisLength(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.volume.Size[0], nil
	case "y", "Y":
		return v.volume.Size[1], nil
	case "z", "Z":
		return v.volume.Size[2], nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts a 2D slice perpendicular to axis at position
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	n, err := v.axisLength(axis)
	if err != nil {
		return nil, err
	}
	if position >= n {
		return nil, fmt.Errorf("position %d exceeds %s extent %d", position, axis, n)
	}

	nx, ny, nz := v.volume.Size[0], v.volume.Size[1], v.volume.Size[2]
	var img *image.Gray

	switch axis {
	case "x", "X":
		// YZ plane: columns are z, rows are y
		img = image.NewGray(image.Rect(0, 0, nz, ny))
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				img.Pix[y*img.Stride+z] = v.volume.At(position, y, z)
			}
		}

	case "y", "Y":
		// XZ plane: columns are x, rows are z
		img = image.NewGray(image.Rect(0, 0, nx, nz))
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				img.Pix[z*img.Stride+x] = v.volume.At(x, position, z)
			}
		}

	default:
		// XY plane
		img = image.NewGray(image.Rect(0, 0, nx, ny))
		start := v.volume.Offset(0, 0, position)
		copy(img.Pix, v.volume.Data[start:start+nx*ny])
	}

	return img, nil
}

// SaveSlice saves an extracted slice as PNG, or JPEG for .jpg/.jpeg names
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	maxPos, err := v.axisLength(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", strings.ToLower(axis), pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// sliceGrid adapts a slice image to plotter.GridXYZ. Image row 0 is drawn
// at the top.
type sliceGrid struct {
	img *image.Gray
}

func (g sliceGrid) Dims() (c, r int) {
	b := g.img.Bounds()
	return b.Dx(), b.Dy()
}

func (g sliceGrid) Z(c, r int) float64 {
	rows := g.img.Bounds().Dy()
	return float64(g.img.GrayAt(c, rows-1-r).Y)
}

func (g sliceGrid) X(c int) float64 { return float64(c) }
func (g sliceGrid) Y(r int) float64 { return float64(r) }

// SaveHeatMap renders the slice at position along axis as a heat map plot.
// The image format follows the file extension (png, svg, pdf, ...).
func (v *Viewer) SaveHeatMap(axis string, position int, title, filename string) error {
	img, err := v.ExtractSlice(axis, position)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"

	h := plotter.NewHeatMap(sliceGrid{img: img}, palette.Heat(64, 1))
	if h.Max <= h.Min {
		// Uniform slices would otherwise divide by zero when picking colours
		h.Max = h.Min + 1
	}
	p.Add(h)

	if err := p.Save(5*vg.Inch, 5*vg.Inch, filename); err != nil {
		return fmt.Errorf("failed to save heat map: %w", err)
	}
	return nil
}
