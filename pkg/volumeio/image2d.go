package volumeio

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
	"github.com/ks67768/biomedicalimageanalysis/pkg/grid"
)

// readImage2D loads a single 2D image as a volume with one slice
func readImage2D(path string) (*models.Volume, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, err
	}
	return imagesToVolume([]image.Image{img})
}

// writeImage2D stores a single-slice volume as a 2D image
func writeImage2D(path string, vol *models.Volume) error {
	if vol.Size[2] != 1 {
		return fmt.Errorf("%w: %s holds one slice, volume has %d", ErrUnsupported, path, vol.Size[2])
	}
	return saveImage(path, volumeSlice(vol, 0))
}

// loadImage decodes a PNG, JPEG, TIFF or BMP file
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	var img image.Image
	switch extension(path) {
	case ".png":
		img, err = png.Decode(file)
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(file)
	case ".tif", ".tiff":
		img, err = tiff.Decode(file)
	case ".bmp":
		img, err = bmp.Decode(file)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}
	return img, nil
}

// saveImage encodes img according to the file extension
func saveImage(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}

	if err := encodeImage(file, path, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func encodeImage(w io.Writer, path string, img image.Image) error {
	var err error
	switch extension(path) {
	case ".png":
		err = png.Encode(w, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case ".tif", ".tiff":
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case ".bmp":
		err = bmp.Encode(w, img)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	if err != nil {
		return fmt.Errorf("failed to encode image %s: %w", path, err)
	}
	return nil
}

// imagesToVolume stacks equally sized images along z, converting every pixel
// to 8-bit gray.
func imagesToVolume(images []image.Image) (*models.Volume, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no slices", ErrFormat)
	}

	bounds := images[0].Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	vol := models.NewVolume(grid.NewGeometry([3]int{width, height, len(images)}))

	for z, img := range images {
		b := img.Bounds()
		if b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("%w: slice %d is %dx%d, expected %dx%d", ErrFormat, z, b.Dx(), b.Dy(), width, height)
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				gray := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				vol.Set(x, y, z, gray.Y)
			}
		}
	}
	return vol, nil
}

// volumeSlice copies the z-th slice of vol into a gray image
func volumeSlice(vol *models.Volume, z int) *image.Gray {
	width, height := vol.Size[0], vol.Size[1]
	img := image.NewGray(image.Rect(0, 0, width, height))
	start := vol.Offset(0, 0, z)
	copy(img.Pix, vol.Data[start:start+width*height])
	return img
}
