package volumeio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
	"github.com/ks67768/biomedicalimageanalysis/pkg/grid"
)

func testVolume(nx, ny, nz int) *models.Volume {
	geom := grid.NewGeometry([3]int{nx, ny, nz})
	geom.Spacing = r3.Vec{X: 0.5, Y: 0.75, Z: 2}
	geom.Origin = r3.Vec{X: -10, Y: 3.25, Z: 100}
	c, s := math.Cos(0.5), math.Sin(0.5)
	geom.Direction = [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}

	vol := models.NewVolume(geom)
	for i := range vol.Data {
		vol.Data[i] = uint8(i * 7)
	}
	return vol
}

func assertSameGeometry(t *testing.T, want, got grid.Geometry) {
	t.Helper()
	assert.Equal(t, want.Size, got.Size)
	assert.InDelta(t, want.Spacing.X, got.Spacing.X, 1e-12)
	assert.InDelta(t, want.Spacing.Y, got.Spacing.Y, 1e-12)
	assert.InDelta(t, want.Spacing.Z, got.Spacing.Z, 1e-12)
	assert.InDelta(t, want.Origin.X, got.Origin.X, 1e-12)
	assert.InDelta(t, want.Origin.Y, got.Origin.Y, 1e-12)
	assert.InDelta(t, want.Origin.Z, got.Origin.Z, 1e-12)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			assert.InDelta(t, want.Direction[r][c], got.Direction[r][c], 1e-12, "direction[%d][%d]", r, c)
		}
	}
}

func TestMetaImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vol := testVolume(5, 4, 3)

	tests := []struct {
		name string
		file string
		opts WriteOptions
	}{
		{"inline", "vol.mha", WriteOptions{}},
		{"inline compressed", "volz.mha", WriteOptions{Compress: true}},
		{"detached", "vol.mhd", WriteOptions{}},
		{"detached compressed", "volz.mhd", WriteOptions{Compress: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			require.NoError(t, Write(path, vol, tc.opts))

			got, err := Read(path)
			require.NoError(t, err)
			assertSameGeometry(t, vol.Geometry, got.Geometry)
			assert.Equal(t, vol.Data, got.Data)
		})
	}

	assert.FileExists(t, filepath.Join(dir, "vol.raw"))
	assert.FileExists(t, filepath.Join(dir, "volz.zraw"))
}

func TestMetaImageHeaderVariants(t *testing.T) {
	dir := t.TempDir()

	// 2D image written by another tool: spacing and origin for two axes only
	path := filepath.Join(dir, "flat.mha")
	header := "ObjectType = Image\nNDims = 2\nBinaryData = True\n" +
		"TransformMatrix = 0 1 -1 0\nOffset = 1 2\nElementSpacing = 0.5 0.25\n" +
		"DimSize = 3 2\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n"
	require.NoError(t, os.WriteFile(path, append([]byte(header), 1, 2, 3, 4, 5, 6), 0644))

	vol, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 1}, vol.Size)
	assert.Equal(t, r3.Vec{X: 0.5, Y: 0.25, Z: 1}, vol.Spacing)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 0}, vol.Origin)
	// First index axis points along +y, second along -x.
	assert.Equal(t, [3][3]float64{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}, vol.Direction)
	assert.Equal(t, uint8(6), vol.At(2, 1, 0))
}

func TestMetaImageErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"truncated data", "NDims = 3\nDimSize = 2 2 2\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n\x01\x02", ErrFormat},
		{"missing data file key", "NDims = 3\nDimSize = 2 2 2\nElementType = MET_UCHAR\n", ErrFormat},
		{"missing dims", "DimSize = 2 2 2\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n", ErrFormat},
		{"bad number", "NDims = 3\nDimSize = 2 x 2\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n", ErrFormat},
		{"bad line", "NDims 3\n", ErrFormat},
		{"short element", "NDims = 3\nDimSize = 1 1 1\nElementType = MET_SHORT\nElementDataFile = LOCAL\n\x00\x00", ErrUnsupported},
		{"four dims", "NDims = 4\n", ErrUnsupported},
		{"negative dim", "NDims = 3\nDimSize = 2 -1 2\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n", ErrFormat},
		{"huge dims", "NDims = 3\nDimSize = 3000000000 3000000000 3000000000\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n", ErrFormat},
		{"overflowing dims", "NDims = 3\nDimSize = 4294967296 4294967296 1\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n", ErrFormat},
		{"bad spacing", "NDims = 3\nDimSize = 1 1 1\nElementSpacing = 1 0 1\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n\x00", ErrFormat},
	}

	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("bad%d.mha", i))
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0644))
			_, err := Read(path)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMetaImageMissingDataFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lost.mhd")
	header := "NDims = 3\nDimSize = 1 1 1\nElementType = MET_UCHAR\nElementDataFile = lost.raw\n"
	require.NoError(t, os.WriteFile(path, []byte(header), 0644))

	_, err := Read(path)
	var pathErr *fs.PathError
	assert.True(t, errors.As(err, &pathErr), "expected *fs.PathError, got %v", err)
}

func TestImage2DRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vol := models.NewVolume(grid.NewGeometry([3]int{6, 4, 1}))
	for i := range vol.Data {
		vol.Data[i] = uint8(i * 10)
	}

	for _, name := range []string{"slice.png", "slice.tif", "slice.bmp"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Write(path, vol, WriteOptions{}), name)

		got, err := Read(path)
		require.NoError(t, err, name)
		assert.Equal(t, vol.Size, got.Size, name)
		assert.Equal(t, vol.Data, got.Data, name)
	}

	// JPEG is lossy: only check the shape
	path := filepath.Join(dir, "slice.jpg")
	require.NoError(t, Write(path, vol, WriteOptions{}))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, vol.Size, got.Size)
}

func TestImage2DConvertsColor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rgb.png")

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	img.Set(1, 0, color.RGBA{A: 255})
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, img))
	require.NoError(t, file.Close())

	vol, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0}, vol.Data)
}

func TestImage2DRejectsStacks(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "stack.png"), testVolume(2, 2, 2), WriteOptions{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSliceStackRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stack")
	vol := testVolume(4, 3, 12)

	require.NoError(t, Write(dir, vol, WriteOptions{}))
	assert.FileExists(t, filepath.Join(dir, "slice_011.png"))
	assert.FileExists(t, filepath.Join(dir, GeometryFile))

	got, err := Read(dir)
	require.NoError(t, err)
	assertSameGeometry(t, vol.Geometry, got.Geometry)
	assert.Equal(t, vol.Data, got.Data)
}

func TestSliceStackNumericOrder(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int{10, 2, 1} {
		img := image.NewGray(image.Rect(0, 0, 1, 1))
		img.Pix[0] = uint8(n)
		require.NoError(t, saveImage(filepath.Join(dir, fmt.Sprintf("img%d.png", n)), img))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	vol, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 2, 10}, vol.Data)
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 1}, vol.Spacing)
}

func TestSliceStackErrors(t *testing.T) {
	empty := t.TempDir()
	_, err := Read(empty)
	assert.ErrorIs(t, err, ErrFormat)

	mixed := t.TempDir()
	require.NoError(t, saveImage(filepath.Join(mixed, "a1.png"), image.NewGray(image.Rect(0, 0, 2, 2))))
	require.NoError(t, saveImage(filepath.Join(mixed, "a2.png"), image.NewGray(image.Rect(0, 0, 3, 2))))
	_, err = Read(mixed)
	assert.ErrorIs(t, err, ErrFormat)

	badGeom := t.TempDir()
	require.NoError(t, saveImage(filepath.Join(badGeom, "a1.png"), image.NewGray(image.Rect(0, 0, 2, 2))))
	require.NoError(t, os.WriteFile(filepath.Join(badGeom, GeometryFile), []byte("spacing: [1, -1, 1]\n"), 0644))
	_, err = Read(badGeom)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.mha"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	path := filepath.Join(t.TempDir(), "volume.nii")
	require.NoError(t, os.WriteFile(path, []byte{0}, 0644))
	_, err = Read(path)
	assert.ErrorIs(t, err, ErrUnsupported)

	err = Write(filepath.Join(t.TempDir(), "volume.nii"), testVolume(1, 1, 1), WriteOptions{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestExtractNumber(t *testing.T) {
	tests := map[string]int{
		"slice_001.png": 1,
		"IM-0042.jpg":   42,
		"no_digits.png": 0,
		"a1b2c3.tif":    123,
	}
	for name, want := range tests {
		if got := extractNumber(name); got != want {
			t.Errorf("extractNumber(%q): expected %d, got %d", name, want, got)
		}
	}
}
