package volumeio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
	"github.com/ks67768/biomedicalimageanalysis/pkg/grid"
)

const metaLocal = "LOCAL"

// metaHeader holds the MetaImage header fields this package understands
type metaHeader struct {
	nDims      int
	size       [3]int
	spacing    [3]float64
	origin     [3]float64
	direction  [3][3]float64
	compressed bool
	dataFile   string
}

func defaultMetaHeader() metaHeader {
	return metaHeader{
		size:      [3]int{1, 1, 1},
		spacing:   [3]float64{1, 1, 1},
		direction: grid.IdentityDirection(),
	}
}

// readMetaImage decodes a .mha (inline data) or .mhd (detached data) file
func readMetaImage(path string) (*models.Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MetaImage: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	hdr, err := parseMetaHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var payload io.Reader = r
	if hdr.dataFile != metaLocal {
		dataPath := hdr.dataFile
		if !filepath.IsAbs(dataPath) {
			dataPath = filepath.Join(filepath.Dir(path), dataPath)
		}
		data, err := os.Open(dataPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open MetaImage data file: %w", err)
		}
		defer data.Close()
		payload = data
	}

	if hdr.compressed {
		zr, err := zlib.NewReader(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: compressed data: %v", ErrFormat, path, err)
		}
		defer zr.Close()
		payload = zr
	}

	geom := grid.Geometry{
		Size:      hdr.size,
		Spacing:   r3.Vec{X: hdr.spacing[0], Y: hdr.spacing[1], Z: hdr.spacing[2]},
		Origin:    r3.Vec{X: hdr.origin[0], Y: hdr.origin[1], Z: hdr.origin[2]},
		Direction: hdr.direction,
	}
	if err := geom.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}

	vol := models.NewVolume(geom)
	if _, err := io.ReadFull(payload, vol.Data); err != nil {
		return nil, fmt.Errorf("%w: %s: expected %d voxels: %v", ErrFormat, path, len(vol.Data), err)
	}
	return vol, nil
}

// parseMetaHeader reads "Key = Value" lines up to and including
// ElementDataFile, which always terminates a MetaImage header.
func parseMetaHeader(r *bufio.Reader) (metaHeader, error) {
	hdr := defaultMetaHeader()
	var seenDims, seenSize, seenType bool
	var matrix []float64

	for {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return hdr, fmt.Errorf("%w: header ended before ElementDataFile", ErrFormat)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return hdr, fmt.Errorf("%w: header line %q", ErrFormat, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "ObjectType":
			if value != "Image" {
				return hdr, fmt.Errorf("%w: ObjectType %q", ErrUnsupported, value)
			}
		case "NDims":
			n, err := strconv.Atoi(value)
			if err != nil || n < 2 || n > 3 {
				return hdr, fmt.Errorf("%w: NDims %q", ErrUnsupported, value)
			}
			hdr.nDims = n
			seenDims = true
		case "DimSize":
			ints, err := parseInts(value)
			if err != nil {
				return hdr, err
			}
			for i := 0; i < len(ints) && i < 3; i++ {
				hdr.size[i] = ints[i]
			}
			if _, err := grid.VoxelCount(hdr.size); err != nil {
				return hdr, fmt.Errorf("%w: DimSize %q: %v", ErrFormat, value, err)
			}
			seenSize = true
		case "ElementSpacing", "ElementSize":
			floats, err := parseFloats(value)
			if err != nil {
				return hdr, err
			}
			copy(hdr.spacing[:], floats)
		case "Offset", "Origin", "Position":
			floats, err := parseFloats(value)
			if err != nil {
				return hdr, err
			}
			copy(hdr.origin[:], floats)
		case "TransformMatrix", "Rotation", "Orientation":
			floats, err := parseFloats(value)
			if err != nil {
				return hdr, err
			}
			matrix = floats
		case "ElementType":
			if value != "MET_UCHAR" {
				return hdr, fmt.Errorf("%w: ElementType %q (only MET_UCHAR)", ErrUnsupported, value)
			}
			seenType = true
		case "CompressedData":
			hdr.compressed = parseBool(value)
		case "BinaryData":
			if !parseBool(value) {
				return hdr, fmt.Errorf("%w: ASCII MetaImage data", ErrUnsupported)
			}
		case "ElementDataFile":
			if value == "" {
				return hdr, fmt.Errorf("%w: empty ElementDataFile", ErrFormat)
			}
			hdr.dataFile = value
			if !seenDims || !seenSize || !seenType {
				return hdr, fmt.Errorf("%w: header needs NDims, DimSize and ElementType", ErrFormat)
			}
			if err := hdr.setDirection(matrix); err != nil {
				return hdr, err
			}
			return hdr, nil
		}
	}
}

// setDirection fills the direction from a TransformMatrix. The matrix lists
// the physical direction of each index axis in turn (the columns of the
// direction matrix), in NDims×NDims layout.
func (h *metaHeader) setDirection(matrix []float64) error {
	if matrix == nil {
		return nil
	}
	n := h.nDims
	if len(matrix) != n*n {
		return fmt.Errorf("%w: TransformMatrix has %d entries for NDims %d", ErrFormat, len(matrix), n)
	}
	h.direction = grid.IdentityDirection()
	for col := 0; col < n; col++ {
		for row := 0; row < n; row++ {
			h.direction[row][col] = matrix[col*n+row]
		}
	}
	return nil
}

// writeMetaImage encodes vol as .mha (inline) or .mhd plus a detached
// .raw/.zraw data file.
func writeMetaImage(path string, vol *models.Volume, opts WriteOptions) error {
	payload := vol.Data
	if opts.Compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(vol.Data); err != nil {
			return fmt.Errorf("failed to compress voxel data: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress voxel data: %w", err)
		}
		payload = buf.Bytes()
	}

	dataFile := metaLocal
	if extension(path) == ".mhd" {
		ext := ".raw"
		if opts.Compress {
			ext = ".zraw"
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		dataFile = base + ext
	}

	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "ObjectType = Image\n")
	fmt.Fprintf(&hdr, "NDims = 3\n")
	fmt.Fprintf(&hdr, "BinaryData = True\n")
	fmt.Fprintf(&hdr, "BinaryDataByteOrderMSB = False\n")
	if opts.Compress {
		fmt.Fprintf(&hdr, "CompressedData = True\n")
		fmt.Fprintf(&hdr, "CompressedDataSize = %d\n", len(payload))
	} else {
		fmt.Fprintf(&hdr, "CompressedData = False\n")
	}
	d := vol.Direction
	fmt.Fprintf(&hdr, "TransformMatrix = %s\n", formatFloats(
		d[0][0], d[1][0], d[2][0],
		d[0][1], d[1][1], d[2][1],
		d[0][2], d[1][2], d[2][2]))
	fmt.Fprintf(&hdr, "Offset = %s\n", formatFloats(vol.Origin.X, vol.Origin.Y, vol.Origin.Z))
	fmt.Fprintf(&hdr, "ElementSpacing = %s\n", formatFloats(vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z))
	fmt.Fprintf(&hdr, "DimSize = %d %d %d\n", vol.Size[0], vol.Size[1], vol.Size[2])
	fmt.Fprintf(&hdr, "ElementType = MET_UCHAR\n")
	fmt.Fprintf(&hdr, "ElementDataFile = %s\n", dataFile)

	if dataFile == metaLocal {
		hdr.Write(payload)
		if err := os.WriteFile(path, hdr.Bytes(), 0644); err != nil {
			return fmt.Errorf("failed to write MetaImage: %w", err)
		}
		return nil
	}

	dataPath := filepath.Join(filepath.Dir(path), dataFile)
	if err := os.WriteFile(dataPath, payload, 0644); err != nil {
		return fmt.Errorf("failed to write MetaImage data file: %w", err)
	}
	if err := os.WriteFile(path, hdr.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write MetaImage header: %w", err)
	}
	return nil
}

func parseInts(value string) ([]int, error) {
	fields := strings.Fields(value)
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: integer %q", ErrFormat, f)
		}
		out[i] = n
	}
	return out, nil
}

func parseFloats(value string) ([]float64, error) {
	fields := strings.Fields(value)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrFormat, f)
		}
		out[i] = v
	}
	return out, nil
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func formatFloats(values ...float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}
