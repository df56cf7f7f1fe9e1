package pipeline

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
)

// Metrics compares a resampled volume with its input. The comparison is
// voxel-by-voxel on the shared index grid, so it describes how much the
// operation changed the image rather than how accurate it was.
type Metrics struct {
	// RMSE is the root mean square intensity difference
	RMSE float64

	// Correlation is the Pearson correlation of intensities; NaN when either
	// volume is uniform, zero for single-voxel volumes
	Correlation float64

	// SSIM is the global structural similarity index over the whole volume
	SSIM float64

	// EntropyDiff is the absolute difference of the histogram entropies in bits
	EntropyDiff float64

	// DefaultFraction is the share of output voxels equal to the default value
	DefaultFraction float64
}

// ComputeMetrics compares input and output. Voxelwise measures need the
// same voxel count and are left at zero otherwise.
func ComputeMetrics(input, output *models.Volume, defaultValue uint8) Metrics {
	var m Metrics

	if n := len(output.Data); n > 0 {
		count := 0
		for _, v := range output.Data {
			if v == defaultValue {
				count++
			}
		}
		m.DefaultFraction = float64(count) / float64(n)
	}

	m.EntropyDiff = math.Abs(calculateEntropy(input.Data) - calculateEntropy(output.Data))

	if len(input.Data) != len(output.Data) || len(input.Data) == 0 {
		return m
	}

	original := toFloat(input.Data)
	resampled := toFloat(output.Data)

	m.RMSE = calculateRMSE(original, resampled)
	m.SSIM = calculateSSIM(original, resampled)
	if len(original) > 1 {
		m.Correlation = stat.Correlation(original, resampled, nil)
	}
	return m
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, resampled []float64) float64 {
	return floats.Distance(original, resampled, 2) / math.Sqrt(float64(len(original)))
}

// calculateSSIM computes the Structural Similarity Index over the full
// 8-bit dynamic range
func calculateSSIM(original, resampled []float64) float64 {
	const L = 255.0
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(resampled, nil)

	// a single sample has no spread and leaves only the luminance term
	var sigmaX, sigmaY, sigmaXY float64
	if len(original) > 1 {
		sigmaX = stat.Variance(original, nil)
		sigmaY = stat.Variance(resampled, nil)
		sigmaXY = stat.Covariance(original, resampled, nil)
	}

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	return num / den
}

// calculateEntropy computes the Shannon entropy in bits of the 256-bin
// intensity histogram
func calculateEntropy(data []uint8) float64 {
	if len(data) == 0 {
		return 0
	}

	hist := make([]float64, 256)
	for _, v := range data {
		hist[v]++
	}
	floats.Scale(1/float64(len(data)), hist)

	// stat.Entropy is in nats
	return stat.Entropy(hist) / math.Ln2
}

func toFloat(data []uint8) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}
