package hydro

import (
	"math"

	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// Slope returns the terrain slope in degrees from central differences on the
// unconditioned DEM. Edges and nodata neighbours fall back to one-sided
// differences; nodata cells get NaN.
func Slope(dem *raster.Grid) []float64 {
	w, h := dem.Width, dem.Height
	cs := dem.Transform.CellSize
	out := make([]float64, w*h)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			i := r*w + c
			z := dem.Data[i]
			if math.IsNaN(z) {
				out[i] = math.NaN()
				continue
			}
			dzdx := diff(dem.At(r, c-1), z, dem.At(r, c+1), cs)
			dzdy := diff(dem.At(r-1, c), z, dem.At(r+1, c), cs)
			out[i] = math.Atan(math.Hypot(dzdx, dzdy)) * 180 / math.Pi
		}
	}
	return out
}

func diff(prev, z, next, cs float64) float64 {
	switch {
	case !math.IsNaN(prev) && !math.IsNaN(next):
		return (next - prev) / (2 * cs)
	case !math.IsNaN(next):
		return (next - z) / cs
	case !math.IsNaN(prev):
		return (z - prev) / cs
	}
	return 0
}
