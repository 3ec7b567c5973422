package volume

// otsuBins is the histogram resolution for the automatic iso estimate.
const otsuBins = 512

// autoIso picks the threshold maximizing Otsu's between-class variance over a
// 512-bin histogram of the field. Ties resolve to the lowest bin, so the
// result is bit-for-bit reproducible for identical input. Degenerate ranges
// collapse to the midpoint.
func autoIso(field []float32, min, max float32) float32 {
	if len(field) == 0 || min >= max {
		return (min + max) / 2
	}

	lo := float64(min)
	width := (float64(max) - lo) / otsuBins

	var hist [otsuBins]int64
	for _, f := range field {
		bin := int((float64(f) - lo) / width)
		if bin < 0 {
			bin = 0
		} else if bin >= otsuBins {
			bin = otsuBins - 1
		}
		hist[bin]++
	}

	n := float64(len(field))

	// Total first moment over bin indices.
	totalMean := 0.0
	for b, c := range hist {
		totalMean += float64(b) * float64(c)
	}
	totalMean /= n

	bestBin := 0
	bestVar := -1.0
	wB := 0.0 // background zeroth moment
	sB := 0.0 // background first moment

	for b := 0; b < otsuBins; b++ {
		wB += float64(hist[b])
		if wB == 0 {
			continue
		}
		wF := n - wB
		if wF == 0 {
			break
		}
		sB += float64(b) * float64(hist[b])

		muB := sB / wB
		muF := (totalMean*n - sB) / wF
		between := wB * wF * (muB - muF) * (muB - muF)

		if between > bestVar {
			bestVar = between
			bestBin = b
		}
	}

	return float32(lo + (float64(bestBin)+0.5)*width)
}
