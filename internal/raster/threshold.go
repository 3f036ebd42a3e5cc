package raster

import (
	"image"
)

// DefaultAdaptiveWindow is the side of the square window used by
// AdaptiveThreshold when no window is given.
const DefaultAdaptiveWindow = 21

// Histogram builds a 256-bin luma histogram of img.
func Histogram(img *image.NRGBA) [256]int {
	var hist [256]int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[Luma(img, x, y)]++
		}
	}
	return hist
}

// Otsu returns the threshold t maximizing the between-class variance of the
// two classes luma < t and luma >= t. All 256 candidates are scanned and the
// first maximum wins. An image with a single luma value returns that value.
func Otsu(img *image.NRGBA) uint8 {
	return OtsuFromHistogram(Histogram(img))
}

// OtsuFromHistogram is Otsu on a precomputed histogram.
func OtsuFromHistogram(hist [256]int) uint8 {
	total := 0
	var sumAll float64
	for i, n := range hist {
		total += n
		sumAll += float64(i) * float64(n)
	}
	if total == 0 {
		return 128
	}

	var (
		wB      int
		sumB    float64
		best    = -1.0
		bestT   = -1
		lastLum = 0
	)
	for i, n := range hist {
		if n > 0 {
			lastLum = i
		}
	}

	for t := range 256 {
		// Background is [0, t): fold bin t-1 in before evaluating t.
		if t > 0 {
			wB += hist[t-1]
			sumB += float64(t-1) * float64(hist[t-1])
		}
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			bestT = t
		}
	}

	if bestT < 0 {
		return uint8(lastLum)
	}
	return uint8(bestT)
}

// Binarize maps luma < t to 0 and everything else to 255. Applying it twice
// with the same t yields the same raster as applying it once.
func Binarize(img image.Image, t uint8) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "binarize", Err: ErrNilImage}
	}
	luma, w, h := LumaBuffer(img)
	for i, v := range luma {
		if v < t {
			luma[i] = 0
		} else {
			luma[i] = 255
		}
	}
	return FromLuma(w, h, luma), nil
}

// AdaptiveThreshold compares every pixel to the mean of the square window
// centred on it (window pixels per side) minus c: below becomes 0, otherwise 255.
// Windows are clipped at the borders.
func AdaptiveThreshold(img image.Image, window int, c float64) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "adaptive", Err: ErrNilImage}
	}
	if window <= 1 {
		window = DefaultAdaptiveWindow
	}
	radius := window / 2

	luma, w, h := LumaBuffer(img)
	integral := make([]int64, (w+1)*(h+1))
	for y := range h {
		var row int64
		for x := range w {
			row += int64(luma[y*w+x])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + row
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		y0 := clampInt(y-radius, 0, h)
		y1 := clampInt(y+radius+1, 0, h)
		for x := range w {
			x0 := clampInt(x-radius, 0, w)
			x1 := clampInt(x+radius+1, 0, w)
			sum := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
			mean := float64(sum) / float64((x1-x0)*(y1-y0))
			if float64(luma[y*w+x]) < mean-c {
				setLuma(out, x, y, 0)
			} else {
				setLuma(out, x, y, 255)
			}
		}
	}
	return out, nil
}
