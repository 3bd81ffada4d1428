package imaging

import "sort"

// Point is a polygon vertex in pixel coordinates.
type Point struct {
	X int
	Y int
}

// Rect is a rectangular mask region. Max coordinates are exclusive.
type Rect struct {
	MinX int
	MinY int
	MaxX int
	MaxY int
}

// MaskArea describes regions burned into the pixel data before a frame
// leaves the gateway, typically to blank identifying screen annotations.
type MaskArea struct {
	Fill     uint16
	Rects    []Rect
	Polygons [][]Point
}

// Empty reports whether the mask has no regions.
func (m *MaskArea) Empty() bool {
	return m == nil || (len(m.Rects) == 0 && len(m.Polygons) == 0)
}

// Apply overwrites every sample inside the mask regions with the fill value.
func (m *MaskArea) Apply(img *Image) {
	if m.Empty() {
		return
	}
	for _, r := range m.Rects {
		m.fillRect(img, r)
	}
	for _, poly := range m.Polygons {
		m.fillPolygon(img, poly)
	}
}

func (m *MaskArea) fillRect(img *Image, r Rect) {
	minX, minY := clamp(r.MinX, 0, img.Columns), clamp(r.MinY, 0, img.Rows)
	maxX, maxY := clamp(r.MaxX, 0, img.Columns), clamp(r.MaxY, 0, img.Rows)
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			samples := img.At(x, y)
			for s := range samples {
				samples[s] = m.Fill
			}
		}
	}
}

// fillPolygon rasterises with an even-odd scanline rule.
func (m *MaskArea) fillPolygon(img *Image, poly []Point) {
	if len(poly) < 3 {
		return
	}
	minY, maxY := poly[0].Y, poly[0].Y
	for _, p := range poly[1:] {
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	minY, maxY = clamp(minY, 0, img.Rows-1), clamp(maxY, 0, img.Rows-1)

	for y := minY; y <= maxY; y++ {
		var xs []int
		j := len(poly) - 1
		for i := 0; i < len(poly); i++ {
			a, b := poly[i], poly[j]
			if (a.Y <= y && b.Y > y) || (b.Y <= y && a.Y > y) {
				x := a.X + (y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
				xs = append(xs, x)
			}
			j = i
		}
		sort.Ints(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			lo, hi := clamp(xs[i], 0, img.Columns), clamp(xs[i+1], 0, img.Columns)
			for x := lo; x < hi; x++ {
				samples := img.At(x, y)
				for s := range samples {
					samples[s] = m.Fill
				}
			}
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
