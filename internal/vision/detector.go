// Package vision finds the largest high-contrast region in a camera frame and
// reports the center of its bounding box.
package vision

import (
	"image"

	"github.com/disintegration/imaging"

	"hoverhold/internal/vehicle"
)

// DetectorConfig tunes the edge detector.
type DetectorConfig struct {
	// Threshold is the minimum gradient magnitude, in 8-bit gray levels per
	// pixel, for a pixel to count as an edge.
	Threshold float64 `yaml:"threshold"`
	// BlurSigma smooths the frame before differentiation. Zero disables it.
	BlurSigma float64 `yaml:"blur_sigma"`
	// DilateRadius joins nearby edges into regions.
	DilateRadius int `yaml:"dilate_radius"`
	// MinArea drops regions with fewer pixels.
	MinArea int `yaml:"min_area"`
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{Threshold: 15, BlurSigma: 1.5, DilateRadius: 7, MinArea: 1}
}

// Region is one connected group of edge pixels.
type Region struct {
	Bounds image.Rectangle `json:"bounds"`
	Area   int             `json:"area"`
}

// Center is the bounding-box center in pixel coordinates.
func (r Region) Center() (x, y float64) {
	return float64(r.Bounds.Min.X) + float64(r.Bounds.Dx())/2,
		float64(r.Bounds.Min.Y) + float64(r.Bounds.Dy())/2
}

type Detector struct {
	cfg  DetectorConfig
	disk []image.Point
}

func NewDetector(cfg DetectorConfig) *Detector {
	d := &Detector{cfg: cfg}
	r := cfg.DilateRadius
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				d.disk = append(d.disk, image.Point{dx, dy})
			}
		}
	}
	return d
}

// Detect returns the observation for img and the region it came from.
func (d *Detector) Detect(img image.Image) (vehicle.Observation, Region) {
	regions := d.Regions(img)
	var best Region
	for _, r := range regions {
		if r.Area > best.Area {
			best = r
		}
	}
	if best.Area == 0 {
		return vehicle.Observation{}, Region{}
	}
	x, y := best.Center()
	return vehicle.Observation{X: x, Y: y, Found: true}, best
}

// Regions returns every region of at least MinArea pixels, with bounds
// relative to the image origin.
func (d *Detector) Regions(img image.Image) []Region {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return nil
	}

	gray := imaging.Grayscale(img)
	if d.cfg.BlurSigma > 0 {
		gray = imaging.Blur(gray, d.cfg.BlurSigma)
	}
	mask := d.dilate(edges(gray, d.cfg.Threshold), w, h)
	return components(mask, w, h, d.cfg.MinArea)
}

// edges marks pixels whose central-difference gradient magnitude reaches
// threshold. The border row and column are never edges.
func edges(g *image.NRGBA, threshold float64) []bool {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	at := func(x, y int) float64 { return float64(g.Pix[y*g.Stride+x*4]) }
	out := make([]bool, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := (at(x+1, y) - at(x-1, y)) / 2
			gy := (at(x, y+1) - at(x, y-1)) / 2
			if gx < 0 {
				gx = -gx
			}
			if gy < 0 {
				gy = -gy
			}
			if gx+gy >= threshold {
				out[y*w+x] = true
			}
		}
	}
	return out
}

func (d *Detector) dilate(in []bool, w, h int) []bool {
	if len(d.disk) <= 1 {
		return in
	}
	out := make([]bool, len(in))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !in[y*w+x] {
				continue
			}
			for _, o := range d.disk {
				nx, ny := x+o.X, y+o.Y
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				out[ny*w+nx] = true
			}
		}
	}
	return out
}

// components labels 4-connected regions of mask with a breadth-first fill.
func components(mask []bool, w, h, minArea int) []Region {
	seen := make([]bool, len(mask))
	var out []Region
	queue := make([]image.Point, 0, 64)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if seen[i] || !mask[i] {
				continue
			}
			seen[i] = true
			queue = append(queue[:0], image.Point{x, y})
			x0, y0, x1, y1 := x, y, x, y
			area := 0
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				area++
				if p.X < x0 {
					x0 = p.X
				}
				if p.X > x1 {
					x1 = p.X
				}
				if p.Y < y0 {
					y0 = p.Y
				}
				if p.Y > y1 {
					y1 = p.Y
				}
				for _, n := range [4]image.Point{{p.X, p.Y - 1}, {p.X, p.Y + 1}, {p.X - 1, p.Y}, {p.X + 1, p.Y}} {
					if n.X < 0 || n.Y < 0 || n.X >= w || n.Y >= h {
						continue
					}
					j := n.Y*w + n.X
					if seen[j] || !mask[j] {
						continue
					}
					seen[j] = true
					queue = append(queue, n)
				}
			}
			if area >= minArea {
				out = append(out, Region{Bounds: image.Rect(x0, y0, x1+1, y1+1), Area: area})
			}
		}
	}
	return out
}
