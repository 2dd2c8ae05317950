package control

// Calibrator tracks the running min/max of one unscaled sensor axis and maps
// raw readings into [-1, 1]. The range only ever widens.
//
// A raw value of exactly zero before seeding means the sensor has not reported
// yet; Seed refuses it and the calibrator stays unseeded.
type Calibrator struct {
	// Widen is subtracted from min and added to max at seeding time so the
	// range is not degenerate from the first sample. Zero keeps min == max.
	Widen float64

	seeded bool
	min    float64
	max    float64

	haveRef bool
	ref     float64
}

// Seed initializes the range from the first nonzero sample. It returns
// whether the calibrator is seeded after the call.
func (c *Calibrator) Seed(raw float64) bool {
	if c.seeded {
		return true
	}
	if raw == 0 {
		return false
	}
	c.seeded = true
	c.min = raw - c.Widen
	c.max = raw + c.Widen
	return true
}

// Observe widens the range to include raw. Unseeded calibrators seed instead.
func (c *Calibrator) Observe(raw float64) {
	if !c.seeded {
		c.Seed(raw)
		return
	}
	if raw < c.min {
		c.min = raw
	}
	if raw > c.max {
		c.max = raw
	}
}

// Normalize maps raw into [-1, 1] using the current range. A degenerate range
// yields exactly 0. Values outside the range are clamped.
func (c *Calibrator) Normalize(raw float64) float64 {
	if !c.seeded || c.max == c.min {
		return 0
	}
	v := 2*(raw-c.min)/(c.max-c.min) - 1
	return clamp(v, -1, 1)
}

// Denormalize is the inverse of Normalize over the current range.
func (c *Calibrator) Denormalize(v float64) float64 {
	if !c.seeded {
		return 0
	}
	return c.min + (v+1)*(c.max-c.min)/2
}

func (c *Calibrator) Seeded() bool { return c.seeded }

func (c *Calibrator) Range() (min, max float64) { return c.min, c.max }

// Capture stores raw as the reference (target) value in raw units.
func (c *Calibrator) Capture(raw float64) {
	c.ref = raw
	c.haveRef = true
}

func (c *Calibrator) Reference() (float64, bool) { return c.ref, c.haveRef }
