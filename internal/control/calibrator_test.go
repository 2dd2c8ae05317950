package control

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestCalibratorZeroBeforeSeedStaysUnseeded(t *testing.T) {
	var c Calibrator
	test.That(t, c.Seed(0), test.ShouldBeFalse)
	c.Observe(0)
	test.That(t, c.Seeded(), test.ShouldBeFalse)
	test.That(t, c.Normalize(123), test.ShouldEqual, 0.0)

	test.That(t, c.Seed(-40), test.ShouldBeTrue)
	lo, hi := c.Range()
	test.That(t, lo, test.ShouldEqual, -40.0)
	test.That(t, hi, test.ShouldEqual, -40.0)

	// Zero after seeding is an ordinary sample.
	c.Observe(0)
	_, hi = c.Range()
	test.That(t, hi, test.ShouldEqual, 0.0)
}

func TestCalibratorDegenerateRangeIsZero(t *testing.T) {
	var c Calibrator
	c.Seed(17)
	test.That(t, c.Normalize(17), test.ShouldEqual, 0.0)
	test.That(t, c.Normalize(900), test.ShouldEqual, 0.0)
}

func TestCalibratorWiden(t *testing.T) {
	c := Calibrator{Widen: 0.5}
	c.Seed(10)
	lo, hi := c.Range()
	test.That(t, lo, test.ShouldEqual, 9.5)
	test.That(t, hi, test.ShouldEqual, 10.5)
	test.That(t, c.Normalize(10), test.ShouldAlmostEqual, 0, 1e-12)
}

func TestCalibratorNormalizeBounds(t *testing.T) {
	var c Calibrator
	samples := []float64{-312, 45, 17, -500, 230, 229.5, -12, 601, 3}
	for _, r := range samples {
		c.Observe(r)
	}
	lo, hi := c.Range()
	test.That(t, lo, test.ShouldEqual, -500.0)
	test.That(t, hi, test.ShouldEqual, 601.0)

	test.That(t, c.Normalize(lo), test.ShouldEqual, -1.0)
	test.That(t, c.Normalize(hi), test.ShouldEqual, 1.0)
	for _, r := range samples {
		v := c.Normalize(r)
		test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, -1.0)
		test.That(t, v, test.ShouldBeLessThanOrEqualTo, 1.0)
	}
	// Out of range readings are clamped.
	test.That(t, c.Normalize(1e6), test.ShouldEqual, 1.0)
	test.That(t, c.Normalize(-1e6), test.ShouldEqual, -1.0)
}

func TestCalibratorRangeNeverShrinks(t *testing.T) {
	var c Calibrator
	c.Observe(5)
	c.Observe(-5)
	c.Observe(1)
	c.Observe(0)
	lo, hi := c.Range()
	test.That(t, lo, test.ShouldEqual, -5.0)
	test.That(t, hi, test.ShouldEqual, 5.0)
}

func TestCalibratorRoundTrip(t *testing.T) {
	var c Calibrator
	c.Observe(-231.25)
	c.Observe(418)
	lo, hi := c.Range()

	for i := 0; i <= 100; i++ {
		raw := lo + (hi-lo)*float64(i)/100
		back := c.Denormalize(c.Normalize(raw))
		test.That(t, math.Abs(back-raw), test.ShouldBeLessThan, 1e-9)
	}
}

func TestCalibratorReference(t *testing.T) {
	var c Calibrator
	_, ok := c.Reference()
	test.That(t, ok, test.ShouldBeFalse)

	c.Capture(88)
	ref, ok := c.Reference()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, ref, test.ShouldEqual, 88.0)
}
