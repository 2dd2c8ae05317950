package bench

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"hoverhold/internal/sensors/bmp280"
	"hoverhold/internal/sensors/icm20948"
)

type fakeBaro struct {
	r   bmp280.Reading
	err error
}

func (f *fakeBaro) Read() (bmp280.Reading, error) { return f.r, f.err }

type fakeIMU struct {
	s   icm20948.Sample
	err error
}

func (f *fakeIMU) Read() (icm20948.Sample, error) { return f.s, f.err }

func TestLatestStartsZero(t *testing.T) {
	s := New(Config{}, &fakeBaro{}, &fakeIMU{}, clock.NewMock(), nil)
	tel := s.Latest()
	test.That(t, tel.Pressure, test.ShouldEqual, 0.0)
	test.That(t, tel.MagX, test.ShouldEqual, 0.0)
}

func TestPollCombinesSensors(t *testing.T) {
	clk := clock.NewMock()
	baro := &fakeBaro{r: bmp280.Reading{Pressure: 1008.5}}
	imu := &fakeIMU{s: icm20948.Sample{Mx: 300, My: -40, Mz: 12, Az: 1}}
	s := New(Config{}, baro, imu, clk, nil)

	s.pollIMU()
	clk.Add(time.Second)
	s.pollBaro()

	tel := s.Latest()
	test.That(t, tel.Pressure, test.ShouldEqual, 1008.5)
	test.That(t, tel.MagX, test.ShouldEqual, 300.0)
	test.That(t, tel.MagY, test.ShouldEqual, -40.0)
	test.That(t, tel.AccZ, test.ShouldEqual, 1.0)
	test.That(t, tel.At.Equal(clk.Now()), test.ShouldBeTrue)
	test.That(t, tel.Thrust, test.ShouldEqual, 0)
}

func TestFailedReadKeepsLastSample(t *testing.T) {
	baro := &fakeBaro{r: bmp280.Reading{Pressure: 1000}}
	imu := &fakeIMU{s: icm20948.Sample{Mx: 5}}
	s := New(Config{}, baro, imu, clock.NewMock(), nil)
	s.pollBaro()
	s.pollIMU()

	baro.err = errors.New("nack")
	imu.err = errors.New("nack")
	s.pollBaro()
	s.pollIMU()

	test.That(t, s.Latest().Pressure, test.ShouldEqual, 1000.0)
	test.That(t, s.Latest().MagX, test.ShouldEqual, 5.0)
	snap := s.Snapshot()
	test.That(t, snap.BaroErr, test.ShouldEqual, "nack")
	test.That(t, snap.IMUErr, test.ShouldEqual, "nack")
	test.That(t, snap.BaroFailures, test.ShouldEqual, 1)
}

func TestBaroReinitAfterRepeatedFailures(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(time.Hour)
	s := New(Config{}, &fakeBaro{r: bmp280.Reading{Pressure: 0}}, &fakeIMU{}, clk, nil)
	reopened := 0
	s.reopenBaro = func() (Barometer, error) {
		reopened++
		return &fakeBaro{r: bmp280.Reading{Pressure: 990}}, nil
	}

	for i := 0; i < reinitAfterFailures-1; i++ {
		s.pollBaro()
	}
	test.That(t, reopened, test.ShouldEqual, 0)
	test.That(t, s.Snapshot().BaroErr, test.ShouldContainSubstring, "invalid")

	s.pollBaro()
	test.That(t, reopened, test.ShouldEqual, 1)

	s.pollBaro()
	test.That(t, s.Latest().Pressure, test.ShouldEqual, 990.0)
	test.That(t, s.Snapshot().BaroFailures, test.ShouldEqual, 0)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Config{}, &fakeBaro{}, &fakeIMU{}, clock.NewMock(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, s.Run(ctx), test.ShouldBeNil)
	test.That(t, s.Close(), test.ShouldBeNil)
}
