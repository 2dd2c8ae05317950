// Package bench provides telemetry from sensors wired to the ground station's
// own I2C bus: a BMP280 for pressure and an ICM-20948 for the magnetometer
// and accelerometer. It stands in for the radio link on a tethered rig.
package bench

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hoverhold/internal/i2c"
	"hoverhold/internal/sensors/bmp280"
	"hoverhold/internal/sensors/icm20948"
	"hoverhold/internal/vehicle"
)

type Config struct {
	I2CBus     int           `yaml:"i2c_bus"`
	IMUAddr    uint16        `yaml:"imu_addr"`
	BaroAddr   uint16        `yaml:"baro_addr"`
	IMUPeriod  time.Duration `yaml:"imu_period"`
	BaroPeriod time.Duration `yaml:"baro_period"`
}

func (c Config) withDefaults() Config {
	if c.I2CBus == 0 {
		c.I2CBus = 1
	}
	if c.IMUAddr == 0 {
		c.IMUAddr = icm20948.DefaultAddress()
	}
	if c.BaroAddr == 0 {
		c.BaroAddr = bmp280.DefaultAddress()
	}
	if c.IMUPeriod <= 0 {
		c.IMUPeriod = 20 * time.Millisecond
	}
	if c.BaroPeriod <= 0 {
		c.BaroPeriod = 50 * time.Millisecond
	}
	return c
}

type Barometer interface {
	Read() (bmp280.Reading, error)
}

type IMU interface {
	Read() (icm20948.Sample, error)
}

// Snapshot reports sensor health for the status API.
type Snapshot struct {
	BaroErr      string    `json:"baro_err,omitempty"`
	IMUErr       string    `json:"imu_err,omitempty"`
	BaroFailures int       `json:"baro_failures"`
	BaroAt       time.Time `json:"baro_at"`
	IMUAt        time.Time `json:"imu_at"`
}

const (
	reinitAfterFailures = 10
	reinitInterval      = 2 * time.Second
)

// Service polls both sensors and keeps the latest combined sample. It
// implements vehicle.TelemetrySource.
type Service struct {
	cfg Config
	clk clock.Clock
	log *zap.SugaredLogger

	baro       Barometer
	imu        IMU
	reopenBaro func() (Barometer, error)
	bus        *i2c.Bus

	failures   int
	lastReinit time.Time

	mu     sync.RWMutex
	latest vehicle.Telemetry
	snap   Snapshot
}

func New(cfg Config, baro Barometer, imu IMU, clk clock.Clock, log *zap.SugaredLogger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{cfg: cfg.withDefaults(), clk: clk, log: log, baro: baro, imu: imu}
}

// Open probes both sensors on /dev/i2c-N.
func Open(cfg Config, clk clock.Clock, log *zap.SugaredLogger) (*Service, error) {
	cfg = cfg.withDefaults()
	busPath := fmt.Sprintf("/dev/i2c-%d", cfg.I2CBus)
	bus, err := i2c.Open(busPath)
	if err != nil {
		return nil, errors.Wrap(err, "bench: open bus")
	}
	imu, err := icm20948.New(bus, cfg.IMUAddr)
	if err != nil {
		_ = bus.Close()
		return nil, errors.Wrap(err, "bench: imu init")
	}
	baro, err := bmp280.New(bus.Dev(cfg.BaroAddr))
	if err != nil {
		_ = bus.Close()
		return nil, errors.Wrap(err, "bench: baro init")
	}

	s := New(cfg, baro, imu, clk, log)
	s.bus = bus
	s.reopenBaro = func() (Barometer, error) { return bmp280.New(bus.Dev(cfg.BaroAddr)) }
	log.Infow("bench sensors ready", "bus", busPath, "imu_addr", fmt.Sprintf("0x%02X", cfg.IMUAddr), "baro_addr", fmt.Sprintf("0x%02X", cfg.BaroAddr))
	return s, nil
}

func (s *Service) Latest() vehicle.Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Run polls until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	imuTick := s.clk.Ticker(s.cfg.IMUPeriod)
	baroTick := s.clk.Ticker(s.cfg.BaroPeriod)
	defer imuTick.Stop()
	defer baroTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-imuTick.C:
			s.pollIMU()
		case <-baroTick.C:
			s.pollBaro()
		}
	}
}

func (s *Service) Close() error {
	if s.bus == nil {
		return nil
	}
	err := s.bus.Close()
	s.bus = nil
	return err
}

func (s *Service) pollIMU() {
	sample, err := s.imu.Read()
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.snap.IMUErr = err.Error()
		return
	}
	s.snap.IMUErr = ""
	s.snap.IMUAt = now
	s.latest.At = now
	s.latest.MagX, s.latest.MagY, s.latest.MagZ = sample.Mx, sample.My, sample.Mz
	s.latest.AccX, s.latest.AccY, s.latest.AccZ = sample.Ax, sample.Ay, sample.Az
}

func (s *Service) pollBaro() {
	r, err := s.baro.Read()
	if err == nil && r.Pressure <= 0 {
		err = errors.New("bench: baro pressure invalid")
	}
	now := s.clk.Now()
	if err != nil {
		s.failures++
		s.mu.Lock()
		s.snap.BaroErr = err.Error()
		s.snap.BaroFailures = s.failures
		s.mu.Unlock()
		s.maybeReinitBaro(now)
		return
	}
	s.failures = 0

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.BaroErr = ""
	s.snap.BaroFailures = 0
	s.snap.BaroAt = now
	s.latest.At = now
	s.latest.Pressure = r.Pressure
}

func (s *Service) maybeReinitBaro(now time.Time) {
	if s.reopenBaro == nil || s.failures < reinitAfterFailures || now.Sub(s.lastReinit) < reinitInterval {
		return
	}
	s.lastReinit = now
	b, err := s.reopenBaro()
	if err != nil {
		s.log.Warnw("baro reinit failed", "error", err)
		return
	}
	s.log.Infow("baro reinitialized", "failures", s.failures)
	s.baro = b
	s.failures = 0
}
