package link

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"

	"hoverhold/internal/vehicle"
)

// CRTP ports and channels used by the station.
const (
	PortCommander = 3
	PortLog       = 5

	ChannelSetpoint  = 0
	ChannelTelemetry = 2
)

const (
	setpointLen  = 1 + 4 + 4 + 4 + 2
	telemetryLen = 1 + 1 + 3 + 2 + 4 + 3*2 + 3*4
)

// Header packs a CRTP port and channel into the first packet byte.
func Header(port, channel byte) byte {
	return (port&0x0F)<<4 | channel&0x03
}

// SplitHeader is the inverse of Header.
func SplitHeader(h byte) (port, channel byte) {
	return h >> 4, h & 0x03
}

// EncodeSetpoint builds a commander setpoint packet:
// header, roll f32, pitch f32, yaw rate f32, thrust u16, little-endian.
func EncodeSetpoint(f vehicle.Frame) []byte {
	b := make([]byte, setpointLen)
	b[0] = Header(PortCommander, ChannelSetpoint)
	binary.LittleEndian.PutUint32(b[1:], math.Float32bits(float32(f.Roll)))
	binary.LittleEndian.PutUint32(b[5:], math.Float32bits(float32(f.Pitch)))
	binary.LittleEndian.PutUint32(b[9:], math.Float32bits(float32(f.YawRate)))
	binary.LittleEndian.PutUint16(b[13:], uint16(clampU16(f.Thrust)))
	return b
}

// DecodeSetpoint parses a packet built by EncodeSetpoint.
func DecodeSetpoint(b []byte) (vehicle.Frame, error) {
	if len(b) < setpointLen {
		return vehicle.Frame{}, errors.Errorf("link: setpoint packet too short: %d", len(b))
	}
	if port, ch := SplitHeader(b[0]); port != PortCommander || ch != ChannelSetpoint {
		return vehicle.Frame{}, errors.Errorf("link: not a setpoint packet: port=%d channel=%d", port, ch)
	}
	return vehicle.Frame{
		Roll:    float64(math.Float32frombits(binary.LittleEndian.Uint32(b[1:]))),
		Pitch:   float64(math.Float32frombits(binary.LittleEndian.Uint32(b[5:]))),
		YawRate: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[9:]))),
		Thrust:  int(binary.LittleEndian.Uint16(b[13:])),
	}, nil
}

// EncodeTelemetry builds a log-block telemetry packet:
// header, block u8, timestamp u24 (ms), thrust u16, pressure f32,
// mag x/y/z i16, acc x/y/z f32.
func EncodeTelemetry(block byte, ts time.Duration, t vehicle.Telemetry) []byte {
	b := make([]byte, telemetryLen)
	b[0] = Header(PortLog, ChannelTelemetry)
	b[1] = block
	ms := uint32(ts.Milliseconds()) & 0xFFFFFF
	b[2] = byte(ms)
	b[3] = byte(ms >> 8)
	b[4] = byte(ms >> 16)
	binary.LittleEndian.PutUint16(b[5:], uint16(clampU16(t.Thrust)))
	binary.LittleEndian.PutUint32(b[7:], math.Float32bits(float32(t.Pressure)))
	binary.LittleEndian.PutUint16(b[11:], uint16(clampI16(t.MagX)))
	binary.LittleEndian.PutUint16(b[13:], uint16(clampI16(t.MagY)))
	binary.LittleEndian.PutUint16(b[15:], uint16(clampI16(t.MagZ)))
	binary.LittleEndian.PutUint32(b[17:], math.Float32bits(float32(t.AccX)))
	binary.LittleEndian.PutUint32(b[21:], math.Float32bits(float32(t.AccY)))
	binary.LittleEndian.PutUint32(b[25:], math.Float32bits(float32(t.AccZ)))
	return b
}

// DecodeTelemetry parses a telemetry packet. at is stamped on the result.
// Packets carrying a NaN or infinite float are rejected.
func DecodeTelemetry(b []byte, at time.Time) (vehicle.Telemetry, error) {
	if len(b) < telemetryLen {
		return vehicle.Telemetry{}, errors.Errorf("link: telemetry packet too short: %d", len(b))
	}
	if port, ch := SplitHeader(b[0]); port != PortLog || ch != ChannelTelemetry {
		return vehicle.Telemetry{}, errors.Errorf("link: not a telemetry packet: port=%d channel=%d", port, ch)
	}
	t := vehicle.Telemetry{
		At:       at,
		Thrust:   int(binary.LittleEndian.Uint16(b[5:])),
		Pressure: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[7:]))),
		MagX:     float64(int16(binary.LittleEndian.Uint16(b[11:]))),
		MagY:     float64(int16(binary.LittleEndian.Uint16(b[13:]))),
		MagZ:     float64(int16(binary.LittleEndian.Uint16(b[15:]))),
		AccX:     float64(math.Float32frombits(binary.LittleEndian.Uint32(b[17:]))),
		AccY:     float64(math.Float32frombits(binary.LittleEndian.Uint32(b[21:]))),
		AccZ:     float64(math.Float32frombits(binary.LittleEndian.Uint32(b[25:]))),
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"pressure", t.Pressure},
		{"acc_x", t.AccX},
		{"acc_y", t.AccY},
		{"acc_z", t.AccZ},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return vehicle.Telemetry{}, errors.Errorf("link: telemetry %s is not finite", f.name)
		}
	}
	return t, nil
}

func clampU16(v int) int {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return v
}

func clampI16(v float64) int16 {
	if v < math.MinInt16 {
		return math.MinInt16
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(math.Round(v))
}
