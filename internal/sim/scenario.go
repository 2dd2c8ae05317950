package sim

import (
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ScenarioScript is a deterministic, script-driven disturbance timeline for
// the simulated vehicle.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 60s
//	keyframes:
//	  - t: 0s
//	    wind_x: 0.2       # m/s
//	    wind_y: 0
//	    yaw_drift: 3      # deg/s
//	    lift_bias: 0      # m/s of sink (+) or climb (-)
//	    target_x: 0       # m, ground target position
//	    target_y: 0
//
// Keyframes must use non-decreasing t values. Values are linearly
// interpolated between keyframes.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

// Keyframe is the disturbance state at time T.
type Keyframe struct {
	T        time.Duration `yaml:"t"`
	WindX    float64       `yaml:"wind_x"`
	WindY    float64       `yaml:"wind_y"`
	YawDrift float64       `yaml:"yaw_drift"`
	LiftBias float64       `yaml:"lift_bias"`
	TargetX  float64       `yaml:"target_x"`
	TargetY  float64       `yaml:"target_y"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, errors.Wrap(err, "sim: parse scenario")
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, errors.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, errors.New("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, errors.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, errors.Errorf("keyframes must be sorted by t (index %d)", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	return &Scenario{script: script, duration: dur}, nil
}

// Duration returns the effective scenario duration. A single keyframe at
// t=0 gives zero: the disturbance is constant.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// At computes the disturbance at elapsed. If loop is true, elapsed wraps
// around Duration(); otherwise the last keyframe holds.
func (s *Scenario) At(elapsed time.Duration, loop bool) Keyframe {
	if s == nil {
		return Keyframe{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if s.duration > 0 {
		if loop {
			elapsed %= s.duration
		} else if elapsed > s.duration {
			elapsed = s.duration
		}
	}

	k0, k1, a := selectSegment(s.script.Keyframes, elapsed)
	return Keyframe{
		T:        elapsed,
		WindX:    lerp(k0.WindX, k1.WindX, a),
		WindY:    lerp(k0.WindY, k1.WindY, a),
		YawDrift: lerp(k0.YawDrift, k1.YawDrift, a),
		LiftBias: lerp(k0.LiftBias, k1.LiftBias, a),
		TargetX:  lerp(k0.TargetX, k1.TargetX, a),
		TargetY:  lerp(k0.TargetY, k1.TargetY, a),
	}
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
