package hal

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blockcar/vehicled/internal/log"
)

const (
	servoCount   = 6
	servoCentre  = 90
	gimbalMin    = 0
	gimbalMax    = 180
	gimbalCentre = 90
	xyLimit      = 100
)

// colourNames maps accepted colour spellings onto the block editor's pinyin names.
var colourNames = map[string]string{
	"hong": "hong", "red": "hong", "红色": "hong",
	"lv": "lv", "green": "lv", "绿色": "lv",
	"lan": "lan", "blue": "lan", "蓝色": "lan",
	"huang": "huang", "yellow": "huang", "黄色": "huang",
	"cheng": "cheng", "orange": "cheng", "橙色": "cheng",
}

// SimulatorConfig bounds the simulated vehicle.
type SimulatorConfig struct {
	MaxSpeed      int
	ServoMaxAngle int
	GimbalStep    int
	Battery       float64
	LowBattery    float64
	DistanceMM    int
}

// DefaultSimulatorConfig mirrors the stock chassis limits.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		MaxSpeed:      80,
		ServoMaxAngle: 180,
		GimbalStep:    10,
		Battery:       7.4,
		LowBattery:    6.8,
		DistanceMM:    1000,
	}
}

// Simulator is an in-memory Provider. All methods are safe for concurrent use.
type Simulator struct {
	cfg    SimulatorConfig
	logger *slog.Logger
	caps   map[string]Capability

	mu       sync.Mutex
	motors   [4]int
	servos   [servoCount]int
	pan      int
	tilt     int
	distance int
	lines    [4]bool
	battery  float64
	colours  map[string]bool
	stops    int
	journal  []string
}

// NewSimulator creates a simulator with every catalog capability bound.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	def := DefaultSimulatorConfig()
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = def.MaxSpeed
	}
	if cfg.ServoMaxAngle <= 0 {
		cfg.ServoMaxAngle = def.ServoMaxAngle
	}
	if cfg.GimbalStep <= 0 {
		cfg.GimbalStep = def.GimbalStep
	}
	if cfg.LowBattery <= 0 {
		cfg.LowBattery = def.LowBattery
	}

	s := &Simulator{
		cfg:      cfg,
		logger:   log.WithComponent("simulator"),
		pan:      gimbalCentre,
		tilt:     gimbalCentre,
		distance: cfg.DistanceMM,
		battery:  cfg.Battery,
		colours:  make(map[string]bool),
	}
	for i := range s.servos {
		s.servos[i] = servoCentre
	}

	impl := s.table()
	s.caps = make(map[string]Capability, len(impl))
	for _, spec := range catalog {
		fn, ok := impl[spec.Name]
		if !ok {
			continue
		}
		s.caps[spec.Name] = Capability{Spec: spec, Call: s.guard(spec.Name, fn)}
	}
	return s
}

// Lookup implements Provider.
func (s *Simulator) Lookup(name string) (Capability, bool) {
	c, ok := s.caps[name]
	return c, ok
}

// Stop implements Provider. It never fails.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	s.motors = [4]int{}
	s.stops++
	s.journal = append(s.journal, "stop()")
	s.mu.Unlock()
	s.logger.Info("motors stopped")
	return nil
}

// Snapshot implements SensorReader.
func (s *Simulator) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	colours := make([]string, 0, len(s.colours))
	for c, visible := range s.colours {
		if visible {
			colours = append(colours, c)
		}
	}
	sort.Strings(colours)

	return Snapshot{
		DistanceMM:  s.distance,
		LineSensors: s.lines,
		Battery:     s.battery,
		BatteryLow:  s.battery < s.cfg.LowBattery,
		Motors:      s.motors,
		Servos:      s.servos,
		GimbalPan:   s.pan,
		GimbalTilt:  s.tilt,
		Stops:       s.stops,
		Colors:      colours,
	}
}

// Journal returns every capability call and stop, oldest first.
func (s *Simulator) Journal() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.journal))
	copy(out, s.journal)
	return out
}

// SetDistance sets the ultrasonic reading in millimetres.
func (s *Simulator) SetDistance(mm int) {
	s.mu.Lock()
	s.distance = mm
	s.mu.Unlock()
}

// SetLineSensors sets the four line sensors, left to right.
func (s *Simulator) SetLineSensors(states [4]bool) {
	s.mu.Lock()
	s.lines = states
	s.mu.Unlock()
}

// SetBattery sets the battery voltage.
func (s *Simulator) SetBattery(volts float64) {
	s.mu.Lock()
	s.battery = volts
	s.mu.Unlock()
}

// SetVisibleColors replaces the set of colours the camera reports.
func (s *Simulator) SetVisibleColors(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colours = make(map[string]bool, len(names))
	for _, n := range names {
		if c, ok := colourNames[strings.ToLower(n)]; ok {
			s.colours[c] = true
		}
	}
}

// guard rejects calls on a cancelled context and journals the rest.
func (s *Simulator) guard(name string, fn Func) Func {
	return func(ctx context.Context, args []any) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.journal = append(s.journal, formatCall(name, args))
		s.mu.Unlock()
		return fn(ctx, args)
	}
}

func formatCall(name string, args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

func (s *Simulator) table() map[string]Func {
	return map[string]Func{
		"qianjin":      s.drive(func(v int) [4]int { return [4]int{v, v, v, v} }),
		"houtui":       s.drive(func(v int) [4]int { return [4]int{-v, -v, -v, -v} }),
		"zuopingyi":    s.drive(func(v int) [4]int { return [4]int{-v, v, v, -v} }),
		"youpingyi":    s.drive(func(v int) [4]int { return [4]int{v, -v, -v, v} }),
		"xuanzhuan":    s.drive(func(v int) [4]int { return [4]int{v, -v, v, -v} }),
		"fxuanzhuan":   s.drive(func(v int) [4]int { return [4]int{-v, v, -v, v} }),
		"xiaozuozhuan": s.drive(func(v int) [4]int { return [4]int{v / 2, v, v / 2, v} }),
		"xiaoyouzhuan": s.drive(func(v int) [4]int { return [4]int{v, v / 2, v, v / 2} }),
		"tingzhi": func(context.Context, []any) (any, error) {
			s.setMotors([4]int{})
			return nil, nil
		},
		"yidong_angle": s.moveAngle,
		"yidong_xy":    s.moveXY,
		"set_servo":    s.setServo,
		"reset_servos": func(context.Context, []any) (any, error) {
			s.mu.Lock()
			for i := range s.servos {
				s.servos[i] = servoCentre
			}
			s.mu.Unlock()
			return nil, nil
		},

		"heshengbo": func(context.Context, []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.distance, nil
		},
		"heshengbo_juli": func(context.Context, []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return float64(s.distance) / 10.0, nil
		},
		"heshengbo_fuzhi": func(_ context.Context, args []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.distance < args[0].(int), nil
		},
		"xunxian": func(context.Context, []any) (any, error) {
			s.mu.Lock()
			lines := s.lines
			s.mu.Unlock()
			return lines[:], nil
		},
		"xunxian_zhong":    s.lineCheck(func(l [4]bool) bool { return l[1] && l[2] }),
		"xunxian_zuo":      s.lineCheck(func(l [4]bool) bool { return l[0] }),
		"xunxian_you":      s.lineCheck(func(l [4]bool) bool { return l[3] }),
		"xunxian_kuaixian": s.lineCheck(func(l [4]bool) bool { return l[0] && l[1] && l[2] && l[3] }),
		"xunxian_duqu":     s.lineCheck(func(l [4]bool) bool { return !(l[0] || l[1] || l[2] || l[3]) }),
		"dianchi": func(context.Context, []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.battery, nil
		},
		"dianchi_dian": func(context.Context, []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.battery < s.cfg.LowBattery, nil
		},

		"shang":        s.stepGimbal(0, 1),
		"xia":          s.stepGimbal(0, -1),
		"zuo":          s.stepGimbal(-1, 0),
		"you":          s.stepGimbal(1, 0),
		"fuwei":        s.centreGimbal,
		"yuntai_fuwei": s.centreGimbal,
		"yuntai_shang": s.offsetGimbal(0, 1),
		"yuntai_xia":   s.offsetGimbal(0, -1),
		"yuntai_zuo":   s.offsetGimbal(-1, 0),
		"yuntai_you":   s.offsetGimbal(1, 0),

		"shibieyanse": func(_ context.Context, args []any) (any, error) {
			name := args[0].(string)
			c, ok := colourNames[strings.ToLower(name)]
			if !ok {
				return nil, fmt.Errorf("%w: unknown colour %q (use hong, lv, lan, huang or cheng)", ErrInvalidArgument, name)
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.colours[c], nil
		},
	}
}

func (s *Simulator) clampSpeed(v int) int {
	return clamp(v, -s.cfg.MaxSpeed, s.cfg.MaxSpeed)
}

func (s *Simulator) drive(pattern func(int) [4]int) Func {
	return func(_ context.Context, args []any) (any, error) {
		s.setMotors(pattern(s.clampSpeed(args[0].(int))))
		return nil, nil
	}
}

func (s *Simulator) setMotors(m [4]int) {
	for i := range m {
		m[i] = s.clampSpeed(m[i])
	}
	s.mu.Lock()
	s.motors = m
	s.mu.Unlock()
	s.logger.Debug("motor speeds set", "motors", m)
}

// moveAngle drives along a heading: 0 is forward, 90 is right.
func (s *Simulator) moveAngle(_ context.Context, args []any) (any, error) {
	angle := args[0].(float64)
	v := float64(s.clampSpeed(args[1].(int)))
	rad := angle * math.Pi / 180
	vx := v * math.Sin(rad)
	vy := v * math.Cos(rad)
	s.setMotors(mecanum(vx, vy))
	return nil, nil
}

func (s *Simulator) moveXY(_ context.Context, args []any) (any, error) {
	vx := clampFloat(args[0].(float64), -xyLimit, xyLimit)
	vy := clampFloat(args[1].(float64), -xyLimit, xyLimit)
	s.setMotors(mecanum(vx, vy))
	return nil, nil
}

func mecanum(vx, vy float64) [4]int {
	a := int(math.Round(vy + vx))
	b := int(math.Round(vy - vx))
	return [4]int{a, b, b, a}
}

func (s *Simulator) setServo(_ context.Context, args []any) (any, error) {
	id := args[0].(int)
	if id < 1 || id > servoCount {
		return nil, fmt.Errorf("%w: servo id %d out of range 1..%d", ErrInvalidArgument, id, servoCount)
	}
	angle := clamp(args[1].(int), 0, s.cfg.ServoMaxAngle)
	s.mu.Lock()
	s.servos[id-1] = angle
	s.mu.Unlock()
	return nil, nil
}

func (s *Simulator) lineCheck(pred func([4]bool) bool) Func {
	return func(context.Context, []any) (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return pred(s.lines), nil
	}
}

func (s *Simulator) stepGimbal(dPan, dTilt int) Func {
	return func(context.Context, []any) (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pan = clamp(s.pan+dPan*s.cfg.GimbalStep, gimbalMin, gimbalMax)
		s.tilt = clamp(s.tilt+dTilt*s.cfg.GimbalStep, gimbalMin, gimbalMax)
		return nil, nil
	}
}

func (s *Simulator) offsetGimbal(dPan, dTilt int) Func {
	return func(_ context.Context, args []any) (any, error) {
		angle := clamp(args[0].(int), 0, 90)
		s.mu.Lock()
		defer s.mu.Unlock()
		if dPan != 0 {
			s.pan = gimbalCentre + dPan*angle
		}
		if dTilt != 0 {
			s.tilt = gimbalCentre + dTilt*angle
		}
		return nil, nil
	}
}

func (s *Simulator) centreGimbal(context.Context, []any) (any, error) {
	s.mu.Lock()
	s.pan, s.tilt = gimbalCentre, gimbalCentre
	s.mu.Unlock()
	return nil, nil
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

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
