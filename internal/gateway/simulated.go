package gateway

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// SimProfile shapes one reservoir's synthetic daily level curve.
type SimProfile struct {
	Base      float64
	Amplitude float64
	Phase     float64
	Noise     float64
}

const (
	simMinLevel     = 0.0
	simMaxLevel     = 120.0
	simDrainPerPump = 5.0
)

// defaultProfiles staggers reservoirs so their daily peaks do not coincide.
var defaultProfiles = []SimProfile{
	{Base: 70, Amplitude: 15, Phase: 0, Noise: 2},
	{Base: 70, Amplitude: 20, Phase: math.Pi / 3, Noise: 1.5},
	{Base: 70, Amplitude: 25, Phase: 2 * math.Pi / 3, Noise: 3},
}

// simulator synthesises levels as base + amplitude*sin(day phase) + gaussian noise,
// lowered by each running pump and clamped to the sensor range.
type simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	profiles map[string]SimProfile
}

func newSimulator(seed uint64, profiles map[string]SimProfile) *simulator {
	return &simulator{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		profiles: profiles,
	}
}

func (s *simulator) profile(reservoirID string, index int) SimProfile {
	if p, ok := s.profiles[reservoirID]; ok && (p.Base != 0 || p.Amplitude != 0) {
		return p
	}
	return defaultProfiles[index%len(defaultProfiles)]
}

func (s *simulator) level(reservoirID string, index int, at time.Time, activePumps int) float64 {
	p := s.profile(reservoirID, index)

	midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	dayFraction := at.Sub(midnight).Seconds() / (24 * time.Hour).Seconds()

	s.mu.Lock()
	noise := s.rng.NormFloat64() * p.Noise
	s.mu.Unlock()

	v := p.Base + p.Amplitude*math.Sin(2*math.Pi*dayFraction+p.Phase) + noise
	v -= float64(activePumps) * simDrainPerPump
	return math.Round(clamp(v, simMinLevel, simMaxLevel)*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
