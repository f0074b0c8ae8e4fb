// Package guardrail implements the adaptive statistical guardrail: a
// rolling calibration window plus an e-process sequential test that
// gates automatic deletion when observed outcomes drift from predicted
// ones. Ported from the original monitor's AdaptiveGuard. The state
// machine mirrors the teacher's WatchdogTrigger (engine/watchdog.go)
// style of "observe a stream of signals, flip a latched state" used for
// domain-probe auto-triggering.
package guardrail

import (
	"math"

	"sbh/internal/sbhconfig"
)

type Status int

const (
	Unknown Status = iota
	Pass
	Fail
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Observation is one calibration sample: a predicted vs. actual outcome
// for a decision the guard is meant to validate after the fact.
type Observation struct {
	PredictedRate float64
	ActualRate    float64
	Conservative  bool // true if the prediction erred on the side of caution
}

// RateErrorRatio is |predicted-actual| / max(predicted, actual, epsilon),
// with 0/0 treated as zero error and a zero-actual/nonzero-predicted
// treated as full error.
func (o Observation) RateErrorRatio() float64 {
	if o.PredictedRate == 0 && o.ActualRate == 0 {
		return 0.0
	}
	denom := math.Max(o.PredictedRate, o.ActualRate)
	if denom == 0 {
		return 0.0
	}
	return math.Abs(o.PredictedRate-o.ActualRate) / denom
}

type Diagnostics struct {
	Status             Status
	ObservationCount   int
	ConsecutiveClean   int
	EProcessLog        float64
	MedianRateError    float64
	ConservativeFrac   float64
	Reason             string
}

// Guard is the adaptive calibration/e-process guardrail.
type Guard struct {
	cfg              sbhconfig.GuardrailConfig
	window           []Observation
	status           Status
	consecutiveClean int
	eProcessLog      float64
}

func New(cfg sbhconfig.GuardrailConfig) *Guard {
	return &Guard{cfg: cfg, status: Unknown}
}

// Observe records a new calibration sample and recomputes status.
func (g *Guard) Observe(obs Observation) {
	g.window = append(g.window, obs)
	if len(g.window) > g.cfg.WindowSize {
		g.window = g.window[len(g.window)-g.cfg.WindowSize:]
	}

	errRatio := obs.RateErrorRatio()
	if errRatio <= g.cfg.MaxRateError {
		g.eProcessLog += math.Log(g.cfg.EProcessReward)
	} else {
		g.eProcessLog += math.Log(g.cfg.EProcessPenalty)
	}
	if g.eProcessLog < -50 {
		g.eProcessLog = -50
	}

	g.recompute()
}

func (g *Guard) recompute() {
	if len(g.window) < g.cfg.MinObservations {
		g.status = Unknown
		return
	}

	breach := g.eProcessLog >= math.Log(g.cfg.EProcessThreshold) || !g.windowHealthy()

	switch g.status {
	case Unknown:
		if !breach {
			g.status = Pass
			g.consecutiveClean = g.cfg.RecoveryCleanWindows
		} else {
			g.status = Fail
			g.consecutiveClean = 0
		}
	case Pass:
		if breach {
			g.status = Fail
			g.consecutiveClean = 0
		}
	case Fail:
		if !breach {
			g.consecutiveClean++
			if g.consecutiveClean >= g.cfg.RecoveryCleanWindows {
				g.status = Pass
				g.eProcessLog = 0
				g.consecutiveClean = 0
			}
		} else {
			g.consecutiveClean = 0
		}
	}
}

func (g *Guard) windowHealthy() bool {
	median := g.medianRateError()
	frac := g.conservativeFraction()
	return median <= g.cfg.MaxRateError && frac >= g.cfg.MinConservativeFraction
}

func (g *Guard) medianRateError() float64 {
	if len(g.window) == 0 {
		return 0
	}
	errs := make([]float64, len(g.window))
	for i, o := range g.window {
		errs[i] = o.RateErrorRatio()
	}
	return median(errs)
}

func (g *Guard) conservativeFraction() float64 {
	if len(g.window) == 0 {
		return 1.0
	}
	n := 0
	for _, o := range g.window {
		if o.Conservative {
			n++
		}
	}
	return float64(n) / float64(len(g.window))
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}

// Status returns the current guard status.
func (g *Guard) Status() Status { return g.status }

// AdaptiveAllowed reports whether the current status permits the policy
// engine to allow automatic (non-hypothetical) deletion.
func (g *Guard) AdaptiveAllowed() bool { return g.status == Pass }

func (g *Guard) ObservationCount() int { return len(g.window) }

// Reset clears all accumulated state, returning the guard to Unknown.
func (g *Guard) Reset() {
	g.window = nil
	g.status = Unknown
	g.consecutiveClean = 0
	g.eProcessLog = 0
}

func (g *Guard) Diagnostics() Diagnostics {
	return Diagnostics{
		Status:           g.status,
		ObservationCount: len(g.window),
		ConsecutiveClean: g.consecutiveClean,
		EProcessLog:      g.eProcessLog,
		MedianRateError:  g.medianRateError(),
		ConservativeFrac: g.conservativeFraction(),
		Reason:           g.reasonString(),
	}
}

func (g *Guard) reasonString() string {
	switch g.status {
	case Unknown:
		return "insufficient calibration observations"
	case Fail:
		return "calibration drift or e-process threshold breach"
	default:
		return "calibration within tolerance"
	}
}
