// Package scoring implements the five-factor candidacy score, the
// Bayesian posterior, and the expected-loss decision rule. Ported from
// the original scanner's scoring engine and the weighted-evidence style
// already used in the teacher's engine/scoring.go (slotWeights,
// weightedDomainScore, domainConfidence).
package scoring

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sbh/internal/patterns"
	"sbh/internal/sbhconfig"
)

type Action int

const (
	Keep Action = iota
	Delete
	Review
)

func (a Action) String() string {
	switch a {
	case Delete:
		return "delete"
	case Review:
		return "review"
	default:
		return "keep"
	}
}

type Factors struct {
	Location  float64
	Name      float64
	Age       float64
	Size      float64
	Structure float64
}

type CandidateInput struct {
	Path               string
	SizeBytes          uint64
	Age                time.Duration
	Classification     patterns.Classification
	Signals            patterns.StructuralSignals
	LocationConfidence float64
	PressureMultiplier float64 // derived from current urgency, see PressureMultiplier
	IsOpen             bool    // held open by another process
	Excluded           bool    // matched a user exclusion pattern
}

// EvidenceTerm is one weighted contribution to a candidacy score, kept
// for audit and explain output.
type EvidenceTerm struct {
	Name         string
	Weight       float64
	Value        float64
	Contribution float64
}

// EvidenceLedger is the full audit trail behind a CandidacyScore: the
// weighted factor terms plus a human-readable summary line. A vetoed
// score carries an empty ledger with a fixed summary.
type EvidenceLedger struct {
	Terms   []EvidenceTerm
	Summary string
}

type CandidacyScore struct {
	Path               string
	SizeBytes          uint64
	Factors            Factors
	TotalScore         float64
	PosteriorAbandoned float64
	Calibration        float64
	ExpectedLossKeep   float64
	ExpectedLossDelete float64
	Uncertainty        float64
	Action             Action
	Vetoed             bool
	VetoReason         string
	Ledger             EvidenceLedger
}

// Engine computes scores using a fixed weight set derived from config.
type Engine struct {
	weights     Factors
	minFileAge  time.Duration
	minScore    float64
	calibFloor  float64
	lossFP      float64
	lossFN      float64
}

func FromConfig(cfg sbhconfig.ScoringConfig, minFileAge time.Duration) *Engine {
	return &Engine{
		weights: Factors{
			Location:  cfg.LocationWeight,
			Name:      cfg.NameWeight,
			Age:       cfg.AgeWeight,
			Size:      cfg.SizeWeight,
			Structure: cfg.StructureWeight,
		},
		minFileAge: minFileAge,
		minScore:   cfg.MinScore,
		calibFloor: cfg.CalibrationFloor,
		lossFP:     cfg.FalsePositiveLoss,
		lossFN:     cfg.FalseNegativeLoss,
	}
}

// PressureMultiplier maps an urgency in [0,1] to the scoring pressure
// multiplier: flat 1.0 below 0.3, ramping to ~1.5 by 0.5, ~2.0 by 0.8,
// up to ~3.0 at full urgency.
func PressureMultiplier(urgency float64) float64 {
	u := clamp01(urgency)
	switch {
	case u <= 0.3:
		return 1.0
	case u <= 0.5:
		return 1.3 + (u-0.3)*1.0
	case u <= 0.8:
		return 1.5 + (u-0.5)*(0.5/0.3)
	default:
		return 2.0 + (u-0.8)*5.0
	}
}

func nameFactor(classification patterns.Classification) float64 {
	score := classification.CombinedConfidence
	switch classification.Category {
	case patterns.RustTarget, patterns.NodeModules:
		score += 0.10
	case patterns.PythonCache:
		score += 0.15
	case patterns.Unknown:
		score -= 0.30
	}
	return clamp01(score)
}

func ageFactor(age time.Duration) float64 {
	hours := age.Seconds() / 3600.0
	switch {
	case hours < 0.5:
		return 0.0
	case hours < 2.0:
		return 0.20
	case hours < 10.0:
		return 0.70
	case hours < 24.0:
		return 0.85
	case hours < 24.0*7:
		return 0.60
	case hours < 24.0*30:
		return 0.40
	default:
		return 0.25
	}
}

const mib = 1_048_576
const gib = 1_073_741_824

func sizeFactor(sizeBytes uint64) float64 {
	switch {
	case sizeBytes < mib:
		return 0.05
	case sizeBytes < 10*mib:
		return 0.20
	case sizeBytes < 100*mib:
		return 0.40
	case sizeBytes < gib:
		return 0.70
	case sizeBytes < 10*gib:
		return 0.90
	default:
		return 0.75
	}
}

func structureFactor(sig patterns.StructuralSignals) float64 {
	switch {
	case sig.HasGit:
		return 0.0
	case sig.HasFingerprintDir:
		return 0.95
	case sig.HasIncrementalDir && sig.HasDepsDir:
		return 0.85
	case sig.HasCargoToml:
		return 0.05
	case sig.MostlyObjectFiles:
		return 0.90
	default:
		return 0.40
	}
}

// systemRoots are never eligible for deletion regardless of score.
var systemRoots = []string{"/boot", "/etc", "/usr", "/bin", "/sbin", "/proc", "/sys"}

// hasGitComponent reports whether any path component is literally ".git".
func hasGitComponent(path string) bool {
	for _, part := range strings.Split(filepath.Clean(path), string(filepath.Separator)) {
		if part == ".git" {
			return true
		}
	}
	return false
}

// isSystemPath reports whether path is the filesystem root or lies under
// one of a fixed set of protected system directories.
func isSystemPath(path string) bool {
	clean := filepath.Clean(path)
	if clean == "/" {
		return true
	}
	for _, root := range systemRoots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// vetoReason returns the first hard-veto reason that applies to in, in
// the fixed order required by the scoring contract: .git presence,
// system path, minimum age, user exclusion, open-by-process. An empty
// ok means no veto applies.
func (e *Engine) vetoReason(in CandidateInput) (reason string, ok bool) {
	switch {
	case hasGitComponent(in.Path) || in.Signals.HasGit:
		return "path contains .git", true
	case isSystemPath(in.Path):
		return "system path is never deletable", true
	case in.Age < e.minFileAge:
		return fmt.Sprintf("age %ds below minimum %ds", int64(in.Age.Seconds()), int64(e.minFileAge.Seconds())), true
	case in.Excluded:
		return "matched user exclusion", true
	case in.IsOpen:
		return "currently open by another process", true
	default:
		return "", false
	}
}

// vetoedScore builds the fixed zero-score, Keep-action result for a
// hard-vetoed candidate.
func (e *Engine) vetoedScore(in CandidateInput, reason string) CandidacyScore {
	return CandidacyScore{
		Path:               in.Path,
		SizeBytes:          in.SizeBytes,
		Factors:            Factors{},
		TotalScore:         0,
		PosteriorAbandoned: 0,
		Calibration:        1.0,
		ExpectedLossKeep:   0,
		ExpectedLossDelete: e.lossFP,
		Uncertainty:        0,
		Action:             Keep,
		Vetoed:             true,
		VetoReason:         reason,
		Ledger:             EvidenceLedger{Summary: "hard veto applied"},
	}
}

// ScoreCandidate computes the full candidacy score for one entry,
// applying the hard-veto checks before any weighted scoring.
func (e *Engine) ScoreCandidate(in CandidateInput) CandidacyScore {
	if reason, vetoed := e.vetoReason(in); vetoed {
		return e.vetoedScore(in, reason)
	}

	factors := Factors{
		Location:  clamp01(in.LocationConfidence),
		Name:      nameFactor(in.Classification),
		Age:       ageFactor(in.Age),
		Size:      sizeFactor(in.SizeBytes),
		Structure: structureFactor(in.Signals),
	}

	base := factors.Location*e.weights.Location +
		factors.Name*e.weights.Name +
		factors.Age*e.weights.Age +
		factors.Size*e.weights.Size +
		factors.Structure*e.weights.Structure

	mult := in.PressureMultiplier
	if mult == 0 {
		mult = 1.0
	}
	total := clampf(base*mult, 0, 3)

	posterior := posteriorFromScore(total, in.Classification.CombinedConfidence)
	calibration := calibrationScore(in.Classification.CombinedConfidence, factors)
	uncertainty := uncertaintyOf(factors)

	lossKeep, lossDelete := expectedLosses(posterior, calibration, uncertainty, e.lossFP, e.lossFN)

	action := decide(total, e.minScore, posterior, calibration, e.calibFloor, lossKeep, lossDelete)

	ledger := buildLedger(factors, e.weights, mult, posterior, calibration, uncertainty, lossKeep, lossDelete, action)

	return CandidacyScore{
		Path:               in.Path,
		SizeBytes:          in.SizeBytes,
		Factors:            factors,
		TotalScore:         total,
		PosteriorAbandoned: posterior,
		Calibration:        calibration,
		ExpectedLossKeep:   lossKeep,
		ExpectedLossDelete: lossDelete,
		Uncertainty:        uncertainty,
		Action:             action,
		Ledger:             ledger,
	}
}

// ScoreBatch scores every candidate and sorts the results deterministically:
// total score descending, ties broken by path ascending. Callers must sort
// before handing results to the policy engine so decision order is stable.
func (e *Engine) ScoreBatch(inputs []CandidateInput) []CandidacyScore {
	scores := make([]CandidacyScore, len(inputs))
	for i, in := range inputs {
		scores[i] = e.ScoreCandidate(in)
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].TotalScore != scores[j].TotalScore {
			return scores[i].TotalScore > scores[j].TotalScore
		}
		return scores[i].Path < scores[j].Path
	})
	return scores
}

// buildLedger assembles the per-factor evidence terms and a summary line
// for a non-vetoed score.
func buildLedger(f Factors, w Factors, pressureMult, posterior, calibration, uncertainty, lossKeep, lossDelete float64, action Action) EvidenceLedger {
	terms := []EvidenceTerm{
		{Name: "location", Weight: w.Location, Value: f.Location, Contribution: w.Location * f.Location},
		{Name: "name", Weight: w.Name, Value: f.Name, Contribution: w.Name * f.Name},
		{Name: "age", Weight: w.Age, Value: f.Age, Contribution: w.Age * f.Age},
		{Name: "size", Weight: w.Size, Value: f.Size, Contribution: w.Size * f.Size},
		{Name: "structure", Weight: w.Structure, Value: f.Structure, Contribution: w.Structure * f.Structure},
		{Name: "pressure_multiplier", Weight: 1.0, Value: pressureMult, Contribution: pressureMult},
		{Name: "calibration", Weight: 1.0, Value: calibration, Contribution: calibration},
		{Name: "uncertainty", Weight: 1.0, Value: uncertainty, Contribution: uncertainty},
	}
	summary := fmt.Sprintf(
		"posterior_abandoned=%.3f; keep_loss=%.2f; delete_loss=%.2f; uncertainty=%.3f; calibration=%.3f; action=%s",
		posterior, lossKeep, lossDelete, uncertainty, calibration, action,
	)
	return EvidenceLedger{Terms: terms, Summary: summary}
}

func posteriorFromScore(totalScore, confidence float64) float64 {
	scaledScore := clamp01(totalScore / 3.0)
	logit := 2.0*(confidence-0.5) + 3.5*(scaledScore-0.5)
	return 1.0 / (1.0 + math.Exp(-logit))
}

func calibrationScore(classificationConfidence float64, factors Factors) float64 {
	spread := factorSpread(factors)
	return clamp01(0.75*classificationConfidence + 0.25*(1.0-spread))
}

func factorSpread(f Factors) float64 {
	vals := []float64{f.Location, f.Name, f.Age, f.Size, f.Structure}
	min, max := vals[0], vals[0]
	for _, v := range vals {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}

func uncertaintyOf(f Factors) float64 {
	return clamp01(factorSpread(f))
}

func expectedLosses(posterior, calibration, uncertainty, lossFP, lossFN float64) (lossKeep, lossDelete float64) {
	p := clamp01(posterior)
	calibPenalty := 1.0 - clamp01(calibration)
	u := clamp01(uncertainty)

	uncertaintyDiscount := 1.0 - 0.5*u
	keepMultiplier := 1.0 + 0.80*(p*uncertaintyDiscount)
	deleteSlope := math.Max(0.90+0.90*calibPenalty, 0.90)

	lossKeep = lossFN * keepMultiplier
	lossDelete = lossFP * deleteSlope * (1.0 - p)
	return
}

func decide(total, minScore, posterior, calibration, calibFloor, lossKeep, lossDelete float64) Action {
	if total < minScore {
		return Keep
	}
	if calibration < calibFloor {
		return Review
	}
	minDeletePosterior := clampf(0.60+0.20*(1.0-clamp01(calibration))+0.20*uncertaintyPenalty(posterior), 0.60, 0.95)
	switch {
	case posterior >= minDeletePosterior && lossDelete < lossKeep:
		return Delete
	case lossKeep <= lossDelete:
		return Keep
	default:
		return Review
	}
}

func uncertaintyPenalty(posterior float64) float64 {
	return math.Abs(posterior - 0.5)
}

func clamp01(v float64) float64 { return clampf(v, 0, 1) }

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
