// Package policy implements the progressive-delivery policy engine:
// Observe -> Canary -> Enforce -> FallbackSafe, with automatic fallback
// on guardrail breach and hourly canary budgets. Ported from the
// original daemon's PolicyEngine. Mode transitions are logged the way
// the teacher's EventDetector (engine/eventlog.go) keeps a completed-event
// history alongside the active state.
package policy

import (
	"time"

	"github.com/google/uuid"

	"sbh/internal/guardrail"
	"sbh/internal/sbhconfig"
	"sbh/internal/scoring"
)

type Mode int

const (
	Observe Mode = iota
	Canary
	Enforce
	FallbackSafe
)

func (m Mode) String() string {
	switch m {
	case Canary:
		return "canary"
	case Enforce:
		return "enforce"
	case FallbackSafe:
		return "fallback_safe"
	default:
		return "observe"
	}
}

func (m Mode) AllowsDeletion() bool { return m == Canary || m == Enforce }

type FallbackReason int

const (
	NoFallback FallbackReason = iota
	CalibrationBreach
	GuardrailDrift
	CanaryBudgetExhausted
	PolicyErrorReason
	SerializationFailure
	KillSwitch
)

func (r FallbackReason) String() string {
	switch r {
	case CalibrationBreach:
		return "calibration_breach"
	case GuardrailDrift:
		return "guardrail_drift"
	case CanaryBudgetExhausted:
		return "canary_budget_exhausted"
	case PolicyErrorReason:
		return "policy_error"
	case SerializationFailure:
		return "serialization_failure"
	case KillSwitch:
		return "kill_switch"
	default:
		return "none"
	}
}

type TransitionKind int

const (
	TransitionPromote TransitionKind = iota
	TransitionDemote
	TransitionFallbackEnter
	TransitionFallbackRecover
)

type TransitionEntry struct {
	Kind          TransitionKind
	From          Mode
	To            Mode
	DecisionCount int64
	Reason        FallbackReason
	At            time.Time
}

// PolicyMode is the shadow/canary/live projection of the engine's Mode,
// carried on every decision record for audit and shadow-diffing.
type PolicyMode int

const (
	Shadow PolicyMode = iota
	PolicyCanary
	Live
)

func (p PolicyMode) String() string {
	switch p {
	case PolicyCanary:
		return "canary"
	case Live:
		return "live"
	default:
		return "shadow"
	}
}

// policyModeFor projects the engine's operating Mode onto the
// decision-record PolicyMode: Observe and FallbackSafe both record as
// Shadow (nothing is ever executed), Canary records as Canary, Enforce
// records as Live.
func policyModeFor(m Mode) PolicyMode {
	switch m {
	case Canary:
		return PolicyCanary
	case Enforce:
		return Live
	default:
		return Shadow
	}
}

type Decision struct {
	DecisionID int64
	TraceID    string
	Path       string
	Score      scoring.CandidacyScore
	Approved   bool
	Mode       Mode
	PolicyMode PolicyMode
	// ComparatorAction is the action Enforce mode would have taken for
	// this candidate, recorded in Observe mode for shadow/live diffing.
	// Nil outside Observe mode.
	ComparatorAction *scoring.Action
	GuardUsed        bool
}

// Engine is the policy state machine.
type Engine struct {
	cfg                     sbhconfig.PolicyConfig
	mode                    Mode
	preFallbackMode         Mode
	fallbackReason          FallbackReason
	consecutiveCleanWindows int
	consecutiveBreachWindows int
	canaryDeletesThisHour   int
	canaryHourStart         time.Time
	totalDecisions          int64
	totalFallbackEntries    int64
	transitionLog           []TransitionEntry
	now                     func() time.Time
	nextDecisionID          int64
}

func New(cfg sbhconfig.PolicyConfig) *Engine {
	e := &Engine{
		cfg:             cfg,
		mode:            Observe,
		preFallbackMode: Observe,
		now:             time.Now,
	}
	e.canaryHourStart = e.now()
	e.nextDecisionID = 1
	if cfg.KillSwitch {
		e.mode = FallbackSafe
		e.fallbackReason = KillSwitch
	}
	return e
}

func (e *Engine) Mode() Mode { return e.mode }

func (e *Engine) FallbackReason() FallbackReason { return e.fallbackReason }

// Evaluate scores a batch of candidates against the guard and current
// mode, returning per-candidate decisions. It never exceeds
// MaxCandidatesPerLoop.
func (e *Engine) Evaluate(candidates []scoring.CandidacyScore, guard *guardrail.Guard) []Decision {
	if e.cfg.KillSwitch {
		e.enterFallback(KillSwitch)
	}
	e.checkGuardTriggers(guard)

	budget := e.cfg.MaxCandidatesPerLoop
	if budget > len(candidates) {
		budget = len(candidates)
	}

	hypotheticalDeletes := 0
	decisions := make([]Decision, 0, budget)
	for i := 0; i < budget; i++ {
		cand := candidates[i]
		e.totalDecisions++
		approved := e.shouldApproveDeletion(cand, guard)

		var comparator *scoring.Action
		if e.mode == Observe {
			if cand.Action == scoring.Delete {
				hypotheticalDeletes++
			}
			hypothetical := e.comparatorAction(cand, guard)
			comparator = &hypothetical
		}

		id := e.nextDecisionID
		e.nextDecisionID++
		decisions = append(decisions, Decision{
			DecisionID:       id,
			TraceID:          uuid.New().String(),
			Path:             cand.Path,
			Score:            cand,
			Approved:         approved,
			Mode:             e.mode,
			PolicyMode:       policyModeFor(e.mode),
			ComparatorAction: comparator,
			GuardUsed:        guard.AdaptiveAllowed(),
		})
	}

	if e.mode == Observe && e.cfg.MaxHypotheticalDeletes > 0 && hypotheticalDeletes > e.cfg.MaxHypotheticalDeletes {
		// Budget exhaustion in shadow mode is observational only; the
		// original records this but does not itself trigger fallback.
	}

	return decisions
}

func (e *Engine) shouldApproveDeletion(cand scoring.CandidacyScore, guard *guardrail.Guard) bool {
	if !e.mode.AllowsDeletion() {
		return false
	}
	if cand.Action != scoring.Delete {
		return false
	}
	if !guard.AdaptiveAllowed() {
		// Guard not adaptive-allowed: apply a loss penalty that in
		// practice vetoes all but the most confident candidates.
		if cand.ExpectedLossDelete+e.cfg.GuardPenalty >= cand.ExpectedLossKeep {
			return false
		}
	}
	if e.mode == Canary {
		e.rotateCanaryHour()
		if e.canaryDeletesThisHour >= e.cfg.MaxCanaryDeletesPerHour {
			e.enterFallback(CanaryBudgetExhausted)
			return false
		}
		e.canaryDeletesThisHour++
	}
	return true
}

// comparatorAction reports what Enforce mode would have done with cand,
// without mutating any engine state (no canary-budget consumption, no
// fallback transitions). Used only to populate Decision.ComparatorAction
// for shadow/live diffing while the engine is in Observe mode.
func (e *Engine) comparatorAction(cand scoring.CandidacyScore, guard *guardrail.Guard) scoring.Action {
	if cand.Action != scoring.Delete {
		return scoring.Keep
	}
	if !guard.AdaptiveAllowed() && cand.ExpectedLossDelete+e.cfg.GuardPenalty >= cand.ExpectedLossKeep {
		return scoring.Keep
	}
	return scoring.Delete
}

func (e *Engine) rotateCanaryHour() {
	if e.now().Sub(e.canaryHourStart) >= time.Hour {
		e.canaryHourStart = e.now()
		e.canaryDeletesThisHour = 0
	}
}

func (e *Engine) checkGuardTriggers(guard *guardrail.Guard) {
	if guard.Status() == guardrail.Fail {
		e.consecutiveBreachWindows++
		e.consecutiveCleanWindows = 0
		if e.consecutiveBreachWindows >= e.cfg.CalibrationBreachWindows {
			e.enterFallback(CalibrationBreach)
		}
	} else {
		e.consecutiveBreachWindows = 0
	}
}

// ObserveWindow feeds one tick's clean/breach outcome into the recovery
// counters, triggering fallback entry or recovery as thresholds cross.
func (e *Engine) ObserveWindow(clean bool) {
	if clean {
		e.consecutiveCleanWindows++
		e.consecutiveBreachWindows = 0
		if e.mode == FallbackSafe && e.consecutiveCleanWindows >= e.cfg.RecoveryCleanWindows {
			e.recoverFromFallback()
		}
	} else {
		e.consecutiveBreachWindows++
		e.consecutiveCleanWindows = 0
		if e.consecutiveBreachWindows >= e.cfg.CalibrationBreachWindows {
			e.enterFallback(CalibrationBreach)
		}
	}
}

// Promote advances Observe->Canary->Enforce. Returns false if already at
// the top or currently in FallbackSafe.
func (e *Engine) Promote() bool {
	switch e.mode {
	case Observe:
		e.applyTransition(TransitionPromote, e.mode, Canary, NoFallback)
		return true
	case Canary:
		e.applyTransition(TransitionPromote, e.mode, Enforce, NoFallback)
		return true
	default:
		return false
	}
}

// Demote steps Enforce->Canary->Observe. Returns false if already at
// Observe or in FallbackSafe.
func (e *Engine) Demote() bool {
	switch e.mode {
	case Enforce:
		e.applyTransition(TransitionDemote, e.mode, Canary, NoFallback)
		return true
	case Canary:
		e.applyTransition(TransitionDemote, e.mode, Observe, NoFallback)
		return true
	default:
		return false
	}
}

func (e *Engine) enterFallback(reason FallbackReason) {
	if e.mode == FallbackSafe {
		return // idempotent
	}
	e.preFallbackMode = e.mode
	e.fallbackReason = reason
	e.totalFallbackEntries++
	e.applyTransition(TransitionFallbackEnter, e.mode, FallbackSafe, reason)
}

func (e *Engine) recoverFromFallback() {
	if e.mode != FallbackSafe {
		return
	}
	target := e.preFallbackMode
	e.fallbackReason = NoFallback
	e.consecutiveCleanWindows = 0
	e.applyTransition(TransitionFallbackRecover, e.mode, target, NoFallback)
}

func (e *Engine) applyTransition(kind TransitionKind, from, to Mode, reason FallbackReason) {
	e.mode = to
	e.logTransition(kind, from, to, reason)
}

func (e *Engine) logTransition(kind TransitionKind, from, to Mode, reason FallbackReason) {
	e.transitionLog = append(e.transitionLog, TransitionEntry{
		Kind:          kind,
		From:          from,
		To:            to,
		DecisionCount: e.totalDecisions,
		Reason:        reason,
		At:            e.now(),
	})
}

type Diagnostics struct {
	Mode                 Mode
	PreFallbackMode      Mode
	FallbackReason       FallbackReason
	TotalDecisions       int64
	TotalFallbackEntries int64
	CanaryDeletesThisHour int
	TransitionLog        []TransitionEntry
}

func (e *Engine) Diagnostics() Diagnostics {
	return Diagnostics{
		Mode:                  e.mode,
		PreFallbackMode:       e.preFallbackMode,
		FallbackReason:        e.fallbackReason,
		TotalDecisions:        e.totalDecisions,
		TotalFallbackEntries:  e.totalFallbackEntries,
		CanaryDeletesThisHour: e.canaryDeletesThisHour,
		TransitionLog:         append([]TransitionEntry(nil), e.transitionLog...),
	}
}
