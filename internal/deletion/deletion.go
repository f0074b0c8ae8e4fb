// Package deletion implements the circuit-breaker-guarded deletion
// executor: a pre-flight safety check per candidate (existence, parent
// writability, .git presence, open-file check), consecutive-failure
// circuit breaking with cooldown, and dry-run support. Ported from the
// original scanner's DeletionExecutor.
package deletion

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"sbh/internal/errs"
	"sbh/internal/protection"
	"sbh/internal/scoring"
)

type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipPathGone
	SkipFileOpen
	SkipContainsGit
	SkipNotWritable
	SkipVetoed
	SkipBelowThreshold
)

func (s SkipReason) String() string {
	switch s {
	case SkipPathGone:
		return "path_gone"
	case SkipFileOpen:
		return "file_open"
	case SkipContainsGit:
		return "contains_git"
	case SkipNotWritable:
		return "not_writable"
	case SkipVetoed:
		return "vetoed"
	case SkipBelowThreshold:
		return "below_threshold"
	default:
		return "none"
	}
}

type Config struct {
	DryRun                  bool
	CheckOpenFiles          bool
	MinScore                float64
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

func DefaultConfig() Config {
	return Config{
		DryRun:                  false,
		CheckOpenFiles:          true,
		MinScore:                0.5,
		CircuitBreakerThreshold: 3,
		CircuitBreakerCooldown:  30 * time.Second,
	}
}

type Plan struct {
	Candidates            []scoring.CandidacyScore
	TotalReclaimableBytes uint64
}

type Result struct {
	Path       string
	Deleted    bool
	BytesFreed uint64
	Skipped    bool
	SkipReason SkipReason
	Err        error
	DurationMs int64
}

type Report struct {
	Results                []Result
	TotalBytesFreed        uint64
	TotalDeleted           int
	CircuitBreakerTripped  bool
}

// OpenFileChecker abstracts the /proc-based open-file sweep so deletion
// can be tested without a real process table.
type OpenFileChecker interface {
	IsPathOpen(path string) bool
}

type noopOpenFileChecker struct{}

func (noopOpenFileChecker) IsPathOpen(string) bool { return false }

type Executor struct {
	cfg        Config
	protection *protection.Registry
	openCheck  OpenFileChecker
}

func New(cfg Config, prot *protection.Registry, openCheck OpenFileChecker) *Executor {
	if openCheck == nil {
		openCheck = noopOpenFileChecker{}
	}
	return &Executor{cfg: cfg, protection: prot, openCheck: openCheck}
}

// Plan filters candidates already approved by the policy layer to those
// that are actionable — action=Delete, not vetoed, and scored at or
// above MinScore — then sorts the survivors by total score descending
// so the most obvious artifacts are deleted first.
func (e *Executor) Plan(candidates []scoring.CandidacyScore) Plan {
	filtered := make([]scoring.CandidacyScore, 0, len(candidates))
	var totalBytes uint64
	for _, c := range candidates {
		if c.Action == scoring.Delete && !c.Vetoed && c.TotalScore >= e.cfg.MinScore {
			filtered = append(filtered, c)
			totalBytes += c.SizeBytes
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TotalScore > filtered[j].TotalScore
	})
	return Plan{Candidates: filtered, TotalReclaimableBytes: totalBytes}
}

// Execute runs the plan, tripping the circuit breaker after
// CircuitBreakerThreshold consecutive real failures (skips do not count
// as failures).
func (e *Executor) Execute(plan Plan) Report {
	var report Report
	consecutiveFailures := 0

	for _, cand := range plan.Candidates {
		if report.CircuitBreakerTripped {
			break
		}
		if consecutiveFailures >= e.cfg.CircuitBreakerThreshold {
			report.CircuitBreakerTripped = true
			time.Sleep(e.cfg.CircuitBreakerCooldown)
			break
		}

		start := time.Now()
		res := e.deleteOne(cand)
		res.DurationMs = time.Since(start).Milliseconds()
		report.Results = append(report.Results, res)

		switch {
		case res.Deleted:
			consecutiveFailures = 0
			report.TotalDeleted++
			report.TotalBytesFreed += res.BytesFreed
		case res.Skipped:
			// skips don't affect the circuit breaker
		default:
			consecutiveFailures++
		}
	}

	return report
}

func (e *Executor) deleteOne(cand scoring.CandidacyScore) Result {
	if reason, ok := e.preflight(cand.Path); !ok {
		return Result{Path: cand.Path, Skipped: true, SkipReason: reason}
	}

	if e.cfg.DryRun {
		return Result{Path: cand.Path, Skipped: true, SkipReason: SkipNone}
	}

	if err := e.deletePath(cand.Path); err != nil {
		return Result{Path: cand.Path, Err: err}
	}

	return Result{Path: cand.Path, Deleted: true, BytesFreed: cand.SizeBytes}
}

func (e *Executor) preflight(path string) (SkipReason, bool) {
	if _, err := os.Stat(path); err != nil {
		return SkipPathGone, false
	}

	parent := filepath.Dir(path)
	if info, err := os.Stat(parent); err == nil {
		if info.Mode().Perm()&0o200 == 0 {
			return SkipNotWritable, false
		}
	} else {
		return SkipNotWritable, false
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if _, gitErr := os.Stat(filepath.Join(path, ".git")); gitErr == nil {
			return SkipContainsGit, false
		}
	}

	if e.protection != nil && e.protection.IsProtected(path) {
		return SkipVetoed, false
	}

	if e.cfg.CheckOpenFiles && e.openCheck.IsPathOpen(path) {
		return SkipFileOpen, false
	}

	return SkipNone, true
}

func (e *Executor) deletePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errs.NewIO(path, err)
	}
	if info.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return errs.NewIO(path, err)
		}
	} else {
		if err := os.Remove(path); err != nil {
			return errs.NewIO(path, err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		return errs.NewRuntime("path still exists after deletion: " + path)
	}
	return nil
}
