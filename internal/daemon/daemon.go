// Package daemon wires components A through M into the main tick loop:
// pressure measurement, scan/score/decide, guarded policy evaluation,
// deletion, and ballast release/replenish, on a fixed interval. The
// loop shape (PID file, signal handling, interval ticker, rotating
// compact-summary log) is ported directly from the teacher's
// engine/daemon.go RunDaemon.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"sbh/internal/activitylog"
	"sbh/internal/ballast"
	"sbh/internal/deletion"
	"sbh/internal/guardrail"
	"sbh/internal/merkle"
	"sbh/internal/patterns"
	"sbh/internal/platform"
	"sbh/internal/policy"
	"sbh/internal/protection"
	"sbh/internal/sbhconfig"
	"sbh/internal/scoring"
	"sbh/internal/walker"
	"sbh/internal/xlog"
)

type Config struct {
	DataDir  string
	Interval time.Duration
	Tunables sbhconfig.Config
	Platform platform.Platform
}

// compactSummary is a minimal per-tick record for the rolling log,
// mirroring the teacher's compactSummary in shape and rotation rule.
type compactSummary struct {
	Timestamp    time.Time `json:"ts"`
	Mode         string    `json:"mode"`
	GuardStatus  string    `json:"guard_status"`
	Candidates   int       `json:"candidates"`
	Approved     int       `json:"approved"`
	Deleted      int       `json:"deleted"`
	BytesFreed   uint64    `json:"bytes_freed"`
	WorstFreePct float64   `json:"worst_free_pct"`
}

type Daemon struct {
	cfg        Config
	plat       platform.Platform
	index      *merkle.Index
	protection *protection.Registry
	scoreEng   *scoring.Engine
	guard      *guardrail.Guard
	polEng     *policy.Engine
	releaseCtl *ballastReleaseBundle
	logger     *activitylog.Logger
	logHandle  *activitylog.Handle
}

type ballastReleaseBundle struct {
	coordinator *ballast.Coordinator
	controllers map[string]*ballast.ReleaseController
}

func New(cfg Config) (*Daemon, error) {
	prot, err := protection.New(cfg.Tunables.Scanner.ProtectedPaths)
	if err != nil {
		return nil, err
	}
	for _, root := range cfg.Tunables.Scanner.RootPaths {
		if _, err := prot.DiscoverMarkers(root, cfg.Tunables.Scanner.MaxDepth); err != nil {
			xlog.Printf("marker discovery under %s failed: %v", root, err)
		}
	}

	logCfg := activitylog.Config{
		JsonlPath:       filepath.Join(cfg.DataDir, cfg.Tunables.Logger.JsonlPath),
		SqliteDSN:       filepath.Join(cfg.DataDir, cfg.Tunables.Logger.SqliteDSN),
		MaxRotatedFiles: cfg.Tunables.Logger.MaxRotatedFiles,
		MaxJsonlBytes:   10 * 1024 * 1024,
		ChannelCapacity: cfg.Tunables.Logger.ChannelCapacity,
	}
	logger, handle, err := activitylog.Spawn(logCfg)
	if err != nil {
		return nil, err
	}

	coordinator := ballast.NewCoordinator(cfg.Tunables.Ballast, cfg.Platform)
	if err := coordinator.Discover(cfg.Tunables.Scanner.RootPaths); err != nil {
		xlog.Printf("ballast discovery failed: %v", err)
	}
	controllers := map[string]*ballast.ReleaseController{}
	for mount := range coordinator.Managers() {
		controllers[mount] = ballast.NewReleaseController(cfg.Tunables.Ballast.ReplenishCooldownMinutes)
	}

	return &Daemon{
		cfg:        cfg,
		plat:       cfg.Platform,
		index:      merkle.New(),
		protection: prot,
		scoreEng:   scoring.FromConfig(cfg.Tunables.Scoring, cfg.Tunables.Scanner.MinFileAge),
		guard:      guardrail.New(cfg.Tunables.Guardrail),
		polEng:     policy.New(cfg.Tunables.Policy),
		releaseCtl: &ballastReleaseBundle{coordinator: coordinator, controllers: controllers},
		logger:     logger,
		logHandle:  handle,
	}, nil
}

// Run executes the daemon main loop until SIGINT/SIGTERM.
func Run(cfg Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath := filepath.Join(cfg.DataDir, "daemon.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		d.logHandle.Shutdown()
		d.logger.Close()
	}()

	d.logHandle.Send(activitylog.Event{Type: activitylog.EventDaemonStarted, Details: fmt.Sprintf("pid=%d", os.Getpid())})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	intervalTicker := time.NewTicker(cfg.Interval)
	defer intervalTicker.Stop()

	xlog.Printf("sbh daemon started (pid=%d, interval=%s, datadir=%s)", os.Getpid(), cfg.Interval, cfg.DataDir)

	summaryPath := filepath.Join(cfg.DataDir, "current.jsonl")

	for {
		select {
		case <-sigCh:
			xlog.Printf("sbh daemon shutting down")
			d.logHandle.Send(activitylog.Event{Type: activitylog.EventDaemonStopped})
			return nil
		case <-intervalTicker.C:
			summary := d.tick()
			writeSummaryLine(summaryPath, summary)
		}
	}
}

// tick performs one full cycle: measure pressure, scan, score, decide,
// act, release/replenish ballast.
func (d *Daemon) tick() compactSummary {
	worstFreePct := 100.0
	for _, root := range d.cfg.Tunables.Scanner.RootPaths {
		stats, err := d.plat.FsStats(root)
		if err != nil {
			continue
		}
		if stats.FreePct() < worstFreePct {
			worstFreePct = stats.FreePct()
		}
	}
	urgency := urgencyFromFreePct(worstFreePct, d.cfg.Tunables.Pressure)

	openFiles := walker.CollectOpenFiles(4096)
	openChecker := walker.AncestorOpenChecker{Set: openFiles, RootPaths: d.cfg.Tunables.Scanner.RootPaths}

	w := walker.New(walker.Config{
		RootPaths:      d.cfg.Tunables.Scanner.RootPaths,
		ExcludedPaths:  d.cfg.Tunables.Scanner.ExcludedPaths,
		MaxDepth:       d.cfg.Tunables.Scanner.MaxDepth,
		Parallelism:    d.cfg.Tunables.Scanner.Parallelism,
		FollowSymlinks: d.cfg.Tunables.Scanner.FollowSymlinks,
		CrossDevices:   d.cfg.Tunables.Scanner.CrossDevices,
		OpenCheck:      openChecker,
	}, d.protection)

	entries, err := w.Walk()
	if err != nil {
		xlog.Printf("walk failed: %v", err)
	}

	inputs := make([]scoring.CandidateInput, 0, len(entries))
	now := time.Now()
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		name := filepath.Base(e.Path)
		classification := patterns.Classify(name, nil, e.Signals)
		age := now.Sub(time.Unix(0, int64(e.Snapshot.ModifiedNanos)))
		inputs = append(inputs, scoring.CandidateInput{
			Path:               e.Path,
			SizeBytes:          e.Snapshot.SizeBytes,
			Age:                age,
			Classification:     classification,
			Signals:            e.Signals,
			LocationConfidence: 0.5,
			PressureMultiplier: scoring.PressureMultiplier(urgency),
			IsOpen:             e.IsOpen,
			Excluded:           d.protection.IsProtected(e.Path),
		})
	}

	// ScoreBatch applies hard vetoes per candidate and sorts the results
	// by total score descending (ties broken by path) before policy ever
	// sees them, so the most obvious artifacts are decided on first.
	candidates := d.scoreEng.ScoreBatch(inputs)

	decisions := d.polEng.Evaluate(candidates, d.guard)

	exec := deletion.New(deletion.Config{
		DryRun:                  d.cfg.Tunables.Scanner.DryRun,
		CheckOpenFiles:          true,
		MinScore:                d.cfg.Tunables.Scoring.MinScore,
		CircuitBreakerThreshold: 3,
		CircuitBreakerCooldown:  30 * time.Second,
	}, d.protection, openChecker)

	var approvedScores []scoring.CandidacyScore
	traceByPath := make(map[string]string, len(decisions))
	for _, dec := range decisions {
		traceByPath[dec.Path] = fmt.Sprintf("%s (decision_id=%d mode=%s)", dec.TraceID, dec.DecisionID, dec.PolicyMode)
		if dec.Approved {
			approvedScores = append(approvedScores, dec.Score)
		}
	}

	plan := exec.Plan(approvedScores)
	report := exec.Execute(plan)

	for _, r := range report.Results {
		if r.Deleted {
			d.logHandle.Send(activitylog.Event{
				Type:      activitylog.EventArtifactDeleted,
				Path:      r.Path,
				SizeBytes: r.BytesFreed,
				Success:   true,
				Details:   fmt.Sprintf("trace=%s freed=%s", traceByPath[r.Path], humanize.Bytes(r.BytesFreed)),
			})
		} else if r.Err != nil {
			d.logHandle.Send(activitylog.Event{
				Type:     activitylog.EventArtifactDeletionFailed,
				Path:     r.Path,
				Success:  false,
				ErrorMsg: r.Err.Error(),
				Details:  fmt.Sprintf("trace=%s", traceByPath[r.Path]),
			})
		}
	}

	d.releaseBallast(urgency, worstFreePct)

	return compactSummary{
		Timestamp:    now,
		Mode:         d.polEng.Mode().String(),
		GuardStatus:  d.guard.Status().String(),
		Candidates:   len(candidates),
		Approved:     len(approvedScores),
		Deleted:      report.TotalDeleted,
		BytesFreed:   report.TotalBytesFreed,
		WorstFreePct: worstFreePct,
	}
}

func urgencyFromFreePct(freePct float64, cfg sbhconfig.PressureConfig) float64 {
	switch {
	case freePct <= cfg.RedMinFreePct:
		return 1.0
	case freePct <= cfg.OrangeMinFreePct:
		return 0.8
	case freePct <= cfg.YellowMinFreePct:
		return 0.5
	case freePct <= cfg.GreenMinFreePct:
		return 0.2
	default:
		return 0.0
	}
}

func (d *Daemon) releaseBallast(urgency, worstFreePct float64) {
	isGreen := worstFreePct >= d.cfg.Tunables.Pressure.GreenMinFreePct
	for mount, mgr := range d.releaseCtl.coordinator.Managers() {
		ctl := d.releaseCtl.controllers[mount]
		if ctl == nil {
			continue
		}
		if report, err := ctl.MaybeRelease(mgr, urgency); err == nil && report.FilesReleased > 0 {
			d.logHandle.Send(activitylog.Event{
				Type:       activitylog.EventBallastReleased,
				MountPoint: mount,
				SizeBytes:  uint64(report.BytesFreed),
				Details:    fmt.Sprintf("released %d file(s), %s", report.FilesReleased, humanize.Bytes(uint64(report.BytesFreed))),
			})
		}
		strategy := ballast.ProvisionStrategyFor(fsTypeOf(d.plat, mount))
		if report, err := ctl.MaybeReplenish(mgr, isGreen, strategy); err == nil && report.FilesCreated > 0 {
			d.logHandle.Send(activitylog.Event{
				Type:       activitylog.EventBallastReplenished,
				MountPoint: mount,
				SizeBytes:  uint64(report.BytesAllocated),
				Details:    fmt.Sprintf("provisioned %d file(s), %s", report.FilesCreated, humanize.Bytes(uint64(report.BytesAllocated))),
			})
		}
	}
}

func fsTypeOf(plat platform.Platform, mount string) string {
	mounts, err := plat.MountPoints()
	if err != nil {
		return ""
	}
	m := platform.FindMount(mount, mounts)
	if m == nil {
		return ""
	}
	return m.FsType
}

// writeSummaryLine appends a compact JSON line to the summary file,
// rotating at 10MB exactly as the teacher's writeSummaryLine does.
func writeSummaryLine(path string, s compactSummary) {
	if info, err := os.Stat(path); err == nil && info.Size() > 10*1024*1024 {
		_ = os.Rename(path, path+".old")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_ = json.NewEncoder(f).Encode(s)
}
