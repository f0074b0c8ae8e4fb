package scoring

import (
	"testing"
	"time"

	"sbh/internal/patterns"
	"sbh/internal/sbhconfig"
)

func TestPressureMultiplierBreakpoints(t *testing.T) {
	tests := []struct {
		urgency float64
		want    float64
	}{
		{0.0, 1.0},
		{0.3, 1.0},
		{0.5, 1.5},
		{0.8, 2.0},
		{1.0, 3.0},
	}
	for _, tt := range tests {
		got := PressureMultiplier(tt.urgency)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("PressureMultiplier(%v) = %v, want %v", tt.urgency, got, tt.want)
		}
	}
}

func TestPressureMultiplierMonotonic(t *testing.T) {
	prev := PressureMultiplier(0)
	for u := 0.05; u <= 1.0; u += 0.05 {
		cur := PressureMultiplier(u)
		if cur < prev {
			t.Errorf("PressureMultiplier not monotonic at urgency=%v: %v < %v", u, cur, prev)
		}
		prev = cur
	}
}

func newEngine() *Engine {
	cfg := sbhconfig.ScoringConfig{
		MinScore:          0.5,
		LocationWeight:    0.3,
		NameWeight:        0.3,
		AgeWeight:         0.2,
		SizeWeight:        0.1,
		StructureWeight:   0.1,
		FalsePositiveLoss: 100,
		FalseNegativeLoss: 30,
		CalibrationFloor:  0.3,
	}
	return FromConfig(cfg, time.Hour)
}

func TestScoreCandidateObviousRustTarget(t *testing.T) {
	e := newEngine()
	classification := patterns.Classify("target", nil, patterns.StructuralSignals{HasFingerprintDir: true})
	in := CandidateInput{
		Path:               "/home/user/project/target",
		SizeBytes:          5 * gib,
		Age:                30 * 24 * time.Hour,
		Classification:     classification,
		LocationConfidence: 0.9,
		PressureMultiplier: PressureMultiplier(0.5),
	}
	in.Signals = patterns.StructuralSignals{HasFingerprintDir: true}
	score := e.ScoreCandidate(in)

	if score.TotalScore <= 0 {
		t.Errorf("TotalScore = %v, want > 0", score.TotalScore)
	}
	if score.TotalScore > 3.0 {
		t.Errorf("TotalScore = %v, want <= 3.0", score.TotalScore)
	}
	if score.SizeBytes != in.SizeBytes {
		t.Errorf("SizeBytes = %v, want %v", score.SizeBytes, in.SizeBytes)
	}
}

func TestScoreCandidateKeepsRecentActive(t *testing.T) {
	e := newEngine()
	classification := patterns.Classify("my-docs", nil, patterns.StructuralSignals{})
	in := CandidateInput{
		Path:               "/home/user/my-docs",
		SizeBytes:          1024,
		Age:                2 * time.Hour,
		Classification:     classification,
		LocationConfidence: 0.1,
		PressureMultiplier: 1.0,
	}
	score := e.ScoreCandidate(in)
	if score.Vetoed {
		t.Fatalf("candidate should not be vetoed, got reason %q", score.VetoReason)
	}
	if score.Action != Keep {
		t.Errorf("Action = %v, want Keep for a fresh, unrecognized, low-confidence directory", score.Action)
	}
}

func TestScoreCandidateGitPresenceVetoesTotalScore(t *testing.T) {
	e := newEngine()
	classification := patterns.Classify("target", nil, patterns.StructuralSignals{HasGit: true})
	in := CandidateInput{
		Path:               "/repo/target",
		SizeBytes:          gib,
		Age:                24 * time.Hour,
		Classification:     classification,
		Signals:            patterns.StructuralSignals{HasGit: true},
		LocationConfidence: 0.5,
		PressureMultiplier: 1.0,
	}
	score := e.ScoreCandidate(in)
	if !score.Vetoed {
		t.Fatal("expected HasGit signal to trigger a hard veto")
	}
	if score.VetoReason != "path contains .git" {
		t.Errorf("VetoReason = %q, want %q", score.VetoReason, "path contains .git")
	}
	if score.TotalScore != 0.0 {
		t.Errorf("TotalScore = %v, want 0.0 for a vetoed candidate", score.TotalScore)
	}
	if score.Action != Keep {
		t.Errorf("Action = %v, want Keep for a vetoed candidate", score.Action)
	}
}

func TestScoreCandidateGitPathComponentVetoesEvenWithoutSignal(t *testing.T) {
	e := newEngine()
	classification := patterns.Classify("objects", nil, patterns.StructuralSignals{})
	in := CandidateInput{
		Path:               "/repo/.git/objects",
		SizeBytes:          1024,
		Age:                24 * time.Hour,
		Classification:     classification,
		LocationConfidence: 0.5,
		PressureMultiplier: 1.0,
	}
	score := e.ScoreCandidate(in)
	if !score.Vetoed || score.VetoReason != "path contains .git" {
		t.Errorf("expected .git path-component veto, got vetoed=%v reason=%q", score.Vetoed, score.VetoReason)
	}
}

func TestScoreCandidateVetoOrderGitBeforeSystemPath(t *testing.T) {
	e := newEngine()
	in := CandidateInput{
		Path:      "/etc/.git",
		SizeBytes: 1024,
		Age:       24 * time.Hour,
	}
	score := e.ScoreCandidate(in)
	if score.VetoReason != "path contains .git" {
		t.Errorf("VetoReason = %q, want the .git veto to win (first match wins)", score.VetoReason)
	}
}

func TestScoreCandidateSystemPathVetoed(t *testing.T) {
	e := newEngine()
	in := CandidateInput{Path: "/usr/local/build", SizeBytes: 1024, Age: 24 * time.Hour}
	score := e.ScoreCandidate(in)
	if !score.Vetoed || score.VetoReason != "system path is never deletable" {
		t.Errorf("expected system-path veto, got vetoed=%v reason=%q", score.Vetoed, score.VetoReason)
	}
}

func TestScoreCandidateExcludedVetoed(t *testing.T) {
	e := newEngine()
	in := CandidateInput{Path: "/data/build", SizeBytes: 1024, Age: 24 * time.Hour, Excluded: true}
	score := e.ScoreCandidate(in)
	if !score.Vetoed || score.VetoReason != "matched user exclusion" {
		t.Errorf("expected exclusion veto, got vetoed=%v reason=%q", score.Vetoed, score.VetoReason)
	}
}

func TestScoreCandidateOpenFileVetoed(t *testing.T) {
	e := newEngine()
	in := CandidateInput{Path: "/data/build", SizeBytes: 1024, Age: 24 * time.Hour, IsOpen: true}
	score := e.ScoreCandidate(in)
	if !score.Vetoed || score.VetoReason != "currently open by another process" {
		t.Errorf("expected open-file veto, got vetoed=%v reason=%q", score.Vetoed, score.VetoReason)
	}
}

func TestScoreCandidateNonVetoedCarriesLedger(t *testing.T) {
	e := newEngine()
	classification := patterns.Classify("target", nil, patterns.StructuralSignals{HasFingerprintDir: true})
	in := CandidateInput{
		Path:               "/data/projects/foo/target",
		SizeBytes:          5 * gib,
		Age:                30 * 24 * time.Hour,
		Classification:     classification,
		Signals:            patterns.StructuralSignals{HasFingerprintDir: true},
		LocationConfidence: 0.9,
		PressureMultiplier: 1.0,
	}
	score := e.ScoreCandidate(in)
	if score.Vetoed {
		t.Fatal("candidate should not be vetoed")
	}
	if len(score.Ledger.Terms) != 8 {
		t.Errorf("Ledger.Terms len = %d, want 8", len(score.Ledger.Terms))
	}
	if score.Ledger.Summary == "" {
		t.Error("Ledger.Summary should not be empty for a scored candidate")
	}
}

func TestScoreBatchSortsDescendingByScoreThenPathAscending(t *testing.T) {
	e := newEngine()
	low := CandidateInput{
		Path:               "/data/projects/b",
		SizeBytes:          1024,
		Age:                2 * time.Hour,
		Classification:     patterns.Classify("b", nil, patterns.StructuralSignals{}),
		LocationConfidence: 0.1,
		PressureMultiplier: 1.0,
	}
	high := CandidateInput{
		Path:               "/data/projects/a/target",
		SizeBytes:          5 * gib,
		Age:                30 * 24 * time.Hour,
		Classification:     patterns.Classify("target", nil, patterns.StructuralSignals{HasFingerprintDir: true}),
		Signals:            patterns.StructuralSignals{HasFingerprintDir: true},
		LocationConfidence: 0.9,
		PressureMultiplier: 1.0,
	}
	tieA := CandidateInput{Path: "/data/z", SizeBytes: gib, Age: 24 * time.Hour}
	tieB := CandidateInput{Path: "/data/a", SizeBytes: gib, Age: 24 * time.Hour}

	scores := e.ScoreBatch([]CandidateInput{low, high, tieA, tieB})

	if scores[0].Path != high.Path {
		t.Fatalf("scores[0].Path = %q, want highest-scoring candidate %q", scores[0].Path, high.Path)
	}
	for i := 1; i < len(scores); i++ {
		if scores[i].TotalScore > scores[i-1].TotalScore {
			t.Fatalf("ScoreBatch not sorted descending at index %d: %v > %v", i, scores[i].TotalScore, scores[i-1].TotalScore)
		}
	}
	// tieA and tieB share identical zero-value inputs, so they score
	// identically and must tie-break on path ascending.
	for i := 0; i < len(scores)-1; i++ {
		if scores[i].TotalScore == scores[i+1].TotalScore && scores[i].Path > scores[i+1].Path {
			t.Errorf("tie-break not ascending by path: %q before %q", scores[i].Path, scores[i+1].Path)
		}
	}
}

func TestActionString(t *testing.T) {
	if Delete.String() != "delete" {
		t.Errorf("Delete.String() = %q, want delete", Delete.String())
	}
	if Keep.String() != "keep" {
		t.Errorf("Keep.String() = %q, want keep", Keep.String())
	}
	if Review.String() != "review" {
		t.Errorf("Review.String() = %q, want review", Review.String())
	}
}
