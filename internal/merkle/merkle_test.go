package merkle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestMetadataHashDeterministic(t *testing.T) {
	e := EntrySnapshot{Path: "/a/b", SizeBytes: 100, ModifiedNanos: 123456, Inode: 7, DeviceID: 1, IsDir: true}
	h1 := e.MetadataHash()
	h2 := e.MetadataHash()
	if h1 != h2 {
		t.Error("MetadataHash() is not deterministic for identical input")
	}
}

func TestMetadataHashSensitiveToEachField(t *testing.T) {
	base := EntrySnapshot{Path: "/a/b", SizeBytes: 100, ModifiedNanos: 123456, Inode: 7, DeviceID: 1, IsDir: false}
	variants := []EntrySnapshot{
		{Path: "/a/c", SizeBytes: 100, ModifiedNanos: 123456, Inode: 7, DeviceID: 1},
		{Path: "/a/b", SizeBytes: 101, ModifiedNanos: 123456, Inode: 7, DeviceID: 1},
		{Path: "/a/b", SizeBytes: 100, ModifiedNanos: 999, Inode: 7, DeviceID: 1},
		{Path: "/a/b", SizeBytes: 100, ModifiedNanos: 123456, Inode: 8, DeviceID: 1},
		{Path: "/a/b", SizeBytes: 100, ModifiedNanos: 123456, Inode: 7, DeviceID: 2},
		{Path: "/a/b", SizeBytes: 100, ModifiedNanos: 123456, Inode: 7, DeviceID: 1, IsDir: true},
	}
	baseHash := base.MetadataHash()
	for i, v := range variants {
		if v.MetadataHash() == baseHash {
			t.Errorf("variant %d collided with base hash, expected a distinct hash", i)
		}
	}
}

func TestBuildFromEntriesDeepestFirst(t *testing.T) {
	entries := []EntrySnapshot{
		{Path: "/root", IsDir: true},
		{Path: "/root/a", IsDir: true},
		{Path: "/root/a/file.txt", IsDir: false, SizeBytes: 10},
	}
	idx := New()
	idx.BuildFromEntries(entries, []string{"/root"})

	if idx.Health != Healthy {
		t.Fatalf("Health = %v, want Healthy", idx.Health)
	}
	rootNode, ok := idx.Nodes["/root"]
	if !ok {
		t.Fatal("root node missing")
	}
	if len(rootNode.Children) != 1 || rootNode.Children[0] != "/root/a" {
		t.Errorf("root children = %v, want [/root/a]", rootNode.Children)
	}

	// The root's subtree hash must depend on the child's subtree hash:
	// changing the leaf must change every ancestor subtree hash.
	before := idx.Nodes["/root"].SubtreeHash

	entries[2].SizeBytes = 999
	idx.BuildFromEntries(entries, []string{"/root"})
	after := idx.Nodes["/root"].SubtreeHash

	if before == after {
		t.Error("root SubtreeHash unchanged after leaf mutation, expected propagation")
	}
}

func TestDiffDetectsChangedAndNew(t *testing.T) {
	idx := New()
	idx.BuildFromEntries([]EntrySnapshot{
		{Path: "/root/a", SizeBytes: 10},
	}, []string{"/root"})

	result, err := idx.Diff([]EntrySnapshot{
		{Path: "/root/a", SizeBytes: 20},
		{Path: "/root/b", SizeBytes: 5},
	}, nil)
	if err != nil {
		t.Fatalf("Diff returned error: %v", err)
	}
	if len(result.ChangedPaths) != 1 || result.ChangedPaths[0] != "/root/a" {
		t.Errorf("ChangedPaths = %v, want [/root/a]", result.ChangedPaths)
	}
	if len(result.NewPaths) != 1 || result.NewPaths[0] != "/root/b" {
		t.Errorf("NewPaths = %v, want [/root/b]", result.NewPaths)
	}
	if result.BudgetExhausted {
		t.Error("BudgetExhausted should be false for an unbounded diff")
	}
	if idx.Health != Healthy {
		t.Errorf("Health = %v, want Healthy", idx.Health)
	}
}

func TestDiffRejectsUninitialized(t *testing.T) {
	idx := New()
	if _, err := idx.Diff(nil, nil); err == nil {
		t.Error("Diff on Uninitialized index should return an error")
	}
}

func TestDiffComputesUnchangedAndRemoved(t *testing.T) {
	idx := New()
	idx.BuildFromEntries([]EntrySnapshot{
		{Path: "/root/a", SizeBytes: 10},
		{Path: "/root/b", SizeBytes: 20},
	}, []string{"/root"})

	result, err := idx.Diff([]EntrySnapshot{
		{Path: "/root/a", SizeBytes: 10},
	}, nil)
	if err != nil {
		t.Fatalf("Diff returned error: %v", err)
	}
	if result.UnchangedCount != 1 {
		t.Errorf("UnchangedCount = %d, want 1", result.UnchangedCount)
	}
	if len(result.RemovedPaths) != 1 || result.RemovedPaths[0] != "/root/b" {
		t.Errorf("RemovedPaths = %v, want [/root/b]", result.RemovedPaths)
	}
	if len(result.NewPaths) != 0 || len(result.ChangedPaths) != 0 {
		t.Errorf("expected no new/changed paths, got new=%v changed=%v", result.NewPaths, result.ChangedPaths)
	}
	if _, ok := idx.Snapshots["/root/b"]; ok {
		t.Error("removed path should be dropped from the snapshot map")
	}
}

func TestDiffDefersBeyondBudgetAndDegradesHealth(t *testing.T) {
	idx := New()
	idx.BuildFromEntries(nil, []string{"/root"})

	budget := NewScanBudget(1, 0)
	result, err := idx.Diff([]EntrySnapshot{
		{Path: "/root/a", SizeBytes: 1},
		{Path: "/root/b", SizeBytes: 2},
	}, budget)
	if err != nil {
		t.Fatalf("Diff returned error: %v", err)
	}
	if !result.BudgetExhausted {
		t.Error("BudgetExhausted should be true once the budget is used up")
	}
	if len(result.NewPaths)+len(result.DeferredPaths) != 2 {
		t.Errorf("expected one new and one deferred path, got new=%v deferred=%v", result.NewPaths, result.DeferredPaths)
	}
	if len(result.DeferredPaths) != 1 {
		t.Errorf("DeferredPaths = %v, want exactly one entry", result.DeferredPaths)
	}
	if idx.Health != Degraded {
		t.Errorf("Health = %v, want Degraded after budget exhaustion", idx.Health)
	}
}

func TestUpdateEntriesStopsAtRoot(t *testing.T) {
	entries := []EntrySnapshot{
		{Path: "/root", IsDir: true},
		{Path: "/root/a", IsDir: true},
		{Path: "/root/a/leaf", SizeBytes: 1},
	}
	idx := New()
	idx.BuildFromEntries(entries, []string{"/root"})

	beforeRoot := idx.Nodes["/root"].SubtreeHash

	idx.UpdateEntries([]EntrySnapshot{{Path: "/root/a/leaf", SizeBytes: 2}})

	afterRoot := idx.Nodes["/root"].SubtreeHash
	if beforeRoot == afterRoot {
		t.Error("root subtree hash should change after UpdateEntries touches a descendant")
	}
}

func TestSaveAndLoadCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := New()
	idx.BuildFromEntries([]EntrySnapshot{
		{Path: "/root", IsDir: true},
		{Path: "/root/a", SizeBytes: 42},
	}, []string{"/root"})

	cpPath := filepath.Join(dir, "checkpoint.json")
	if err := idx.SaveCheckpoint(cpPath); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := LoadCheckpoint(cpPath)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.Health != Healthy {
		t.Errorf("loaded Health = %v, want Healthy", loaded.Health)
	}
	if len(loaded.Nodes) != len(idx.Nodes) {
		t.Errorf("loaded %d nodes, want %d", len(loaded.Nodes), len(idx.Nodes))
	}
}

func TestLoadCheckpointDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	idx := New()
	idx.BuildFromEntries([]EntrySnapshot{{Path: "/root", IsDir: true}}, []string{"/root"})

	cpPath := filepath.Join(dir, "checkpoint.json")
	if err := idx.SaveCheckpoint(cpPath); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	raw, err := os.ReadFile(cpPath)
	if err != nil {
		t.Fatalf("could not read checkpoint file: %v", err)
	}
	var cp map[string]interface{}
	if err := json.Unmarshal(raw, &cp); err != nil {
		t.Fatalf("could not unmarshal checkpoint file: %v", err)
	}
	cp["integrity_hash"] = "0000000000000000000000000000000000000000000000000000000000000000"
	corrupted, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("could not marshal corrupted checkpoint: %v", err)
	}
	if err := os.WriteFile(cpPath, corrupted, 0o600); err != nil {
		t.Fatalf("could not write corrupted checkpoint: %v", err)
	}

	loaded, err := LoadCheckpoint(cpPath)
	if err != nil {
		t.Fatalf("LoadCheckpoint should degrade, not error: %v", err)
	}
	if loaded.Health != Corrupt {
		t.Errorf("Health = %v, want Corrupt after integrity hash mismatch", loaded.Health)
	}
}

func TestScanBudget(t *testing.T) {
	b := NewScanBudget(2, 0)
	if !b.TryConsume() || !b.TryConsume() {
		t.Fatal("expected first two TryConsume calls to succeed")
	}
	if b.TryConsume() {
		t.Error("third TryConsume should fail once budget is exhausted")
	}
	if !b.IsExhausted() {
		t.Error("IsExhausted() should be true")
	}
}
