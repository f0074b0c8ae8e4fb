package protection

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMarkerProtectsDirectoryAndDescendants(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "project")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := CreateMarker(target); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}

	r := MarkerOnly()
	if _, err := os.Lstat(filepath.Join(target, MarkerFilename)); err != nil {
		t.Fatalf("marker file should exist: %v", err)
	}
	r.RegisterMarker(target)

	if !r.IsProtected(target) {
		t.Error("marked directory itself should be protected")
	}
	nested := filepath.Join(target, "sub", "deep")
	if !r.IsProtected(nested) {
		t.Error("descendant of a marked directory should be protected")
	}
	if r.IsProtected(dir) {
		t.Error("ancestor of the marked directory should not be protected")
	}
}

func TestRegisterMarkerReturnsFalseOnDuplicate(t *testing.T) {
	r := MarkerOnly()
	if !r.RegisterMarker("/a/b") {
		t.Error("first RegisterMarker call should return true")
	}
	if r.RegisterMarker("/a/b") {
		t.Error("duplicate RegisterMarker call should return false")
	}
	if r.MarkerCount() != 1 {
		t.Errorf("MarkerCount() = %d, want 1", r.MarkerCount())
	}
}

func TestGlobPatternSingleStar(t *testing.T) {
	r, err := New([]string{"/data/*/important"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !r.IsProtected("/data/proj1/important") {
		t.Error("pattern /data/*/important should match /data/proj1/important")
	}
	if r.IsProtected("/data/proj1/sub/important") {
		t.Error("single-star pattern should not match across path components")
	}
}

func TestGlobPatternDoubleStar(t *testing.T) {
	r, err := New([]string{"/data/**/important"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !r.IsProtected("/data/a/b/c/important") {
		t.Error("double-star pattern should match across multiple path components")
	}
}

func TestProtectionReasonDescribesSource(t *testing.T) {
	dir := t.TempDir()
	r := MarkerOnly()
	r.RegisterMarker(dir)
	reason := r.ProtectionReason(filepath.Join(dir, "child"))
	if reason == "" {
		t.Fatal("ProtectionReason should be non-empty for a protected path")
	}
	if got := r.ProtectionReason(filepath.Join(dir, "..", "unrelated-elsewhere")); got != "" {
		t.Errorf("ProtectionReason() = %q, want empty for unprotected path", got)
	}
}

func TestDiscoverMarkersRespectsMaxDepth(t *testing.T) {
	root := t.TempDir()
	shallow := filepath.Join(root, "shallow")
	deep := filepath.Join(root, "a", "b", "c", "deep")
	if err := os.MkdirAll(shallow, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := CreateMarker(shallow); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}
	if err := CreateMarker(deep); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}

	r := MarkerOnly()
	found, err := r.DiscoverMarkers(root, 1)
	if err != nil {
		t.Fatalf("DiscoverMarkers failed: %v", err)
	}
	if found != 1 {
		t.Errorf("DiscoverMarkers found %d markers within depth 1, want 1 (only shallow)", found)
	}
	if !r.IsProtected(shallow) {
		t.Error("shallow marker should have been discovered")
	}
	if r.IsProtected(deep) {
		t.Error("deep marker beyond maxDepth should not have been discovered")
	}
}
