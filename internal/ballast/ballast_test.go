package ballast

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"sbh/internal/platform"
	"sbh/internal/sbhconfig"
)

func TestProvisionStrategyFor(t *testing.T) {
	tests := []struct {
		fsType string
		want   ProvisionStrategy
	}{
		{"ext4", StrategyFallocate},
		{"xfs", StrategyFallocate},
		{"btrfs", StrategyRandomData},
		{"tmpfs", StrategySkip},
		{"nfs4", StrategySkip},
		{"exotic-fs", StrategyRandomData},
	}
	for _, tt := range tests {
		if got := ProvisionStrategyFor(tt.fsType); got != tt.want {
			t.Errorf("ProvisionStrategyFor(%q) = %v, want %v", tt.fsType, got, tt.want)
		}
	}
}

func TestManagerProvisionCreatesFilesWithHeader(t *testing.T) {
	mount := t.TempDir()
	mgr := NewManager(mount, 3, HeaderSize+1024, platform.NewMockPlatform())
	mgr.SetSkipFallocate(true)

	report, err := mgr.Provision(StrategyRandomData)
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if report.FilesCreated != 3 {
		t.Fatalf("FilesCreated = %d, want 3", report.FilesCreated)
	}
	if mgr.Pool().AvailableCount() != 3 {
		t.Errorf("AvailableCount() = %d, want 3", mgr.Pool().AvailableCount())
	}

	for i := 0; i < 3; i++ {
		path := filepath.Join(mount, BallastSubdir, fmt.Sprintf("ballast-%04d.bin", i))
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("ballast file %d missing: %v", i, err)
		}
		if info.Size() != HeaderSize+1024 {
			t.Errorf("file %d size = %d, want %d", i, info.Size(), HeaderSize+1024)
		}
	}
}

func TestManagerProvisionSkipsAlreadyExisting(t *testing.T) {
	mount := t.TempDir()
	mgr := NewManager(mount, 2, HeaderSize+512, platform.NewMockPlatform())
	mgr.SetSkipFallocate(true)

	if _, err := mgr.Provision(StrategyRandomData); err != nil {
		t.Fatalf("first Provision failed: %v", err)
	}
	report, err := mgr.Provision(StrategyRandomData)
	if err != nil {
		t.Fatalf("second Provision failed: %v", err)
	}
	if report.FilesCreated != 0 {
		t.Errorf("re-provisioning an already-provisioned pool created %d files, want 0", report.FilesCreated)
	}
}

func TestManagerProvisionRejectsUndersizedFile(t *testing.T) {
	mount := t.TempDir()
	mgr := NewManager(mount, 1, HeaderSize-1, platform.NewMockPlatform())
	if _, err := mgr.Provision(StrategyRandomData); err == nil {
		t.Error("Provision should reject a file size smaller than HeaderSize")
	}
}

func TestManagerReleaseAndReplenish(t *testing.T) {
	mount := t.TempDir()
	mgr := NewManager(mount, 2, HeaderSize+256, platform.NewMockPlatform())
	mgr.SetSkipFallocate(true)
	if _, err := mgr.Provision(StrategyRandomData); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	releaseReport, err := mgr.Release(1)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if releaseReport.FilesReleased != 1 {
		t.Fatalf("FilesReleased = %d, want 1", releaseReport.FilesReleased)
	}
	if mgr.Pool().AvailableCount() != 1 {
		t.Errorf("AvailableCount() after release = %d, want 1", mgr.Pool().AvailableCount())
	}

	replenishReport, err := mgr.Replenish(1, StrategyRandomData)
	if err != nil {
		t.Fatalf("Replenish failed: %v", err)
	}
	if replenishReport.FilesCreated != 1 {
		t.Errorf("FilesCreated = %d, want 1 after replenish", replenishReport.FilesCreated)
	}
	if mgr.Pool().AvailableCount() != 2 {
		t.Errorf("AvailableCount() after replenish = %d, want 2", mgr.Pool().AvailableCount())
	}
}

func TestFilesToRelease(t *testing.T) {
	tests := []struct {
		urgency   float64
		available int
		want      int
	}{
		{0.1, 5, 0},
		{0.4, 5, 1},
		{0.4, 0, 0},
		{0.7, 5, 3},
		{0.7, 2, 2},
		{0.95, 5, 5},
	}
	for _, tt := range tests {
		if got := FilesToRelease(tt.urgency, tt.available); got != tt.want {
			t.Errorf("FilesToRelease(%v, %d) = %d, want %d", tt.urgency, tt.available, got, tt.want)
		}
	}
}

func TestReleaseControllerReplenishRequiresSustainedGreen(t *testing.T) {
	rc := NewReleaseController(30)
	mount := t.TempDir()
	mgr := NewManager(mount, 1, HeaderSize+64, platform.NewMockPlatform())
	mgr.SetSkipFallocate(true)
	mgr.Provision(StrategyRandomData)
	mgr.Release(1)

	report, err := rc.MaybeReplenish(mgr, true, StrategyRandomData)
	if err != nil {
		t.Fatalf("MaybeReplenish failed: %v", err)
	}
	if report.FilesCreated != 0 {
		t.Error("first Green observation should only start the cooldown clock, not replenish immediately")
	}
}

func TestReleaseControllerResetsGreenClockOnNonGreen(t *testing.T) {
	rc := NewReleaseController(30)
	mount := t.TempDir()
	mgr := NewManager(mount, 1, HeaderSize+64, platform.NewMockPlatform())

	rc.MaybeReplenish(mgr, true, StrategyRandomData)
	if rc.greenSince == nil {
		t.Fatal("greenSince should be set after first Green observation")
	}
	rc.MaybeReplenish(mgr, false, StrategyRandomData)
	if rc.greenSince != nil {
		t.Error("greenSince should reset to nil on a non-Green observation")
	}
}

func TestCoordinatorDiscoverSkipsRAMVolumes(t *testing.T) {
	mock := platform.NewMockPlatform()
	mock.Mounts = []platform.MountPoint{
		{Path: "/", Device: "/dev/sda1", FsType: "ext4"},
		{Path: "/mnt/ram", Device: "tmpfs", FsType: "tmpfs"},
	}
	cfg := sbhconfig.DefaultBallastConfig()
	c := NewCoordinator(cfg, mock)
	if err := c.Discover([]string{"/data", "/mnt/ram/cache"}); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(c.Managers()) != 1 {
		t.Fatalf("Managers() = %d, want 1 (RAM-backed mount should be skipped)", len(c.Managers()))
	}
	if _, ok := c.Managers()["/"]; !ok {
		t.Error("expected a manager for the / mount")
	}
}
