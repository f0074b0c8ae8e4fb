// Package ballast implements the ballast pool coordinator and manager
// (component K) plus the pressure-driven release controller (component
// L). Ported from the original ballast coordinator/manager/release
// modules: per-mount-point pools, filesystem-aware provisioning
// strategy, a 4096-byte header + data file format, and graduated
// release/replenish policy gated on sustained Green pressure.
package ballast

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"sbh/internal/errs"
	"sbh/internal/platform"
	"sbh/internal/sbhconfig"
)

const (
	BallastSubdir    = ".sbh/ballast"
	HeaderSize       = 4096
	Magic            = "SBH_BALLAST_v1"
	ChunkSize        = 4 * 1024 * 1024
	FsyncEveryBytes  = 64 * 1024 * 1024
	MinFreePct       = 20.0
)

var fallocateFriendly = map[string]bool{"ext4": true, "xfs": true, "ext3": true, "ext2": true}
var cowFilesystems = map[string]bool{"btrfs": true, "zfs": true, "bcachefs": true}

type ProvisionStrategy int

const (
	StrategyFallocate ProvisionStrategy = iota
	StrategyRandomData
	StrategySkip
)

// ProvisionStrategyFor determines how ballast files should be created on
// a given filesystem type.
func ProvisionStrategyFor(fsType string) ProvisionStrategy {
	switch {
	case platform.IsRAMFilesystem(fsType), platform.IsNetworkFilesystem(fsType):
		return StrategySkip
	case cowFilesystems[fsType]:
		return StrategyRandomData
	case fallocateFriendly[fsType]:
		return StrategyFallocate
	default:
		return StrategyRandomData
	}
}

type Header struct {
	Magic     string    `json:"magic"`
	Index     int       `json:"index"`
	CreatedAt time.Time `json:"created_at"`
}

type FileState struct {
	Index      int
	Path       string
	SizeBytes  int64
	Present    bool
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// Pool tracks one mount point's ballast files.
type Pool struct {
	MountPath string
	Dir       string
	FileCount int
	FileSize  int64
	Files     []FileState
}

func (p *Pool) ReleasableBytes() int64 {
	var total int64
	for _, f := range p.Files {
		if f.Present {
			total += f.SizeBytes
		}
	}
	return total
}

func (p *Pool) AvailableCount() int {
	n := 0
	for _, f := range p.Files {
		if f.Present {
			n++
		}
	}
	return n
}

func (p *Pool) ExpectedCount() int { return p.FileCount }

type ProvisionReport struct {
	MountPath      string
	FilesCreated   int
	BytesAllocated int64
	SkipReason     string
}

// Manager provisions, releases, verifies, and replenishes ballast files
// on a single mount point.
type Manager struct {
	pool          *Pool
	plat          platform.Platform
	skipFallocate bool
}

func NewManager(mountPath string, fileCount int, fileSizeBytes int64, plat platform.Platform) *Manager {
	dir := filepath.Join(mountPath, BallastSubdir)
	return &Manager{
		pool: &Pool{
			MountPath: mountPath,
			Dir:       dir,
			FileCount: fileCount,
			FileSize:  fileSizeBytes,
		},
		plat: plat,
	}
}

func (m *Manager) SetSkipFallocate(v bool) { m.skipFallocate = v }

func (m *Manager) Pool() *Pool { return m.pool }

func (m *Manager) filePath(index int) string {
	return filepath.Join(m.pool.Dir, fmt.Sprintf("ballast-%04d.bin", index))
}

// Provision creates up to FileCount ballast files, each FileSize bytes
// (inclusive of the fixed HeaderSize header). A strategy of Skip is a
// caller error — the coordinator is expected to filter those volumes
// out before calling Provision.
func (m *Manager) Provision(strategy ProvisionStrategy) (ProvisionReport, error) {
	if m.pool.FileSize < HeaderSize {
		return ProvisionReport{}, errs.NewInvalidConfig(
			fmt.Sprintf("file_size_bytes (%d) must be >= HEADER_SIZE (%d)", m.pool.FileSize, HeaderSize))
	}
	if err := os.MkdirAll(m.pool.Dir, 0o700); err != nil {
		return ProvisionReport{}, errs.NewIO(m.pool.Dir, err)
	}

	report := ProvisionReport{MountPath: m.pool.MountPath}
	for i := 0; i < m.pool.FileCount; i++ {
		path := m.filePath(i)
		if _, err := os.Stat(path); err == nil {
			continue // already provisioned
		}
		if err := m.provisionOne(path, i, strategy); err != nil {
			return report, err
		}
		report.FilesCreated++
		report.BytesAllocated += m.pool.FileSize
		m.pool.Files = append(m.pool.Files, FileState{
			Index: i, Path: path, SizeBytes: m.pool.FileSize, Present: true, CreatedAt: time.Now(),
		})
	}
	return report, nil
}

func (m *Manager) provisionOne(path string, index int, strategy ProvisionStrategy) error {
	header := Header{Magic: Magic, Index: index, CreatedAt: time.Now()}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errs.New(errs.Serialization, "", "ballast_header", err.Error(), err)
	}
	if len(headerJSON) > HeaderSize {
		return errs.NewRuntime("ballast header exceeds HEADER_SIZE")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errs.NewIO(path, err)
	}
	defer f.Close()

	headerBuf := make([]byte, HeaderSize)
	copy(headerBuf, headerJSON)
	if _, err := f.Write(headerBuf); err != nil {
		return errs.NewIO(path, err)
	}

	dataSize := m.pool.FileSize - HeaderSize
	if strategy == StrategyFallocate && !m.skipFallocate {
		if err := unix.Fallocate(int(f.Fd()), 0, HeaderSize, dataSize); err == nil {
			return nil
		}
		// fall through to random-data write on fallocate failure
	}

	return writeRandomData(f, dataSize)
}

func writeRandomData(f *os.File, total int64) error {
	buf := make([]byte, ChunkSize)
	var written int64
	var sinceSync int64
	for written < total {
		n := int64(len(buf))
		if remaining := total - written; remaining < n {
			n = remaining
		}
		if _, err := rand.Read(buf[:n]); err != nil {
			return errs.NewIO(f.Name(), err)
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return errs.NewIO(f.Name(), err)
		}
		written += n
		sinceSync += n
		if sinceSync >= FsyncEveryBytes {
			if err := f.Sync(); err != nil {
				return errs.NewIO(f.Name(), err)
			}
			sinceSync = 0
		}
	}
	return f.Sync()
}

type ReleaseReport struct {
	FilesReleased int
	BytesFreed    int64
}

// Release deletes up to n present ballast files, freeing their space.
func (m *Manager) Release(n int) (ReleaseReport, error) {
	var report ReleaseReport
	for i := range m.pool.Files {
		if report.FilesReleased >= n {
			break
		}
		f := &m.pool.Files[i]
		if !f.Present {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			return report, errs.NewIO(f.Path, err)
		}
		now := time.Now()
		f.Present = false
		f.ReleasedAt = &now
		report.FilesReleased++
		report.BytesFreed += f.SizeBytes
	}
	return report, nil
}

// Replenish re-provisions up to n previously-released files.
func (m *Manager) Replenish(n int, strategy ProvisionStrategy) (ProvisionReport, error) {
	report := ProvisionReport{MountPath: m.pool.MountPath}
	replenished := 0
	for i := range m.pool.Files {
		if replenished >= n {
			break
		}
		f := &m.pool.Files[i]
		if f.Present {
			continue
		}
		if err := m.provisionOne(f.Path, f.Index, strategy); err != nil {
			return report, err
		}
		f.Present = true
		f.ReleasedAt = nil
		replenished++
		report.FilesCreated++
		report.BytesAllocated += f.SizeBytes
	}
	return report, nil
}

// Coordinator discovers and manages one Manager per watched mount point.
type Coordinator struct {
	cfg      sbhconfig.BallastConfig
	plat     platform.Platform
	managers map[string]*Manager
}

func NewCoordinator(cfg sbhconfig.BallastConfig, plat platform.Platform) *Coordinator {
	return &Coordinator{cfg: cfg, plat: plat, managers: map[string]*Manager{}}
}

// Discover builds a Manager per distinct mount point backing
// watchedPaths, skipping RAM-backed and network filesystems and any
// volume disabled via a per-mount override.
func (c *Coordinator) Discover(watchedPaths []string) error {
	mounts, err := c.plat.MountPoints()
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, wp := range watchedPaths {
		mp := platform.FindMount(wp, mountsToPlatformList(mounts))
		if mp == nil {
			continue
		}
		if seen[mp.Path] {
			continue
		}
		seen[mp.Path] = true

		if !c.cfg.IsVolumeEnabled(mp.Path) {
			continue
		}
		strategy := ProvisionStrategyFor(mp.FsType)
		if strategy == StrategySkip {
			continue
		}

		fileCount := c.cfg.EffectiveFileCount(mp.Path)
		fileSize := c.cfg.EffectiveFileSizeBytes(mp.Path)
		c.managers[mp.Path] = NewManager(mp.Path, fileCount, fileSize, c.plat)
	}
	return nil
}

func mountsToPlatformList(mounts []platform.MountPoint) []platform.MountPoint { return mounts }

func (c *Coordinator) Managers() map[string]*Manager { return c.managers }

// ProvisionAll provisions every discovered pool whose volume currently
// has enough free space headroom (free_pct >= MinFreePct before
// allocating), skipping and reporting the rest.
func (c *Coordinator) ProvisionAll() (map[string]ProvisionReport, []string) {
	reports := map[string]ProvisionReport{}
	var skipped []string
	for mount, mgr := range c.managers {
		stats, err := c.plat.FsStats(mount)
		if err != nil || stats.FreePct() < MinFreePct {
			skipped = append(skipped, mount)
			continue
		}
		strategy := ProvisionStrategyFor(fsTypeOf(c.plat, mount))
		report, err := mgr.Provision(strategy)
		if err != nil {
			skipped = append(skipped, mount)
			continue
		}
		reports[mount] = report
	}
	return reports, skipped
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

// ── release controller (component L) ──

// FilesToRelease computes a graduated release count by urgency in
// [0,1]: <0.3 -> 0, <0.6 -> min(1,available), <0.9 -> min(3,available),
// else -> all available.
func FilesToRelease(urgency float64, available int) int {
	switch {
	case urgency < 0.3:
		return 0
	case urgency < 0.6:
		return min(1, available)
	case urgency < 0.9:
		return min(3, available)
	default:
		return available
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ReleaseController gates replenishment on a sustained-Green cooldown
// and a minimum inter-file interval, mirroring the original
// BallastReleaseController.
type ReleaseController struct {
	replenishCooldown     time.Duration
	replenishInterval     time.Duration
	lastReleaseTime       time.Time
	greenSince            *time.Time
	lastReplenishTime     time.Time
	filesReleasedSinceGreen int
}

func NewReleaseController(cooldownMinutes int) *ReleaseController {
	return &ReleaseController{
		replenishCooldown: time.Duration(cooldownMinutes) * time.Minute,
		replenishInterval: 5 * time.Minute,
	}
}

// MaybeRelease releases files_to_release(urgency) files from mgr,
// tracking last-release bookkeeping for the replenish gate.
func (rc *ReleaseController) MaybeRelease(mgr *Manager, urgency float64) (ReleaseReport, error) {
	n := FilesToRelease(urgency, mgr.Pool().AvailableCount())
	if n == 0 {
		return ReleaseReport{}, nil
	}
	report, err := mgr.Release(n)
	if err != nil {
		return report, err
	}
	if report.FilesReleased > 0 {
		rc.lastReleaseTime = time.Now()
		rc.filesReleasedSinceGreen += report.FilesReleased
		rc.greenSince = nil
	}
	return report, nil
}

// MaybeReplenish replenishes released files only while pressure has been
// continuously Green for at least the cooldown, and only one file per
// ReplenishInterval.
func (rc *ReleaseController) MaybeReplenish(mgr *Manager, isGreen bool, strategy ProvisionStrategy) (ProvisionReport, error) {
	if !isGreen {
		rc.greenSince = nil
		return ProvisionReport{}, nil
	}
	now := time.Now()
	if rc.greenSince == nil {
		rc.greenSince = &now
		return ProvisionReport{}, nil
	}
	if now.Sub(*rc.greenSince) < rc.replenishCooldown {
		return ProvisionReport{}, nil
	}
	if now.Sub(rc.lastReplenishTime) < rc.replenishInterval {
		return ProvisionReport{}, nil
	}
	report, err := mgr.Replenish(1, strategy)
	if err == nil && report.FilesCreated > 0 {
		rc.lastReplenishTime = now
	}
	return report, err
}
