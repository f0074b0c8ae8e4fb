// Package platform is the OS-facing seam the rest of sbh depends on
// instead of calling syscalls directly. The real implementation is
// Linux-only and built on golang.org/x/sys/unix, following the same
// shape as the teacher's collector/filesystem.go (/proc/mounts parsing,
// syscall.Statfs). A mock implementation lives alongside it for tests.
package platform

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"sbh/internal/errs"
)

type FsStats struct {
	TotalBytes  uint64
	FreeBytes   uint64
	AvailBytes  uint64
	TotalInodes uint64
	FreeInodes  uint64
}

func (s FsStats) FreePct() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.AvailBytes) / float64(s.TotalBytes) * 100.0
}

type MountPoint struct {
	Path   string
	Device string
	FsType string
}

type MemoryInfo struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

type PlatformPaths struct {
	ConfigDir string
	DataDir   string
	StateDir  string
}

// Platform abstracts the OS-level operations sbh depends on.
type Platform interface {
	FsStats(path string) (FsStats, error)
	MountPoints() ([]MountPoint, error)
	IsRamBacked(path string) (bool, error)
	DefaultPaths() PlatformPaths
	MemoryInfo() (MemoryInfo, error)
}

var ramFilesystems = map[string]bool{
	"tmpfs": true, "ramfs": true, "devtmpfs": true,
}

var networkFilesystems = map[string]bool{
	"nfs": true, "nfs4": true, "cifs": true, "smbfs": true, "fuse.sshfs": true,
}

// IsRAMFilesystem reports whether an fstype is a RAM-backed pseudo filesystem.
func IsRAMFilesystem(fsType string) bool { return ramFilesystems[fsType] }

// IsNetworkFilesystem reports whether an fstype is a network filesystem.
func IsNetworkFilesystem(fsType string) bool { return networkFilesystems[fsType] }

// LinuxPlatform is the real Platform implementation.
type LinuxPlatform struct{}

func NewLinuxPlatform() *LinuxPlatform { return &LinuxPlatform{} }

func (LinuxPlatform) FsStats(path string) (FsStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FsStats{}, errs.NewFsStats(path, err.Error())
	}
	bsize := uint64(st.Bsize)
	return FsStats{
		TotalBytes:  st.Blocks * bsize,
		FreeBytes:   st.Bfree * bsize,
		AvailBytes:  st.Bavail * bsize,
		TotalInodes: st.Files,
		FreeInodes:  st.Ffree,
	}, nil
}

func (LinuxPlatform) MountPoints() ([]MountPoint, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, errs.NewIO("/proc/mounts", err)
	}
	defer f.Close()

	var mounts []MountPoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mounts = append(mounts, MountPoint{
			Device: unescapeMountField(fields[0]),
			Path:   unescapeMountField(fields[1]),
			FsType: fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.New(errs.MountParse, "", "", err.Error(), err)
	}
	return mounts, nil
}

func unescapeMountField(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+3 < len(raw) {
			if v, err := strconv.ParseUint(raw[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

func (p LinuxPlatform) IsRamBacked(path string) (bool, error) {
	mounts, err := p.MountPoints()
	if err != nil {
		return false, err
	}
	m := FindMount(path, mounts)
	if m == nil {
		return false, nil
	}
	return IsRAMFilesystem(m.FsType), nil
}

// FindMount returns the mount point with the longest matching path prefix.
func FindMount(path string, mounts []MountPoint) *MountPoint {
	var best *MountPoint
	for i := range mounts {
		m := &mounts[i]
		if strings.HasPrefix(path, m.Path) {
			if best == nil || len(m.Path) > len(best.Path) {
				best = m
			}
		}
	}
	return best
}

func (LinuxPlatform) DefaultPaths() PlatformPaths {
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}
	return PlatformPaths{
		ConfigDir: home + "/.config/sbh",
		DataDir:   home + "/.local/share/sbh",
		StateDir:  home + "/.local/state/sbh",
	}
}

func (LinuxPlatform) MemoryInfo() (MemoryInfo, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return MemoryInfo{}, errs.NewIO("/proc/meminfo", err)
	}
	var total, avail uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, perr := strconv.ParseUint(fields[1], 10, 64)
		if perr != nil {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			total = v * 1024
		case "MemAvailable":
			avail = v * 1024
		}
	}
	if total == 0 {
		return MemoryInfo{}, errs.New(errs.Runtime, "", "meminfo", "MemTotal not found", nil)
	}
	return MemoryInfo{TotalBytes: total, AvailableBytes: avail}, nil
}

// MockPlatform is a fully in-memory Platform used in tests.
type MockPlatform struct {
	Stats   map[string]FsStats
	Mounts  []MountPoint
	RamDirs map[string]bool
	Paths   PlatformPaths
	Mem     MemoryInfo
}

func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		Stats:   map[string]FsStats{},
		RamDirs: map[string]bool{},
	}
}

func (m *MockPlatform) FsStats(path string) (FsStats, error) {
	if s, ok := m.Stats[path]; ok {
		return s, nil
	}
	return FsStats{}, fmt.Errorf("no mock stats for %s", path)
}

func (m *MockPlatform) MountPoints() ([]MountPoint, error) { return m.Mounts, nil }

func (m *MockPlatform) IsRamBacked(path string) (bool, error) { return m.RamDirs[path], nil }

func (m *MockPlatform) DefaultPaths() PlatformPaths { return m.Paths }

func (m *MockPlatform) MemoryInfo() (MemoryInfo, error) { return m.Mem, nil }
