package walker

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// OpenFileSet is the set of (device, inode) pairs currently open by any
// process, gathered from /proc/<pid>/fd, budgeted by PID count so a
// pathological process table cannot stall a scan.
type OpenFileSet struct {
	inodes map[[2]uint64]bool
}

// CollectOpenFiles walks /proc/<pid>/fd for every PID, up to maxPids,
// recording the (device, inode) of each open file descriptor's target.
func CollectOpenFiles(maxPids int) OpenFileSet {
	set := OpenFileSet{inodes: map[[2]uint64]bool{}}
	procEntries, err := os.ReadDir("/proc")
	if err != nil {
		return set
	}
	checked := 0
	for _, e := range procEntries {
		if checked >= maxPids {
			break
		}
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		checked++
		fdDir := filepath.Join("/proc", e.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			info, err := os.Stat(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				set.inodes[[2]uint64{uint64(st.Dev), st.Ino}] = true
			}
		}
	}
	return set
}

func (s OpenFileSet) IsOpen(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return s.inodes[[2]uint64{uint64(st.Dev), st.Ino}]
}

// AncestorOpenChecker implements deletion.OpenFileChecker against a
// pre-collected OpenFileSet, checking the path and its ancestors up to
// rootPaths (an open file inside a directory keeps the whole ancestor
// chain from being deleted).
type AncestorOpenChecker struct {
	Set       OpenFileSet
	RootPaths []string
}

func (c AncestorOpenChecker) IsPathOpen(path string) bool {
	p := path
	for {
		if c.Set.IsOpen(p) {
			return true
		}
		isRoot := false
		for _, root := range c.RootPaths {
			if p == root {
				isRoot = true
			}
		}
		if isRoot {
			return false
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false
		}
		p = parent
	}
}
