// Package merkle implements the incremental scan index: a Merkle tree
// over directory metadata that lets the walker re-hash only the
// subtrees that changed since the last scan. Ported from the original
// scanner's merkle index (hashing scheme, checkpoint format, health
// states) into Go idiom: atomic checkpoint write via temp file + rename,
// like the teacher's daemon.go writeSummaryLine rotation pattern.
package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"sbh/internal/errs"
)

type Hash [32]byte

var ZeroHash Hash

type IndexHealth int

const (
	Uninitialized IndexHealth = iota
	Healthy
	Degraded
	Corrupt
)

func (h IndexHealth) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Corrupt:
		return "corrupt"
	default:
		return "uninitialized"
	}
}

// EntrySnapshot is the metadata captured for one walked filesystem entry.
// CreatedAtNanos and Mode are carried for scoring/audit purposes only;
// they are not part of MetadataHash so adding them never perturbs the
// Merkle tree's existing hash chain.
type EntrySnapshot struct {
	Path           string
	SizeBytes      uint64
	ModifiedNanos  uint64 // nanoseconds since Unix epoch (truncated from ns/u128 in the original)
	CreatedAtNanos uint64
	Inode          uint64
	DeviceID       uint64
	IsDir          bool
	Mode           os.FileMode
}

// MetadataHash computes SHA256 over the fixed-order field encoding:
// path bytes, size (LE u64), modified time (LE, 16 bytes as in the
// original u128 encoding, high 8 bytes zero), inode (LE u64), device id
// (LE u64), is_dir as a single byte.
func (e EntrySnapshot) MetadataHash() Hash {
	h := sha256.New()
	h.Write([]byte(e.Path))

	var buf8 [8]byte
	binary.LittleEndian.PutUint64(buf8[:], e.SizeBytes)
	h.Write(buf8[:])

	var buf16 [16]byte
	binary.LittleEndian.PutUint64(buf16[:8], e.ModifiedNanos)
	h.Write(buf16[:])

	binary.LittleEndian.PutUint64(buf8[:], e.Inode)
	h.Write(buf8[:])

	binary.LittleEndian.PutUint64(buf8[:], e.DeviceID)
	h.Write(buf8[:])

	if e.IsDir {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Node is one directory's entry in the Merkle tree.
type Node struct {
	MetadataHash Hash
	SubtreeHash  Hash
	Depth        int
	Children     []string
}

// ScanBudget caps subtree rehashing per scan pass. MaxCheckpointBytes is
// recorded but no operation checks a checkpoint's size against it.
type ScanBudget struct {
	MaxSubtreeUpdates int
	MaxCheckpointBytes int
	updatesUsed       int
}

func NewScanBudget(maxSubtreeUpdates, maxCheckpointBytes int) *ScanBudget {
	return &ScanBudget{MaxSubtreeUpdates: maxSubtreeUpdates, MaxCheckpointBytes: maxCheckpointBytes}
}

func (b *ScanBudget) TryConsume() bool {
	if b.MaxSubtreeUpdates > 0 && b.updatesUsed >= b.MaxSubtreeUpdates {
		return false
	}
	b.updatesUsed++
	return true
}

func (b *ScanBudget) Remaining() int {
	if b.MaxSubtreeUpdates == 0 {
		return -1
	}
	r := b.MaxSubtreeUpdates - b.updatesUsed
	if r < 0 {
		return 0
	}
	return r
}

func (b *ScanBudget) IsExhausted() bool {
	return b.MaxSubtreeUpdates > 0 && b.updatesUsed >= b.MaxSubtreeUpdates
}

const checkpointVersion = 1

type checkpointFile struct {
	Version       int                      `json:"version"`
	BuiltAtNanos  int64                    `json:"built_at_nanos"`
	IntegrityHash string                   `json:"integrity_hash"`
	Nodes         map[string]Node          `json:"nodes"`
	Snapshots     map[string]EntrySnapshot `json:"snapshots"`
	RootPaths     []string                 `json:"root_paths"`
	Health        IndexHealth              `json:"health"`
}

// Index is the in-memory Merkle scan index.
type Index struct {
	Nodes     map[string]Node
	Snapshots map[string]EntrySnapshot
	RootPaths []string
	Health    IndexHealth
	BuiltAt   time.Time
}

func New() *Index {
	return &Index{
		Nodes:     map[string]Node{},
		Snapshots: map[string]EntrySnapshot{},
		Health:    Uninitialized,
	}
}

// BuildFromEntries constructs the full tree from a flat entry list,
// processing deepest-first so every parent is hashed strictly after its
// children.
func (idx *Index) BuildFromEntries(entries []EntrySnapshot, rootPaths []string) {
	idx.Snapshots = map[string]EntrySnapshot{}
	idx.Nodes = map[string]Node{}
	idx.RootPaths = append([]string(nil), rootPaths...)

	childrenOf := map[string][]string{}
	depthOf := map[string]int{}

	for _, e := range entries {
		idx.Snapshots[e.Path] = e
		parent := filepath.Dir(e.Path)
		if parent != e.Path {
			childrenOf[parent] = append(childrenOf[parent], e.Path)
		}
		depthOf[e.Path] = depthFor(e.Path, rootPaths)
	}

	order := make([]string, 0, len(entries))
	for _, e := range entries {
		order = append(order, e.Path)
	}
	sort.Slice(order, func(i, j int) bool {
		return depthOf[order[i]] > depthOf[order[j]]
	})

	for _, path := range order {
		e := idx.Snapshots[path]
		kids := childrenOf[path]
		sort.Strings(kids)
		node := Node{
			MetadataHash: e.MetadataHash(),
			Depth:        depthOf[path],
			Children:     kids,
		}
		node.SubtreeHash = computeSubtreeHash(node.MetadataHash, kids, idx.Nodes)
		idx.Nodes[path] = node
	}

	idx.Health = Healthy
	idx.BuiltAt = time.Now()
}

func depthFor(path string, rootPaths []string) int {
	for _, root := range rootPaths {
		if path == root {
			return 0
		}
	}
	depth := 0
	for p := path; ; {
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		depth++
		p = parent
		for _, root := range rootPaths {
			if p == root {
				return depth
			}
		}
	}
	return depth
}

func computeSubtreeHash(metaHash Hash, children []string, nodes map[string]Node) Hash {
	h := sha256.New()
	h.Write(metaHash[:])
	for _, c := range children {
		if n, ok := nodes[c]; ok {
			h.Write(n.SubtreeHash[:])
		}
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DiffResult partitions a scan's fresh entries against the prior index
// state, as required for incremental re-scans under a subtree-update
// budget.
type DiffResult struct {
	NewPaths        []string
	ChangedPaths    []string
	UnchangedCount  int
	RemovedPaths    []string
	DeferredPaths   []string
	BudgetExhausted bool
}

// Diff partitions fresh against the index's prior snapshots, consuming
// one budget unit per new or changed path. Entries that do not fit the
// budget are deferred rather than applied. Removed paths (present in the
// index but absent from fresh) are always computed and applied, at no
// budget cost. A nil budget means unbounded.
//
// If the index is Corrupt or Uninitialized, every fresh path is reported
// as changed and the caller must fall back to a full scan; no state is
// mutated in that case.
func (idx *Index) Diff(fresh []EntrySnapshot, budget *ScanBudget) (DiffResult, error) {
	if idx.Health == Corrupt || idx.Health == Uninitialized {
		result := DiffResult{ChangedPaths: make([]string, 0, len(fresh))}
		for _, e := range fresh {
			result.ChangedPaths = append(result.ChangedPaths, e.Path)
		}
		return result, errs.NewRuntime("cannot diff a corrupt or uninitialized index; full scan required")
	}

	var result DiffResult
	freshSet := make(map[string]bool, len(fresh))
	for _, e := range fresh {
		freshSet[e.Path] = true
		prev, existed := idx.Snapshots[e.Path]
		switch {
		case !existed:
			if budget == nil || budget.TryConsume() {
				result.NewPaths = append(result.NewPaths, e.Path)
				idx.Snapshots[e.Path] = e
			} else {
				result.DeferredPaths = append(result.DeferredPaths, e.Path)
				result.BudgetExhausted = true
			}
		case prev.MetadataHash() == e.MetadataHash():
			result.UnchangedCount++
		default:
			if budget == nil || budget.TryConsume() {
				result.ChangedPaths = append(result.ChangedPaths, e.Path)
				idx.Snapshots[e.Path] = e
			} else {
				result.DeferredPaths = append(result.DeferredPaths, e.Path)
				result.BudgetExhausted = true
			}
		}
	}

	for p := range idx.Snapshots {
		if !freshSet[p] {
			result.RemovedPaths = append(result.RemovedPaths, p)
		}
	}
	sort.Strings(result.NewPaths)
	sort.Strings(result.ChangedPaths)
	sort.Strings(result.RemovedPaths)
	sort.Strings(result.DeferredPaths)

	idx.RemovePaths(result.RemovedPaths)

	if result.BudgetExhausted {
		idx.Health = Degraded
	} else {
		idx.Health = Healthy
	}
	return result, nil
}

// UpdateEntries rehashes the changed paths and their ancestors up to the
// nearest configured root path.
func (idx *Index) UpdateEntries(entries []EntrySnapshot) {
	for _, e := range entries {
		idx.Snapshots[e.Path] = e
		n := idx.Nodes[e.Path]
		n.MetadataHash = e.MetadataHash()
		n.SubtreeHash = computeSubtreeHash(n.MetadataHash, n.Children, idx.Nodes)
		idx.Nodes[e.Path] = n
		idx.rehashAncestors(e.Path)
	}
}

func (idx *Index) rehashAncestors(path string) {
	p := path
	for {
		parent := filepath.Dir(p)
		if parent == p {
			return
		}
		isRoot := false
		for _, root := range idx.RootPaths {
			if p == root {
				isRoot = true
			}
		}
		if isRoot {
			return
		}
		pn, ok := idx.Nodes[parent]
		if !ok {
			return
		}
		pn.SubtreeHash = computeSubtreeHash(pn.MetadataHash, pn.Children, idx.Nodes)
		idx.Nodes[parent] = pn
		p = parent
	}
}

// RemovePaths deletes entries that no longer exist on disk.
func (idx *Index) RemovePaths(paths []string) {
	for _, p := range paths {
		delete(idx.Nodes, p)
		delete(idx.Snapshots, p)
	}
}

// SaveCheckpoint atomically persists the index via temp-file + rename.
func (idx *Index) SaveCheckpoint(path string) error {
	nodesBytes, err := json.Marshal(idx.Nodes)
	if err != nil {
		return errs.New(errs.Serialization, "", "merkle_checkpoint", err.Error(), err)
	}
	snapsBytes, err := json.Marshal(idx.Snapshots)
	if err != nil {
		return errs.New(errs.Serialization, "", "merkle_checkpoint", err.Error(), err)
	}
	hasher := sha256.New()
	hasher.Write(nodesBytes)
	hasher.Write(snapsBytes)
	integrity := hasher.Sum(nil)

	cp := checkpointFile{
		Version:       checkpointVersion,
		BuiltAtNanos:  idx.BuiltAt.UnixNano(),
		IntegrityHash: hashHex(integrity),
		Nodes:         idx.Nodes,
		Snapshots:     idx.Snapshots,
		RootPaths:     idx.RootPaths,
		Health:        idx.Health,
	}

	tmpPath := path + ".tmp"
	if dir := filepath.Dir(tmpPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errs.NewIO(dir, err)
		}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return errs.New(errs.Serialization, "", "merkle_checkpoint_write", err.Error(), err)
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return errs.NewIO(tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.NewIO(path, err)
	}
	return nil
}

// LoadCheckpoint loads and integrity-verifies a persisted index. On an
// integrity-hash mismatch it returns an Index with Health = Corrupt
// rather than an error, mirroring the original's degrade-not-crash
// behavior for a damaged checkpoint. An unsupported checkpoint version
// is returned as a serialization error.
func LoadCheckpoint(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewIO(path, err)
	}
	var cp checkpointFile
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errs.New(errs.Serialization, "", "merkle_checkpoint_load", err.Error(), err)
	}
	if cp.Version != checkpointVersion {
		return nil, errs.New(errs.Serialization, "", "merkle_checkpoint_version", "unsupported checkpoint version", nil)
	}

	nodesBytes, _ := json.Marshal(cp.Nodes)
	snapsBytes, _ := json.Marshal(cp.Snapshots)
	hasher := sha256.New()
	hasher.Write(nodesBytes)
	hasher.Write(snapsBytes)
	computed := hashHex(hasher.Sum(nil))

	idx := &Index{
		Nodes:     cp.Nodes,
		Snapshots: cp.Snapshots,
		RootPaths: cp.RootPaths,
		Health:    cp.Health,
		BuiltAt:   time.Unix(0, cp.BuiltAtNanos),
	}
	if computed != cp.IntegrityHash {
		idx.Health = Corrupt
	}
	return idx, nil
}

func hashHex(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
