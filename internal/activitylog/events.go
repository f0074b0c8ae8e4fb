// Package activitylog implements the dual-write activity logger
// (component M): a bounded channel feeding two backends (append-only
// JSONL with rotation, and an indexed SQLite store), with graceful
// degradation when a backend falls behind. Ported from the original
// logger::dual / logger::jsonl / logger::sqlite modules. The
// channel-plus-writer-goroutine shape mirrors the teacher's
// EventLogWriter (engine/eventlog.go), generalized to two backends and a
// non-blocking send.
package activitylog

import "time"

type EventType int

const (
	EventDaemonStarted EventType = iota
	EventDaemonStopped
	EventPressureChanged
	EventBallastReleased
	EventBallastReplenished
	EventBallastProvisioned
	EventArtifactDeleted
	EventArtifactDeletionFailed
	EventScanCompleted
	EventConfigReloaded
	EventError
	EventEmergency
	eventShutdown // internal sentinel, never logged
)

func (t EventType) String() string {
	switch t {
	case EventDaemonStarted:
		return "daemon_started"
	case EventDaemonStopped:
		return "daemon_stopped"
	case EventPressureChanged:
		return "pressure_changed"
	case EventBallastReleased:
		return "ballast_released"
	case EventBallastReplenished:
		return "ballast_replenished"
	case EventBallastProvisioned:
		return "ballast_provisioned"
	case EventArtifactDeleted:
		return "artifact_deleted"
	case EventArtifactDeletionFailed:
		return "artifact_deletion_failed"
	case EventScanCompleted:
		return "scan_completed"
	case EventConfigReloaded:
		return "config_reloaded"
	case EventError:
		return "error"
	case EventEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// ScoreFactorsRecord mirrors the five scoring factors persisted with a
// deletion event.
type ScoreFactorsRecord struct {
	Location  float64 `json:"location"`
	Name      float64 `json:"name"`
	Age       float64 `json:"age"`
	Size      float64 `json:"size"`
	Structure float64 `json:"structure"`
}

// Event is the tagged union over daemon lifecycle, pressure, ballast,
// and artifact events. Fields not relevant to Type are left zero.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	Path        string
	SizeBytes   uint64
	Score       float64
	Factors     ScoreFactorsRecord
	Pressure    string
	FreePct     float64
	DurationMs  int64
	Success     bool
	ErrorCode   string
	ErrorMsg    string
	Details     string
	MountPoint  string
	TotalBytes  uint64
	FreeBytes   uint64
	RateBps     float64
	EwmaRate    float64
	Severity    string
}
