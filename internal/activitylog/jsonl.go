package activitylog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sbh/internal/errs"
)

type logEntry struct {
	Timestamp  time.Time          `json:"timestamp"`
	EventType  string             `json:"event_type"`
	Severity   string             `json:"severity,omitempty"`
	Path       string             `json:"path,omitempty"`
	SizeBytes  uint64             `json:"size_bytes,omitempty"`
	Score      float64            `json:"score,omitempty"`
	Factors    ScoreFactorsRecord `json:"score_factors,omitempty"`
	Pressure   string             `json:"pressure_level,omitempty"`
	FreePct    float64            `json:"free_pct,omitempty"`
	DurationMs int64              `json:"duration_ms,omitempty"`
	Success    bool               `json:"success"`
	ErrorCode  string             `json:"error_code,omitempty"`
	ErrorMsg   string             `json:"error_message,omitempty"`
	Details    string             `json:"details,omitempty"`
}

func toLogEntry(e Event) logEntry {
	return logEntry{
		Timestamp:  e.Timestamp,
		EventType:  e.Type.String(),
		Severity:   e.Severity,
		Path:       e.Path,
		SizeBytes:  e.SizeBytes,
		Score:      e.Score,
		Factors:    e.Factors,
		Pressure:   e.Pressure,
		FreePct:    e.FreePct,
		DurationMs: e.DurationMs,
		Success:    e.Success,
		ErrorCode:  e.ErrorCode,
		ErrorMsg:   e.ErrorMsg,
		Details:    e.Details,
	}
}

// JsonlConfig controls rotation behavior.
type JsonlConfig struct {
	MaxRotatedFiles int
}

func DefaultJsonlConfig() JsonlConfig { return JsonlConfig{MaxRotatedFiles: 5} }

// JsonlWriter appends newline-delimited JSON log entries, rotating the
// file once it exceeds a size threshold.
type JsonlWriter struct {
	mu           sync.Mutex
	path         string
	cfg          JsonlConfig
	f            *os.File
	bytesWritten int64
	maxBytes     int64
}

func OpenJsonlWriter(path string, cfg JsonlConfig, maxBytes int64) (*JsonlWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errs.NewIO(dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errs.NewIO(path, err)
	}
	info, _ := f.Stat()
	var size int64
	if info != nil {
		size = info.Size()
	}
	return &JsonlWriter{path: path, cfg: cfg, f: f, bytesWritten: size, maxBytes: maxBytes}, nil
}

func (w *JsonlWriter) WriteEntry(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.bytesWritten >= w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	data, err := json.Marshal(toLogEntry(e))
	if err != nil {
		return errs.New(errs.Serialization, "", "jsonl_entry", err.Error(), err)
	}
	data = append(data, '\n')
	n, err := w.f.Write(data)
	if err != nil {
		return errs.NewIO(w.path, err)
	}
	w.bytesWritten += int64(n)
	return nil
}

func (w *JsonlWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Sync()
}

func (w *JsonlWriter) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytesWritten
}

func (w *JsonlWriter) rotatedName(i int) string {
	return fmt.Sprintf("%s.%d", w.path, i)
}

// rotate shifts .1..N-1 up by one slot (dropping the oldest) and renames
// the current file to .1, then reopens the primary path.
func (w *JsonlWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return errs.NewIO(w.path, err)
	}

	oldest := w.rotatedName(w.cfg.MaxRotatedFiles)
	os.Remove(oldest)
	for i := w.cfg.MaxRotatedFiles - 1; i >= 1; i-- {
		from := w.rotatedName(i)
		to := w.rotatedName(i + 1)
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}
	if err := os.Rename(w.path, w.rotatedName(1)); err != nil && !os.IsNotExist(err) {
		return errs.NewIO(w.path, err)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errs.NewIO(w.path, err)
	}
	w.f = f
	w.bytesWritten = 0
	return nil
}

func (w *JsonlWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
