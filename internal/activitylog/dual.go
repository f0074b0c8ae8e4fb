package activitylog

import (
	"sync"
	"sync/atomic"
	"time"

	"sbh/internal/xlog"
)

const ChannelCapacity = 1024

// Handle is a cheaply-cloneable, thread-safe sender into the logger's
// bounded channel. Send never blocks: once the channel is full, events
// are dropped and counted rather than stalling the caller.
type Handle struct {
	ch      chan Event
	dropped *int64
}

func (h *Handle) Send(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case h.ch <- e:
	default:
		atomic.AddInt64(h.dropped, 1)
	}
}

func (h *Handle) DroppedEvents() int64 { return atomic.LoadInt64(h.dropped) }

func (h *Handle) Shutdown() {
	select {
	case h.ch <- Event{Type: eventShutdown}:
	default:
	}
}

// Config controls the dual-write logger's backends and channel sizing.
type Config struct {
	JsonlPath       string
	SqliteDSN       string
	MaxRotatedFiles int
	MaxJsonlBytes   int64
	ChannelCapacity int
}

func DefaultConfig() Config {
	return Config{
		JsonlPath:       "activity.jsonl",
		SqliteDSN:       "sbh.db",
		MaxRotatedFiles: 5,
		MaxJsonlBytes:   10 * 1024 * 1024,
		ChannelCapacity: ChannelCapacity,
	}
}

// Logger owns both backends and the writer goroutine that drains the
// bounded channel into them. A failed write to either backend is reported
// as a warning through xlog and the event is not written anywhere else:
// there is no fallback file and no stderr copy of the record.
type Logger struct {
	jsonl  *JsonlWriter
	sqlite *SqliteLogger
	wg     sync.WaitGroup
}

// Spawn opens both backends and starts the writer goroutine, returning a
// Handle for producers and the Logger for shutdown/backend access.
func Spawn(cfg Config) (*Logger, *Handle, error) {
	jsonlCfg := JsonlConfig{MaxRotatedFiles: cfg.MaxRotatedFiles}
	jw, err := OpenJsonlWriter(cfg.JsonlPath, jsonlCfg, cfg.MaxJsonlBytes)
	if err != nil {
		return nil, nil, err
	}
	sq, err := OpenSqliteLogger(cfg.SqliteDSN)
	if err != nil {
		jw.Close()
		return nil, nil, err
	}

	l := &Logger{jsonl: jw, sqlite: sq}
	ch := make(chan Event, cfg.ChannelCapacity)
	dropped := new(int64)
	handle := &Handle{ch: ch, dropped: dropped}

	l.wg.Add(1)
	go l.run(ch)

	return l, handle, nil
}

func (l *Logger) run(ch chan Event) {
	defer l.wg.Done()
	for e := range ch {
		if e.Type == eventShutdown {
			return
		}
		l.writeOne(e)
	}
}

func (l *Logger) writeOne(e Event) {
	if err := l.jsonl.WriteEntry(e); err != nil {
		xlog.Printf("[SBH-JSONL] WARNING: jsonl write failed: %v", err)
	}
	switch e.Type {
	case EventPressureChanged:
		if err := l.sqlite.LogPressure(e); err != nil {
			xlog.Printf("[SBH-SQLITE] WARNING: pressure write failed: %v", err)
		}
	default:
		if err := l.sqlite.LogActivity(e); err != nil {
			xlog.Printf("[SBH-SQLITE] WARNING: activity write failed: %v", err)
		}
	}
}

func (l *Logger) SqliteStore() *SqliteLogger { return l.sqlite }

// Close waits for the writer goroutine to drain and closes both
// backends. Call after Handle.Shutdown().
func (l *Logger) Close() error {
	l.wg.Wait()
	jsonlErr := l.jsonl.Close()
	sqliteErr := l.sqlite.Close()
	if jsonlErr != nil {
		return jsonlErr
	}
	return sqliteErr
}
