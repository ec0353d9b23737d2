// Package monitor tracks in-process request and upload counters and runs the
// liveness checks reported by the health endpoint.
package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/petermazzocco/recipe-media/internal/logger"
)

type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type Counters struct {
	Requests       int64 `json:"requests"`
	ServerErrors   int64 `json:"serverErrors"`
	UploadsOK      int64 `json:"uploadsSucceeded"`
	UploadsFailed  int64 `json:"uploadsFailed"`
	UploadsBlocked int64 `json:"uploadsRejected"`
	BytesReceived  int64 `json:"bytesReceived"`
	FilesSwept     int64 `json:"filesSwept"`
}

type Runtime struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heapAllocBytes"`
	GoVersion  string `json:"goVersion"`
}

type Report struct {
	Status   Status                 `json:"status"`
	Uptime   string                 `json:"uptime"`
	Counters Counters               `json:"counters"`
	Runtime  Runtime                `json:"runtime"`
	Checks   map[string]CheckResult `json:"checks"`
}

// Monitor is safe for concurrent use.
type Monitor struct {
	started time.Time

	requests       atomic.Int64
	serverErrors   atomic.Int64
	uploadsOK      atomic.Int64
	uploadsFailed  atomic.Int64
	uploadsBlocked atomic.Int64
	bytesReceived  atomic.Int64
	filesSwept     atomic.Int64

	mu     sync.RWMutex
	checks map[string]Check
}

func New() *Monitor {
	return &Monitor{started: time.Now(), checks: make(map[string]Check)}
}

// AddCheck registers a named dependency check, replacing any previous one with that name.
func (m *Monitor) AddCheck(name string, c Check) {
	m.mu.Lock()
	m.checks[name] = c
	m.mu.Unlock()
}

// UploadSucceeded counts a stored upload of n request bytes.
func (m *Monitor) UploadSucceeded(n int64) {
	m.uploadsOK.Add(1)
	m.bytesReceived.Add(n)
}

func (m *Monitor) UploadFailed()   { m.uploadsFailed.Add(1) }
func (m *Monitor) UploadRejected() { m.uploadsBlocked.Add(1) }

func (m *Monitor) FilesSwept(n int) { m.filesSwept.Add(int64(n)) }

// Middleware counts every request and every 5xx response.
func (m *Monitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		m.requests.Add(1)
		if ww.Status() >= http.StatusInternalServerError {
			m.serverErrors.Add(1)
		}
	})
}

func (m *Monitor) Counters() Counters {
	return Counters{
		Requests:       m.requests.Load(),
		ServerErrors:   m.serverErrors.Load(),
		UploadsOK:      m.uploadsOK.Load(),
		UploadsFailed:  m.uploadsFailed.Load(),
		UploadsBlocked: m.uploadsBlocked.Load(),
		BytesReceived:  m.bytesReceived.Load(),
		FilesSwept:     m.filesSwept.Load(),
	}
}

// Report runs every registered check. The overall status is down if any check fails.
func (m *Monitor) Report(ctx context.Context) Report {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	names := make([]string, 0, len(m.checks))
	for name, c := range m.checks {
		checks[name] = c
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	rep := Report{
		Status:   StatusUp,
		Uptime:   time.Since(m.started).Round(time.Second).String(),
		Counters: m.Counters(),
		Checks:   make(map[string]CheckResult, len(names)),
	}
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			// Clients only see "unavailable"; the cause goes to the log.
			logger.FromContext(ctx).Warn("health check failed", slog.String("check", name), slog.Any("error", err))
			rep.Checks[name] = CheckResult{Status: StatusDown, Message: "unavailable"}
			rep.Status = StatusDown
			continue
		}
		rep.Checks[name] = CheckResult{Status: StatusUp}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rep.Runtime = Runtime{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		GoVersion:  runtime.Version(),
	}
	return rep
}
