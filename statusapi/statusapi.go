// Package statusapi exposes the thin operational surface the ingestion
// process needs for deployment: liveness, readiness, and a snapshot of
// what the worker has done. It intentionally does not expose match data,
// hero rankings, or anything else the external user-facing API would own.
package statusapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dotastats/matchcore/store"
)

// Stats is a point-in-time snapshot of ingestion activity, updated by the
// worker after every cycle and served read-only over /stats.
type Stats struct {
	LastListingCycleAt time.Time
	LastQueryCycleAt   time.Time
	LastCleanupAt      time.Time
	MatchesSaved       int64
	MatchesRejected    int64
	MatchesErrored     int64
}

// Tracker holds the live Stats behind a mutex so the HTTP handler and the
// ingestion goroutine can touch it without racing.
type Tracker struct {
	mu    sync.RWMutex
	stats Stats
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) RecordListingCycle(saved, rejected, errored int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LastListingCycleAt = time.Now().UTC()
	t.stats.MatchesSaved += int64(saved)
	t.stats.MatchesRejected += int64(rejected)
	t.stats.MatchesErrored += int64(errored)
}

// RecordQueryCycle folds in one explorer-loop cycle's outcome. The query
// loop shares the same saved/rejected/errored counters as the listing loop
// since both funnel through the same save_match path.
func (t *Tracker) RecordQueryCycle(saved, rejected, errored int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LastQueryCycleAt = time.Now().UTC()
	t.stats.MatchesSaved += int64(saved)
	t.stats.MatchesRejected += int64(rejected)
	t.stats.MatchesErrored += int64(errored)
}

func (t *Tracker) RecordCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LastCleanupAt = time.Now().UTC()
}

func (t *Tracker) Snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Server wires the status routes onto a fresh echo instance.
type Server struct {
	echo    *echo.Echo
	db      store.Store
	tracker *Tracker
}

// New builds a Server. db is probed by /readyz; tracker backs /stats.
func New(db store.Store, tracker *Tracker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	s := &Server{echo: e, db: db, tracker: tracker}
	e.GET("/healthz", s.healthz)
	e.GET("/readyz", s.readyz)
	e.GET("/stats", s.statsHandler)
	return s
}

// Start blocks serving on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) readyz(c echo.Context) error {
	if _, err := s.db.MatchesCount(c.Request().Context()); err != nil {
		return c.String(http.StatusServiceUnavailable, "store unreachable")
	}
	return c.String(http.StatusOK, "ready")
}

// statsResponse adds human-readable relative timestamps to Stats for
// operators reading /stats by eye; the raw time.Time fields remain for
// machine consumers.
type statsResponse struct {
	Stats
	LastListingCycleAgo string `json:"last_listing_cycle_ago,omitempty"`
	LastQueryCycleAgo   string `json:"last_query_cycle_ago,omitempty"`
	LastCleanupAgo      string `json:"last_cleanup_ago,omitempty"`
}

func (s *Server) statsHandler(c echo.Context) error {
	snap := s.tracker.Snapshot()
	resp := statsResponse{Stats: snap}
	if !snap.LastListingCycleAt.IsZero() {
		resp.LastListingCycleAgo = humanize.Time(snap.LastListingCycleAt)
	}
	if !snap.LastQueryCycleAt.IsZero() {
		resp.LastQueryCycleAgo = humanize.Time(snap.LastQueryCycleAt)
	}
	if !snap.LastCleanupAt.IsZero() {
		resp.LastCleanupAgo = humanize.Time(snap.LastCleanupAt)
	}
	return c.JSON(http.StatusOK, resp)
}
