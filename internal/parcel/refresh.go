package parcel

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/landbase/parcel-cli/internal/db"
)

// RefreshState is one state of the snapshot refresh machine:
// Stale → RefreshingConcurrent → {Fresh, RefreshingBlocking} → {Fresh, Failed}.
type RefreshState int

const (
	StateStale RefreshState = iota
	StateRefreshingConcurrent
	StateRefreshingBlocking
	StateFresh
	StateFailed
)

func (s RefreshState) String() string {
	switch s {
	case StateStale:
		return "stale"
	case StateRefreshingConcurrent:
		return "refreshing_concurrent"
	case StateRefreshingBlocking:
		return "refreshing_blocking"
	case StateFresh:
		return "fresh"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// RefreshPath reports which rebuild strategy completed the refresh.
type RefreshPath string

const (
	PathConcurrent RefreshPath = "concurrent"
	PathBlocking   RefreshPath = "blocking"
	PathNone       RefreshPath = "none"
)

// refreshEffect is the store-side action the coordinator performs on entering
// a state.
type refreshEffect int

const (
	effectNone refreshEffect = iota
	effectRefreshConcurrent
	effectRefreshBlocking
	effectAnalyze
)

// advance is the pure transition function of the refresh machine. For the
// two refreshing states it consumes the outcome of that state's effect and
// returns the next state plus the effect to perform in it.
func advance(state RefreshState, succeeded bool) (RefreshState, refreshEffect) {
	switch state {
	case StateStale:
		return StateRefreshingConcurrent, effectRefreshConcurrent
	case StateRefreshingConcurrent:
		if succeeded {
			return StateFresh, effectAnalyze
		}
		return StateRefreshingBlocking, effectRefreshBlocking
	case StateRefreshingBlocking:
		if succeeded {
			return StateFresh, effectAnalyze
		}
		return StateFailed, effectNone
	}
	return state, effectNone
}

// Snapshots lists the materialized snapshots the coordinator manages, in
// refresh order. The list doubles as an allowlist: snapshot names are
// interpolated into SQL and must never come from callers directly.
var Snapshots = []string{
	"parcel.mv_landuse",
	"parcel.mv_parcel_summary",
}

var validSnapshots = func() map[string]bool {
	m := make(map[string]bool, len(Snapshots))
	for _, s := range Snapshots {
		m[s] = true
	}
	return m
}()

// RefreshResult reports the outcome of one refresh invocation.
type RefreshResult struct {
	Snapshot string       `json:"snapshot"`
	Path     RefreshPath  `json:"path"`
	State    RefreshState `json:"-"`
	StateStr string       `json:"state"`
}

// Coordinator refreshes materialized snapshots without blocking readers when
// possible, falling back to a blocking rebuild. At most one refresh per
// snapshot runs at a time; concurrent requests fail fast.
//
// Refresh statements run directly on the pool, never inside a caller-held
// transaction: REFRESH ... CONCURRENTLY refuses to be nested.
type Coordinator struct {
	pool db.Pool

	mu       sync.Mutex
	inflight map[string]bool
}

// NewCoordinator creates a Coordinator over the given pool.
func NewCoordinator(pool db.Pool) *Coordinator {
	return &Coordinator{
		pool:     pool,
		inflight: make(map[string]bool),
	}
}

// Refresh rebuilds one named snapshot. The snapshot ends either fully old or
// fully new; a mixed row set is never observable. The coordinator does not
// retry: retry policy belongs to the caller.
func (c *Coordinator) Refresh(ctx context.Context, snapshot string) (RefreshResult, error) {
	res := RefreshResult{Snapshot: snapshot, Path: PathNone, State: StateStale}
	res.StateStr = res.State.String()

	if !validSnapshots[snapshot] {
		return res, eris.Errorf("parcel: unknown snapshot %q", snapshot)
	}

	c.mu.Lock()
	if c.inflight[snapshot] {
		c.mu.Unlock()
		return res, eris.Wrapf(ErrRefreshInProgress, "snapshot %s", snapshot)
	}
	c.inflight[snapshot] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, snapshot)
		c.mu.Unlock()
	}()

	log := zap.L().With(
		zap.String("component", "parcel.refresh"),
		zap.String("snapshot", snapshot),
	)

	state, _ := advance(StateStale, false)
	res.State = state
	res.Path = PathConcurrent

	_, concErr := c.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY "+snapshot)
	state, effect := advance(state, concErr == nil)
	res.State = state

	var blockErr error
	if effect == effectRefreshBlocking {
		// Common causes: missing unique index, or a conflicting rebuild
		// already holds the lock. Readers will block for the duration.
		log.Warn("concurrent refresh failed, falling back to blocking rebuild", zap.Error(concErr))
		res.Path = PathBlocking

		_, blockErr = c.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW "+snapshot)
		state, effect = advance(state, blockErr == nil)
		res.State = state
	}

	if state == StateFailed {
		res.StateStr = res.State.String()
		return res, eris.Wrapf(ErrRefreshFailed,
			"snapshot %s: concurrent: %v; blocking: %v", snapshot, concErr, blockErr)
	}

	if effect == effectAnalyze {
		if _, err := c.pool.Exec(ctx, "ANALYZE "+snapshot); err != nil {
			res.StateStr = res.State.String()
			return res, eris.Wrapf(err, "parcel: analyze %s after refresh", snapshot)
		}
	}

	res.StateStr = res.State.String()
	log.Info("snapshot refreshed", zap.String("path", string(res.Path)))
	return res, nil
}

// RefreshAll refreshes every managed snapshot in order, collecting results.
// It stops at the first failure so callers see a consistent prefix.
func (c *Coordinator) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	var results []RefreshResult
	for _, name := range Snapshots {
		res, err := c.Refresh(ctx, name)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
