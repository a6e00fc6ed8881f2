package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"go_twstock_backend/models"
)

var (
	// ErrUnknownDataset means the name is not in the registry.
	ErrUnknownDataset = errors.New("unknown dataset")
	// ErrDataUnavailable means a remote fetch failed and no cached
	// copy of any age exists to fall back on.
	ErrDataUnavailable = errors.New("data unavailable")
)

// FetchFunc retrieves rows for a dataset from its remote provider.
// For historical datasets, since is the last cached date and the
// provider returns only newer rows ("" means fetch everything). For
// realtime datasets the returned table carries the current session
// row, plus any missing history when since is "".
type FetchFunc func(ctx context.Context, since string) (*models.Table, error)

// Dataset binds a registered name to its freshness class and fetcher.
type Dataset struct {
	Name   string
	Class  Class
	Window time.Duration // optional per-dataset override of the class window
	Fetch  FetchFunc
}

// datasetState is the in-memory cache entry for one dataset. Its
// mutex guards the check-then-fetch-then-store sequence; lock
// granularity is per dataset, so a slow fetch for one dataset never
// blocks readers of another.
type datasetState struct {
	spec      Dataset
	mu        sync.RWMutex
	table     *models.Table
	fetchedAt time.Time
}

// Manager orchestrates the two cache layers. On each request it
// consults the in-memory copy, then the file store, then the remote
// provider, applying the freshness policy at each step. Returned
// tables are immutable snapshots: a refresh merges into a copy and
// publishes it by swapping the table pointer, so a table handed to an
// earlier caller never changes underneath it.
type Manager struct {
	store  *FileStore
	policy *Policy
	states map[string]*datasetState
	order  []string

	// group collapses concurrent Get calls for the same dataset into
	// a single remote fetch whose result all waiters share.
	group singleflight.Group

	// now is replaceable in tests.
	now func() time.Time

	// onRealtime, when set, is invoked after every successful
	// realtime merge (used by the websocket stream hub).
	onRealtime func(name string, table *models.Table)
}

// NewManager builds a manager over a file store and policy for a
// fixed dataset registry.
func NewManager(store *FileStore, policy *Policy, datasets []Dataset) *Manager {
	m := &Manager{
		store:  store,
		policy: policy,
		states: make(map[string]*datasetState, len(datasets)),
		now:    time.Now,
	}
	for _, d := range datasets {
		if _, dup := m.states[d.Name]; dup {
			log.Printf("Warning: duplicate dataset registration ignored: %s", d.Name)
			continue
		}
		m.states[d.Name] = &datasetState{spec: d}
		m.order = append(m.order, d.Name)
	}
	return m
}

// OnRealtimeUpdate registers a callback fired after realtime merges.
func (m *Manager) OnRealtimeUpdate(fn func(name string, table *models.Table)) {
	m.onRealtime = fn
}

// Names returns the registered dataset names in registration order.
func (m *Manager) Names() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Get returns the freshest available table for a dataset name.
func (m *Manager) Get(ctx context.Context, name string) (*models.Table, error) {
	st, ok := m.states[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}

	// Fast path: memory-resident copy still inside its window.
	st.mu.RLock()
	if st.table != nil && m.policy.Classify(m.now(), st.fetchedAt, st.spec.Class, st.spec.Window) == Fresh {
		t := st.table
		st.mu.RUnlock()
		return t, nil
	}
	st.mu.RUnlock()

	v, err, _ := m.group.Do(name, func() (interface{}, error) {
		return m.resolve(ctx, st, false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Table), nil
}

// Refresh forces a fetch for a dataset, bypassing the freshness
// check. Merge and persist semantics are the same as Get.
func (m *Manager) Refresh(ctx context.Context, name string) (*models.Table, error) {
	st, ok := m.states[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	return m.resolve(ctx, st, true)
}

// resolve runs the check-then-fetch-then-store sequence under the
// dataset's lock.
func (m *Manager) resolve(ctx context.Context, st *datasetState, force bool) (*models.Table, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := m.now()
	name := st.spec.Name

	// Re-check after acquiring the lock: an earlier waiter may have
	// already freshened the entry.
	if !force && st.table != nil &&
		m.policy.Classify(now, st.fetchedAt, st.spec.Class, st.spec.Window) == Fresh {
		return st.table, nil
	}

	// Memory miss: try the persistent store before going remote.
	if st.table == nil {
		table, fetchedAt, err := m.store.Load(name)
		switch {
		case err == nil:
			st.table = table
			st.fetchedAt = fetchedAt
			if !force && m.policy.Classify(now, fetchedAt, st.spec.Class, st.spec.Window) == Fresh {
				return st.table, nil
			}
		case errors.Is(err, ErrEntryNotFound):
			// first fetch
		case errors.Is(err, ErrEntryCorrupt):
			log.Printf("Corrupt cache entry for %s, refetching: %v", name, err)
			if delErr := m.store.Delete(name); delErr != nil {
				log.Printf("Warning: could not remove corrupt entry %s: %v", name, delErr)
			}
		default:
			log.Printf("Warning: cache load failed for %s: %v", name, err)
		}
	}

	if st.spec.Class == ClassRealtime {
		return m.refreshRealtime(ctx, st, now)
	}
	return m.refreshHistorical(ctx, st, now)
}

// refreshHistorical fetches the incremental date range since the last
// cached row and appends it (append-only merge), then persists the
// merged table.
func (m *Manager) refreshHistorical(ctx context.Context, st *datasetState, now time.Time) (*models.Table, error) {
	name := st.spec.Name
	since := ""
	if st.table != nil {
		since = st.table.LastDate()
	}

	fetched, err := st.spec.Fetch(ctx, since)
	if err != nil {
		return m.fallback(st, err)
	}

	if st.table == nil {
		st.table = fetched
	} else {
		// Merge into a copy and swap: the current table may already be
		// in the hands of a caller.
		merged := st.table.Clone()
		added := merged.AppendRows(fetched)
		if added > 0 {
			log.Printf("Dataset %s: merged %d new rows (through %s)", name, added, merged.LastDate())
		}
		st.table = merged
	}
	st.fetchedAt = now

	if err := m.store.Save(name, st.table, st.fetchedAt); err != nil {
		log.Printf("Warning: failed to persist %s: %v", name, err)
	}
	return st.table, nil
}

// refreshRealtime merges the current session snapshot into the
// in-memory copy. Today's rows stay memory-only; rows from earlier
// sessions are persisted so a restart only loses the live row.
func (m *Manager) refreshRealtime(ctx context.Context, st *datasetState, now time.Time) (*models.Table, error) {
	name := st.spec.Name
	since := ""
	if st.table != nil {
		since = st.table.LastDate()
	}

	fetched, err := st.spec.Fetch(ctx, since)
	if err != nil {
		return m.fallback(st, err)
	}

	var merged *models.Table
	if st.table == nil {
		merged = models.NewTable(name, fetched.Columns)
	} else {
		merged = st.table.Clone()
	}
	for _, date := range fetched.Dates {
		row, _ := fetched.Row(date)
		merged.UpsertRow(date, row)
	}
	st.table = merged
	st.fetchedAt = now

	if rolled := st.table.SplitBefore(SessionDate(now)); rolled.RowCount() > 0 {
		if err := m.store.Save(name, rolled, st.fetchedAt); err != nil {
			log.Printf("Warning: failed to persist %s: %v", name, err)
		}
	}

	if m.onRealtime != nil {
		m.onRealtime(name, st.table)
	}
	return st.table, nil
}

// fallback implements the failure semantics: if any cached copy
// exists, log the failure and serve the stale table; otherwise
// surface a data-unavailable error.
func (m *Manager) fallback(st *datasetState, fetchErr error) (*models.Table, error) {
	name := st.spec.Name
	if st.table != nil {
		log.Printf("Remote fetch failed for %s, serving cached copy from %s: %v",
			name, st.fetchedAt.Format(time.RFC3339), fetchErr)
		return st.table, nil
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, name, fetchErr)
}

// Clear deletes the persisted entry and evicts the memory copy for
// one dataset. Clearing an already-clear dataset is a no-op.
func (m *Manager) Clear(name string) error {
	st, ok := m.states[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.table = nil
	st.fetchedAt = time.Time{}
	return m.store.Delete(name)
}

// ClearAll clears every registered dataset.
func (m *Manager) ClearAll() error {
	var firstErr error
	for _, name := range m.order {
		if err := m.Clear(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DatasetStatus describes one dataset for the status endpoint.
type DatasetStatus struct {
	Name        string    `json:"name"`
	Class       string    `json:"class"`
	Rows        int       `json:"rows"`
	LastDate    string    `json:"last_date,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
	Freshness   string    `json:"freshness"`
	InMemory    bool      `json:"in_memory"`
}

// Status reports the cache state of every registered dataset.
func (m *Manager) Status() []DatasetStatus {
	now := m.now()
	out := make([]DatasetStatus, 0, len(m.order))
	for _, name := range m.order {
		st := m.states[name]
		st.mu.RLock()
		s := DatasetStatus{
			Name:      name,
			Class:     st.spec.Class.String(),
			Freshness: m.policy.Classify(now, st.fetchedAt, st.spec.Class, st.spec.Window).String(),
			InMemory:  st.table != nil,
		}
		if st.table != nil {
			s.Rows = st.table.RowCount()
			s.LastDate = st.table.LastDate()
			s.RefreshedAt = st.fetchedAt
		}
		st.mu.RUnlock()
		out = append(out, s)
	}
	return out
}

// OpResult is the per-dataset outcome of a bulk operation. A bulk run
// that loses some series still reports the rest as succeeded.
type OpResult struct {
	Name      string `json:"name"`
	Rows      int    `json:"rows"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Err       string `json:"error,omitempty"`
}

// PrewarmAll eagerly triggers Get for every registered dataset so a
// cold process repopulates its hot path before serving traffic.
func (m *Manager) PrewarmAll(ctx context.Context) ([]OpResult, time.Duration) {
	return m.runAll(ctx, m.Get)
}

// RefreshAll forces a refresh of every registered dataset. Failures
// are collected per dataset rather than aborting the run.
func (m *Manager) RefreshAll(ctx context.Context) ([]OpResult, time.Duration) {
	return m.runAll(ctx, m.Refresh)
}

func (m *Manager) runAll(ctx context.Context, op func(context.Context, string) (*models.Table, error)) ([]OpResult, time.Duration) {
	start := time.Now()
	results := make([]OpResult, 0, len(m.order))
	for _, name := range m.order {
		opStart := time.Now()
		table, err := op(ctx, name)
		r := OpResult{Name: name, ElapsedMS: time.Since(opStart).Milliseconds()}
		if err != nil {
			r.Err = err.Error()
			log.Printf("Dataset %s failed: %v", name, err)
		} else {
			r.Rows = table.RowCount()
		}
		results = append(results, r)
	}
	return results, time.Since(start)
}
