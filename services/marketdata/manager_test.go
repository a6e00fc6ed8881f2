package marketdata

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go_twstock_backend/models"
)

// fakeClock lets tests move the manager's notion of now.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeRemote simulates a historical provider holding a full series;
// fetches return only rows after since.
type fakeRemote struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
	full  *models.Table
}

func newFakeRemote(name string) *fakeRemote {
	f := &fakeRemote{full: models.NewTable(name, []string{"2330", "2317"})}
	f.full.UpsertRow("2024-06-07", map[string]float64{"2330": 850, "2317": 98.5})
	f.full.UpsertRow("2024-06-10", map[string]float64{"2330": 855, "2317": 99})
	return f
}

func (f *fakeRemote) addRow(date string, values map[string]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full.UpsertRow(date, values)
}

func (f *fakeRemote) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRemote) fetch(ctx context.Context, since string) (*models.Table, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := models.NewTable(f.full.Name, f.full.Columns)
	for i, d := range f.full.Dates {
		if since != "" && d <= since {
			continue
		}
		row := make([]models.Cell, len(f.full.Values[i]))
		copy(row, f.full.Values[i])
		out.Dates = append(out.Dates, d)
		out.Values = append(out.Values, row)
	}
	return out, nil
}

func newTestManager(t *testing.T, clock *fakeClock, datasets ...Dataset) (*Manager, *FileStore) {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	m := NewManager(store, NewPolicy(24, 12, 60), datasets)
	m.now = clock.Now
	return m, store
}

func TestGetFetchesOncePersistsOnce(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	remote := newFakeRemote("close")
	m, store := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	table, err := m.Get(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.callCount())
	assert.Equal(t, 2, table.RowCount())

	// Persisted exactly one entry.
	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"close"}, names)

	// Second call within the window hits memory, no remote call.
	_, err = m.Get(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.callCount())
}

func TestGetAfterClearFetchesExactlyOnce(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	remote := newFakeRemote("close")
	m, store := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	_, err := m.Get(context.Background(), "close")
	require.NoError(t, err)
	require.NoError(t, m.Clear("close"))

	_, _, err = store.Load("close")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	_, err = m.Get(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, 2, remote.callCount())

	_, _, err = store.Load("close")
	assert.NoError(t, err)
}

func TestConcurrentGetsShareOneFetch(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	remote := newFakeRemote("close")
	remote.delay = 50 * time.Millisecond
	m, _ := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table, err := m.Get(context.Background(), "close")
			assert.NoError(t, err)
			assert.Equal(t, 2, table.RowCount())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, remote.callCount())
}

func TestGetFallsBackToStaleOnRemoteFailure(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	remote := newFakeRemote("close")
	m, _ := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	first, err := m.Get(context.Background(), "close")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	remote.setErr(errors.New("connection refused"))

	stale, err := m.Get(context.Background(), "close")
	require.NoError(t, err)
	assert.True(t, first.Equal(stale))
	assert.Equal(t, 2, remote.callCount())
}

func TestGetWithoutAnyCacheSurfacesUnavailable(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	remote := newFakeRemote("close")
	remote.setErr(errors.New("auth failed"))
	m, _ := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	_, err := m.Get(context.Background(), "close")
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestGetUnknownDataset(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	m, _ := newTestManager(t, clock)

	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownDataset)
	_, err = m.Refresh(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownDataset)
	assert.ErrorIs(t, m.Clear("nope"), ErrUnknownDataset)
}

func TestIncrementalMergeScenario(t *testing.T) {
	// Dataset cached with last date 2024-06-10; on 06-12 the remote
	// has two more days. Get must fetch only the tail and produce a
	// continuous series with no duplicate rows.
	clock := &fakeClock{t: time.Date(2024, 6, 10, 15, 0, 0, 0, taipei)}
	remote := newFakeRemote("close")
	m, store := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	_, err := m.Get(context.Background(), "close")
	require.NoError(t, err)

	remote.addRow("2024-06-11", map[string]float64{"2330": 860, "2317": 100})
	remote.addRow("2024-06-12", map[string]float64{"2330": 858, "2317": 101})
	clock.Set(time.Date(2024, 6, 12, 10, 0, 0, 0, taipei))

	table, err := m.Get(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-07", "2024-06-10", "2024-06-11", "2024-06-12"}, table.Dates)
	assert.Equal(t, 2, remote.callCount())

	// The persistent store carries the merged table.
	persisted, _, err := store.Load("close")
	require.NoError(t, err)
	assert.True(t, table.Equal(persisted))

	// Another call the same day stays on the fresh copy.
	again, err := m.Get(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, 2, remote.callCount())
	assert.Equal(t, 4, again.RowCount())
}

func TestRefreshBypassesFreshnessAndIsIdempotent(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	remote := newFakeRemote("close")
	m, store := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	_, err := m.Get(context.Background(), "close")
	require.NoError(t, err)

	first, _, err := store.Load("close")
	require.NoError(t, err)

	// Refresh with no new remote data: forced fetch, identical entry.
	_, err = m.Refresh(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, 2, remote.callCount())

	second, _, err := store.Load("close")
	require.NoError(t, err)
	assert.True(t, first.Equal(second))

	_, err = m.Refresh(context.Background(), "close")
	require.NoError(t, err)
	third, _, err := store.Load("close")
	require.NoError(t, err)
	assert.True(t, first.Equal(third))
}

func TestCorruptEntryIsTreatedAsAbsent(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	remote := newFakeRemote("close")
	m, store := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	require.NoError(t, os.WriteFile(store.entryPath("close"), []byte("{corrupt"), 0644))

	table, err := m.Get(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.callCount())
	assert.Equal(t, 2, table.RowCount())

	// Entry rewritten cleanly.
	persisted, _, err := store.Load("close")
	require.NoError(t, err)
	assert.True(t, table.Equal(persisted))
}

func TestColdStartLoadsFreshEntryWithoutRemoteCall(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	remote := newFakeRemote("close")
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save("close", storeSample(), clock.Now().Add(-time.Hour)))

	m := NewManager(store, NewPolicy(24, 12, 60), []Dataset{
		{Name: "close", Class: ClassHistorical, Fetch: remote.fetch},
	})
	m.now = clock.Now

	table, err := m.Get(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, 0, remote.callCount())
	assert.Equal(t, 2, table.RowCount())
}

// fakeIndex simulates the realtime snapshot provider: a fixed prior
// session plus a live row for the clock's current session date.
type fakeIndex struct {
	mu    sync.Mutex
	calls int
	err   error
	clock *fakeClock
	price float64
}

func (f *fakeIndex) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeIndex) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeIndex) fetch(ctx context.Context, since string) (*models.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.price += 1

	out := models.NewTable("tse_index", []string{"open", "high", "low", "close", "volume"})
	out.UpsertRow("2024-06-11", map[string]float64{
		"open": 22000, "high": 22150, "low": 21950, "close": 22100, "volume": 4100,
	})
	out.UpsertRow(SessionDate(f.clock.Now()), map[string]float64{
		"open": 22100, "high": 22100 + f.price, "low": 22050, "close": 22080 + f.price, "volume": 1800,
	})
	return out, nil
}

func TestRealtimeWindowScenario(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	index := &fakeIndex{clock: clock}
	m, _ := newTestManager(t, clock, Dataset{Name: "tse_index", Class: ClassRealtime, Fetch: index.fetch})

	_, err := m.Get(context.Background(), "tse_index")
	require.NoError(t, err)
	assert.Equal(t, 1, index.callCount())

	// Second call 30 seconds later reuses the in-memory snapshot.
	clock.Advance(30 * time.Second)
	_, err = m.Get(context.Background(), "tse_index")
	require.NoError(t, err)
	assert.Equal(t, 1, index.callCount())

	// 90 seconds after the first call the snapshot is stale.
	clock.Advance(60 * time.Second)
	table, err := m.Get(context.Background(), "tse_index")
	require.NoError(t, err)
	assert.Equal(t, 2, index.callCount())

	// The new snapshot replaced today's row in place.
	v, ok := table.Value("2024-06-12", "close")
	require.True(t, ok)
	assert.Equal(t, 22082.0, v)

	// After the close, the last session snapshot stays fresh.
	clock.Set(time.Date(2024, 6, 12, 18, 0, 0, 0, taipei))
	_, err = m.Get(context.Background(), "tse_index")
	require.NoError(t, err)
	assert.Equal(t, 2, index.callCount())
}

func TestRealtimePersistsOnlyPastSessions(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	index := &fakeIndex{clock: clock}
	m, store := newTestManager(t, clock, Dataset{Name: "tse_index", Class: ClassRealtime, Fetch: index.fetch})

	table, err := m.Get(context.Background(), "tse_index")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-11", "2024-06-12"}, table.Dates)

	// Today's live row never reaches the durable store.
	persisted, _, err := store.Load("tse_index")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-11"}, persisted.Dates)
}

func TestRealtimeBroadcastCallback(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	index := &fakeIndex{clock: clock}
	m, _ := newTestManager(t, clock, Dataset{Name: "tse_index", Class: ClassRealtime, Fetch: index.fetch})

	var gotName string
	var gotDate string
	m.OnRealtimeUpdate(func(name string, table *models.Table) {
		gotName = name
		gotDate = table.LastDate()
	})

	_, err := m.Get(context.Background(), "tse_index")
	require.NoError(t, err)
	assert.Equal(t, "tse_index", gotName)
	assert.Equal(t, "2024-06-12", gotDate)
}

func TestReturnedHistoricalTableIsImmutableSnapshot(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 6, 10, 15, 0, 0, 0, taipei)}
	remote := newFakeRemote("close")
	m, _ := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	first, err := m.Get(context.Background(), "close")
	require.NoError(t, err)
	snapshot := first.Clone()

	remote.addRow("2024-06-11", map[string]float64{"2330": 860, "2317": 100})
	clock.Set(time.Date(2024, 6, 12, 10, 0, 0, 0, taipei))

	second, err := m.Get(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, 3, second.RowCount())

	// The table handed out before the merge is untouched.
	assert.True(t, first.Equal(snapshot))
	assert.Equal(t, 2, first.RowCount())
}

func TestReturnedRealtimeTableIsImmutableSnapshot(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	index := &fakeIndex{clock: clock}
	m, _ := newTestManager(t, clock, Dataset{Name: "tse_index", Class: ClassRealtime, Fetch: index.fetch})

	first, err := m.Get(context.Background(), "tse_index")
	require.NoError(t, err)
	snapshot := first.Clone()

	clock.Advance(90 * time.Second)
	second, err := m.Get(context.Background(), "tse_index")
	require.NoError(t, err)

	// The second snapshot carries the updated live row; the first one
	// still holds the value it was handed out with.
	v, _ := second.Value("2024-06-12", "close")
	assert.Equal(t, 22082.0, v)
	assert.True(t, first.Equal(snapshot))
	v, _ = first.Value("2024-06-12", "close")
	assert.Equal(t, 22081.0, v)
}

func TestConcurrentReadersDuringRefresh(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	index := &fakeIndex{clock: clock}
	m, _ := newTestManager(t, clock, Dataset{Name: "tse_index", Class: ClassRealtime, Fetch: index.fetch})

	table, err := m.Get(context.Background(), "tse_index")
	require.NoError(t, err)

	// A reader walking an already-returned table must never observe a
	// refresh in progress.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			for ri, date := range table.Dates {
				assert.NotEmpty(t, date)
				for _, cell := range table.Values[ri] {
					_ = float64(cell)
				}
			}
		}
	}()

	for i := 0; i < 20; i++ {
		clock.Advance(90 * time.Second)
		_, err := m.Refresh(context.Background(), "tse_index")
		require.NoError(t, err)
	}
	<-done
}

func TestRefreshAllReportsPartialFailures(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	good := newFakeRemote("close")
	bad := newFakeRemote("volume")
	bad.setErr(errors.New("timeout"))
	m, _ := newTestManager(t, clock,
		Dataset{Name: "close", Class: ClassHistorical, Fetch: good.fetch},
		Dataset{Name: "volume", Class: ClassHistorical, Fetch: bad.fetch},
	)

	results, _ := m.RefreshAll(context.Background())
	require.Len(t, results, 2)
	assert.Empty(t, results[0].Err)
	assert.Equal(t, 2, results[0].Rows)
	assert.NotEmpty(t, results[1].Err)
}

func TestClearAllEvictsEverything(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	r1 := newFakeRemote("close")
	r2 := newFakeRemote("volume")
	m, store := newTestManager(t, clock,
		Dataset{Name: "close", Class: ClassHistorical, Fetch: r1.fetch},
		Dataset{Name: "volume", Class: ClassHistorical, Fetch: r2.fetch},
	)

	_, _ = m.Get(context.Background(), "close")
	_, _ = m.Get(context.Background(), "volume")

	require.NoError(t, m.ClearAll())
	names, err := store.Names()
	require.NoError(t, err)
	assert.Empty(t, names)

	// ClearAll twice is a no-op.
	assert.NoError(t, m.ClearAll())

	for _, s := range m.Status() {
		assert.False(t, s.InMemory)
		assert.Equal(t, "stale", s.Freshness)
	}
}

func TestStatusReflectsCacheState(t *testing.T) {
	clock := &fakeClock{t: tradingWednesday}
	remote := newFakeRemote("close")
	m, _ := newTestManager(t, clock, Dataset{Name: "close", Class: ClassHistorical, Fetch: remote.fetch})

	statuses := m.Status()
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].InMemory)
	assert.Equal(t, "stale", statuses[0].Freshness)

	_, err := m.Get(context.Background(), "close")
	require.NoError(t, err)

	statuses = m.Status()
	assert.True(t, statuses[0].InMemory)
	assert.Equal(t, "fresh", statuses[0].Freshness)
	assert.Equal(t, 2, statuses[0].Rows)
	assert.Equal(t, "2024-06-10", statuses[0].LastDate)
}
