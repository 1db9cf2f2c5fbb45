package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"trisplits/pkg/ledger"
	"trisplits/pkg/model"
	"trisplits/pkg/pubsub"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type raceStub struct {
	status model.RaceStatus
	start  time.Time
}

func (r *raceStub) Status() model.RaceStatus {
	return r.status
}

func (r *raceStub) StartTime() (time.Time, bool) {
	return r.start, !r.start.IsZero()
}

var raceStart = time.Date(2026, 6, 14, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	snap      model.LedgerSnapshot
	fetchErr  error
	writeErr  error
	deleteErr error
	subFails  int
	subCalls  int
	ops       []string
	writeGate chan struct{}
	sub       *fakeSub
}

func (f *fakeStore) FetchAll(ctx context.Context) (model.LedgerSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "fetch")
	if f.fetchErr != nil {
		return model.LedgerSnapshot{}, f.fetchErr
	}
	return f.snap, nil
}

func (f *fakeStore) Subscribe(ctx context.Context) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.subFails > 0 {
		f.subFails--
		return nil, errors.New("subscribe refused")
	}
	if f.sub == nil {
		f.sub = newFakeSub()
	}
	return f.sub, nil
}

func (f *fakeStore) Write(ctx context.Context, rec model.SegmentTimeRecord) error {
	f.mu.Lock()
	gate := f.writeGate
	f.ops = append(f.ops, "write")
	err := f.writeErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeStore) Delete(ctx context.Context, key model.RecordKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "delete")
	return f.deleteErr
}

func (f *fakeStore) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.ops...)
}

func (f *fakeStore) subscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCalls
}

type fakeSub struct {
	snaps chan model.LedgerSnapshot
	errs  chan error
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		snaps: make(chan model.LedgerSnapshot, 8),
		errs:  make(chan error, 1),
	}
}

func (f *fakeSub) Snapshots() <-chan model.LedgerSnapshot { return f.snaps }
func (f *fakeSub) Err() <-chan error                      { return f.errs }
func (f *fakeSub) Cancel()                                {}

func snapshotWith(version int64, recs ...model.SegmentTimeRecord) model.LedgerSnapshot {
	return model.LedgerSnapshot{Version: version, Records: recs}
}

func completedSwim(bib string) model.SegmentTimeRecord {
	end := raceStart.Add(20 * time.Minute)
	return model.SegmentTimeRecord{
		BibNumber: bib,
		Segment:   model.SegmentSwim,
		StartTime: raceStart,
		EndTime:   &end,
	}
}

func startedRace() *raceStub {
	return &raceStub{status: model.StatusStarted, start: raceStart}
}

func TestInitialPull(t *testing.T) {
	store := &fakeStore{snap: snapshotWith(3, completedSwim("101"))}
	s := New(context.Background(), store, startedRace(), pubsub.NewPubSub[model.LedgerSnapshot]())
	defer s.Close()

	require.Eventually(t, s.HasLoadedInitialData, time.Second, time.Millisecond)
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "101", snap.Records[0].BibNumber)
}

func TestOptimisticWrite(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStore{writeGate: gate}
	s := New(context.Background(), store, startedRace(), pubsub.NewPubSub[model.LedgerSnapshot]())
	defer s.Close()
	require.Eventually(t, s.HasLoadedInitialData, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := s.EndSegment(context.Background(), "101", model.SegmentSwim)
		done <- err
	}()

	// the cache must reflect the write while the remote call is still open
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot()
		if err != nil {
			return false
		}
		_, ok := snap.Find("101", model.SegmentSwim)
		return ok
	}, time.Second, time.Millisecond)

	close(gate)
	require.NoError(t, <-done)
}

func TestFailedWriteHeals(t *testing.T) {
	canonical := snapshotWith(7, completedSwim("102"))
	store := &fakeStore{snap: snapshotWith(2)}
	s := New(context.Background(), store, startedRace(), pubsub.NewPubSub[model.LedgerSnapshot]())
	defer s.Close()
	require.Eventually(t, s.HasLoadedInitialData, time.Second, time.Millisecond)

	store.mu.Lock()
	store.writeErr = errors.New("connection reset")
	store.snap = canonical
	store.mu.Unlock()

	_, err := s.EndSegment(context.Background(), "101", model.SegmentSwim)
	require.Error(t, err)
	assert.True(t, model.IsTransport(err), "expected a transport error, got %v", err)

	// the optimistic guess is gone, replaced by the re-fetched truth
	snap, serr := s.Snapshot()
	require.NoError(t, serr)
	assert.Equal(t, canonical.Version, snap.Version)
	_, ok := snap.Find("101", model.SegmentSwim)
	assert.False(t, ok, "optimistic record survived the heal")
}

func TestFailureBeforeInitialLoad(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("no route to host"), writeErr: errors.New("no route to host")}
	s := newSyncer(context.Background(), store, startedRace(), pubsub.NewPubSub[model.LedgerSnapshot]())
	defer s.Close()

	_, err := s.EndSegment(context.Background(), "101", model.SegmentSwim)
	require.Error(t, err)
	assert.True(t, model.IsTransport(err))

	// with nothing ever loaded the error is the layer's state
	_, serr := s.Snapshot()
	require.Error(t, serr)
	assert.True(t, model.IsTransport(serr))
	assert.False(t, s.HasLoadedInitialData())
}

func TestStaleSnapshotDropped(t *testing.T) {
	store := &fakeStore{}
	s := newSyncer(context.Background(), store, startedRace(), pubsub.NewPubSub[model.LedgerSnapshot]())
	defer s.Close()

	s.mu.Lock()
	s.applySnapshotLocked(snapshotWith(5, completedSwim("101")))
	s.applySnapshotLocked(snapshotWith(4))
	s.mu.Unlock()

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Version)
	assert.Len(t, snap.Records, 1)
}

func TestSubscribeRetries(t *testing.T) {
	store := &fakeStore{subFails: 2}
	s := newSyncer(context.Background(), store, startedRace(), pubsub.NewPubSub[model.LedgerSnapshot]())
	s.retryDelay = time.Millisecond
	defer s.Close()
	go s.run()

	require.Eventually(t, func() bool {
		return store.subscribeCalls() >= 3
	}, time.Second, time.Millisecond)
}

func TestPushedSnapshotApplied(t *testing.T) {
	store := &fakeStore{sub: newFakeSub()}
	s := New(context.Background(), store, startedRace(), pubsub.NewPubSub[model.LedgerSnapshot]())
	defer s.Close()
	require.Eventually(t, s.HasLoadedInitialData, time.Second, time.Millisecond)

	store.sub.snaps <- snapshotWith(9, completedSwim("101"), completedSwim("102"))
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot()
		return err == nil && snap.Version == 9
	}, time.Second, time.Millisecond)
}

func TestPushSupersedesFailedOptimisticWrite(t *testing.T) {
	canonical := snapshotWith(5, completedSwim("102"))
	store := &fakeStore{snap: canonical, sub: newFakeSub()}
	s := New(context.Background(), store, startedRace(), pubsub.NewPubSub[model.LedgerSnapshot]())
	defer s.Close()
	require.Eventually(t, s.HasLoadedInitialData, time.Second, time.Millisecond)

	// both the write and the healing re-fetch fail, leaving the optimistic
	// guess in the cache
	store.mu.Lock()
	store.writeErr = errors.New("connection reset")
	store.fetchErr = errors.New("connection reset")
	store.mu.Unlock()

	_, err := s.EndSegment(context.Background(), "101", model.SegmentSwim)
	require.Error(t, err)
	snap, serr := s.Snapshot()
	require.NoError(t, serr)
	_, ok := snap.Find("101", model.SegmentSwim)
	require.True(t, ok, "expected the optimistic guess to be kept while the store is down")

	// the push channel recovers and re-delivers the hub's current state,
	// still at the version the failed write never advanced; it must win
	store.sub.snaps <- canonical
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot()
		if err != nil {
			return false
		}
		_, ok := snap.Find("101", model.SegmentSwim)
		return !ok && snap.Version == canonical.Version
	}, time.Second, time.Millisecond, "rejected optimistic record shadowed the pushed snapshot")
}

func TestToggleDeletesRemotely(t *testing.T) {
	store := &fakeStore{}
	s := New(context.Background(), store, startedRace(), pubsub.NewPubSub[model.LedgerSnapshot]())
	defer s.Close()
	require.Eventually(t, s.HasLoadedInitialData, time.Second, time.Millisecond)

	mut, err := s.EndSegment(context.Background(), "101", model.SegmentSwim)
	require.NoError(t, err)
	assert.Equal(t, ledger.MutationCompleted, mut.Kind)

	mut, err = s.EndSegment(context.Background(), "101", model.SegmentSwim)
	require.NoError(t, err)
	assert.Equal(t, ledger.MutationRemoved, mut.Kind)

	var writes, deletes []string
	for _, op := range store.opLog() {
		switch op {
		case "write":
			writes = append(writes, op)
		case "delete":
			deletes = append(deletes, op)
		}
	}
	assert.Len(t, writes, 1)
	assert.Len(t, deletes, 1)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	_, ok := snap.Find("101", model.SegmentSwim)
	assert.False(t, ok)
}

func TestInactiveRaceRejected(t *testing.T) {
	store := &fakeStore{}
	s := New(context.Background(), store, &raceStub{status: model.StatusFinished, start: raceStart}, pubsub.NewPubSub[model.LedgerSnapshot]())
	defer s.Close()
	require.Eventually(t, s.HasLoadedInitialData, time.Second, time.Millisecond)

	_, err := s.EndSegment(context.Background(), "101", model.SegmentSwim)
	assert.ErrorIs(t, err, model.ErrInactiveRace)
	assert.NotContains(t, store.opLog(), "write")
}
