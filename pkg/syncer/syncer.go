package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"trisplits/pkg/ledger"
	"trisplits/pkg/model"
	"trisplits/pkg/pubsub"

	"github.com/pkg/errors"
)

// PubSubCacheTopic carries the syncer's best-known snapshot to consumers.
const PubSubCacheTopic = "syncer-cache"

// DefaultRetryDelay is the fixed wait before re-opening a failed push
// subscription. There is deliberately no backoff growth and no retry cap;
// the channel is assumed to self-heal.
const DefaultRetryDelay = 5 * time.Second

// Subscription is a live remote feed of ledger snapshots.
type Subscription interface {
	Snapshots() <-chan model.LedgerSnapshot
	Err() <-chan error
	Cancel()
}

// Store is the remote collaborator contract. Any call may fail with a
// transport error; the syncer never interprets the cause beyond
// retry-vs-surface.
type Store interface {
	FetchAll(ctx context.Context) (model.LedgerSnapshot, error)
	Subscribe(ctx context.Context) (Subscription, error)
	Write(ctx context.Context, rec model.SegmentTimeRecord) error
	Delete(ctx context.Context, key model.RecordKey) error
}

// Syncer mirrors the remote ledger locally. Writes are applied to the cache
// optimistically before the remote confirms; a failed write is healed by a
// full re-fetch while the original error is still returned to the caller.
// The cache is always replaced wholesale, never field-patched.
type Syncer struct {
	mu                   sync.Mutex
	store                Store
	race                 ledger.StatusSource
	cache                model.LedgerSnapshot
	confirmedVersion     int64
	hasLoadedInitialData bool
	lastErr              error
	listeners            *pubsub.PubSub[model.LedgerSnapshot]
	inflight             map[model.RecordKey]chan struct{}

	retryDelay time.Duration
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

// New builds the syncer and immediately issues the initial pull and the
// push subscription in the background. Close releases both.
func New(ctx context.Context, store Store, race ledger.StatusSource, listeners *pubsub.PubSub[model.LedgerSnapshot]) *Syncer {
	s := newSyncer(ctx, store, race, listeners)
	go s.run()
	return s
}

func newSyncer(ctx context.Context, store Store, race ledger.StatusSource, listeners *pubsub.PubSub[model.LedgerSnapshot]) *Syncer {
	ctx, cancel := context.WithCancel(ctx)
	return &Syncer{
		store:      store,
		race:       race,
		listeners:  listeners,
		inflight:   make(map[model.RecordKey]chan struct{}),
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Syncer) Close() {
	s.cancel()
}

// Snapshot returns the best-known ledger view. Before any data has ever
// loaded a transport failure is the layer's state and is returned instead.
func (s *Syncer) Snapshot() (model.LedgerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLoadedInitialData && s.lastErr != nil {
		return model.LedgerSnapshot{}, s.lastErr
	}
	return s.cache, nil
}

func (s *Syncer) HasLoadedInitialData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLoadedInitialData
}

// Subscribe returns a feed primed with the current cache, then one value per
// applied snapshot.
func (s *Syncer) Subscribe() *pubsub.Subscription[model.LedgerSnapshot] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listeners.SubscribeWith(PubSubCacheTopic, s.cache)
}

// EndSegment mirrors the ledger's end/untrack toggle against the local
// cache, notifies listeners, then confirms with the remote store.
func (s *Syncer) EndSegment(ctx context.Context, bib string, seg model.Segment) (ledger.Mutation, error) {
	if !seg.Valid() {
		return ledger.Mutation{}, errors.Wrapf(model.ErrOrderViolation, "unknown segment %q", seg)
	}
	key := model.RecordKey{BibNumber: bib, Segment: seg}
	s.acquireKey(key)
	defer s.releaseKey(key)

	s.mu.Lock()
	if s.race.Status() != model.StatusStarted {
		s.mu.Unlock()
		return ledger.Mutation{}, errors.Wrapf(model.ErrInactiveRace, "race status is %q", s.race.Status())
	}
	snap := s.cache

	if existing, ok := snap.Find(bib, seg); ok && existing.Completed() {
		if err := ledger.GuardRemoval(snap, bib, seg); err != nil {
			s.mu.Unlock()
			return ledger.Mutation{}, err
		}
		next := snap.WithoutRecord(key)
		next.Version = snap.Version + 1
		s.applyOptimisticLocked(next)
		s.mu.Unlock()
		if err := s.store.Delete(ctx, key); err != nil {
			return ledger.Mutation{}, s.heal(ctx, "deleting record", err)
		}
		return ledger.Mutation{Kind: ledger.MutationRemoved, Record: existing}, nil
	}

	raceStart, _ := s.race.StartTime()
	start, err := ledger.NextStart(snap, bib, seg, raceStart)
	if err != nil {
		s.mu.Unlock()
		return ledger.Mutation{}, err
	}
	end := s.now()
	rec := model.SegmentTimeRecord{
		BibNumber: bib,
		Segment:   seg,
		StartTime: start,
		EndTime:   &end,
	}
	next := snap.WithRecord(rec)
	next.Version = snap.Version + 1
	s.applyOptimisticLocked(next)
	s.mu.Unlock()
	if err := s.store.Write(ctx, rec); err != nil {
		return ledger.Mutation{}, s.heal(ctx, "writing record", err)
	}
	return ledger.Mutation{Kind: ledger.MutationCompleted, Record: rec}, nil
}

// DeleteSegment removes the keyed record with the same later-segment guard
// as the ledger, optimistically first.
func (s *Syncer) DeleteSegment(ctx context.Context, bib string, seg model.Segment) error {
	key := model.RecordKey{BibNumber: bib, Segment: seg}
	s.acquireKey(key)
	defer s.releaseKey(key)

	s.mu.Lock()
	if s.race.Status() != model.StatusStarted {
		s.mu.Unlock()
		return errors.Wrapf(model.ErrInactiveRace, "race status is %q", s.race.Status())
	}
	snap := s.cache
	if _, ok := snap.Find(bib, seg); !ok {
		s.mu.Unlock()
		return nil
	}
	if err := ledger.GuardRemoval(snap, bib, seg); err != nil {
		s.mu.Unlock()
		return err
	}
	next := snap.WithoutRecord(key)
	next.Version = snap.Version + 1
	s.applyOptimisticLocked(next)
	s.mu.Unlock()
	if err := s.store.Delete(ctx, key); err != nil {
		return s.heal(ctx, "deleting record", err)
	}
	return nil
}

// PutRecord optimistically upserts a record the caller has already derived,
// then confirms it remotely. The canonical ledger re-validates on arrival.
func (s *Syncer) PutRecord(ctx context.Context, rec model.SegmentTimeRecord) error {
	key := rec.Key()
	s.acquireKey(key)
	defer s.releaseKey(key)

	s.mu.Lock()
	next := s.cache.WithRecord(rec)
	next.Version = s.cache.Version + 1
	s.applyOptimisticLocked(next)
	s.mu.Unlock()
	if err := s.store.Write(ctx, rec); err != nil {
		return s.heal(ctx, "writing record", err)
	}
	return nil
}

// heal restores a known-consistent cache after a failed remote write. When
// prior good data exists the optimistic guess is discarded in favor of a
// fresh fetchAll; otherwise the error becomes the layer's state. The
// original error is always re-signaled to the caller.
func (s *Syncer) heal(ctx context.Context, op string, cause error) error {
	terr := model.NewTransport(op, cause)
	log.Printf("remote write failed, healing cache: %v", terr)

	s.mu.Lock()
	loaded := s.hasLoadedInitialData
	s.mu.Unlock()

	if !loaded {
		s.mu.Lock()
		s.lastErr = terr
		s.resetCacheLocked()
		s.mu.Unlock()
		return terr
	}

	snap, ferr := s.store.FetchAll(ctx)
	if ferr != nil {
		// keep the last good snapshot; the push channel will catch us up
		log.Printf("re-fetch after failed write also failed: %v", ferr)
		return terr
	}
	s.mu.Lock()
	s.forceApplyLocked(snap)
	s.mu.Unlock()
	return terr
}

func (s *Syncer) run() {
	snap, err := s.store.FetchAll(s.ctx)
	s.mu.Lock()
	if err != nil {
		if !s.hasLoadedInitialData {
			s.lastErr = model.NewTransport("initial fetch", err)
			s.resetCacheLocked()
		}
	} else {
		s.applySnapshotLocked(snap)
	}
	s.mu.Unlock()

	s.subscribeLoop()
}

func (s *Syncer) subscribeLoop() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		sub, err := s.store.Subscribe(s.ctx)
		if err != nil {
			s.noteSubscribeError(err)
			if !s.sleepRetry() {
				return
			}
			continue
		}
		if !s.consume(sub) {
			sub.Cancel()
			return
		}
		sub.Cancel()
		if !s.sleepRetry() {
			return
		}
	}
}

// consume applies pushed snapshots until the subscription errors. The push
// channel delivers snapshots in commit order; the version gate in
// applySnapshotLocked still protects against a stale arrival.
func (s *Syncer) consume(sub Subscription) bool {
	for {
		select {
		case <-s.ctx.Done():
			return false
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return true
			}
			s.mu.Lock()
			s.applySnapshotLocked(snap)
			s.mu.Unlock()
		case err := <-sub.Err():
			s.noteSubscribeError(err)
			return true
		}
	}
}

// sleepRetry waits the fixed retry delay, false when shut down meanwhile.
func (s *Syncer) sleepRetry() bool {
	t := time.NewTimer(s.retryDelay)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// noteSubscribeError falls back to the last good snapshot when one exists;
// before any data has loaded the failure is the layer's visible state.
// Subscription errors are never surfaced to interactive callers.
func (s *Syncer) noteSubscribeError(err error) {
	log.Printf("push subscription failed, retrying in %s: %v", s.retryDelay, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLoadedInitialData {
		s.lastErr = model.NewTransport("subscribing", err)
		s.resetCacheLocked()
	}
}

// applySnapshotLocked accepts remote-confirmed data. Staleness is judged
// against the last confirmed version only; optimistic guesses never raise
// the bar, so a rejected guess cannot shadow the source of truth.
func (s *Syncer) applySnapshotLocked(snap model.LedgerSnapshot) {
	if s.hasLoadedInitialData && snap.Version < s.confirmedVersion {
		log.Printf("dropping stale snapshot version %d (confirmed at %d)", snap.Version, s.confirmedVersion)
		return
	}
	s.cache = snap
	s.confirmedVersion = snap.Version
	s.hasLoadedInitialData = true
	s.lastErr = nil
	s.publishLocked()
}

// forceApplyLocked replaces the cache with a fresh fetch regardless of
// version; a re-fetch after a failed write is truth by definition.
func (s *Syncer) forceApplyLocked(snap model.LedgerSnapshot) {
	s.cache = snap
	s.confirmedVersion = snap.Version
	s.hasLoadedInitialData = true
	s.lastErr = nil
	s.publishLocked()
}

// applyOptimisticLocked installs a local guess. The guessed version only
// orders listener notifications; the staleness gate and the loaded flag
// track remote-confirmed data only.
func (s *Syncer) applyOptimisticLocked(snap model.LedgerSnapshot) {
	s.cache = snap
	s.publishLocked()
}

func (s *Syncer) publishLocked() {
	if s.listeners != nil {
		s.listeners.Publish(PubSubCacheTopic, s.cache)
	}
}

// resetCacheLocked clears the cache to a zero snapshot; a later confirmed
// snapshot is the only recovery.
func (s *Syncer) resetCacheLocked() {
	s.cache = model.LedgerSnapshot{}
	s.publishLocked()
}

// acquireKey serializes mutations per (bib, segment): a second mutation on a
// key already in flight waits for the first to resolve, so two rapid taps
// cannot race each other's optimistic state.
func (s *Syncer) acquireKey(key model.RecordKey) {
	for {
		s.mu.Lock()
		ch, busy := s.inflight[key]
		if !busy {
			s.inflight[key] = make(chan struct{})
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		<-ch
	}
}

func (s *Syncer) releaseKey(key model.RecordKey) {
	s.mu.Lock()
	ch := s.inflight[key]
	delete(s.inflight, key)
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}
