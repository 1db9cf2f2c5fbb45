package ledger

import (
	"log"
	"sync"
	"time"

	"trisplits/pkg/model"
	"trisplits/pkg/pubsub"

	"github.com/pkg/errors"
)

// PubSubSnapshotTopic carries a full ledger snapshot after every mutation.
const PubSubSnapshotTopic = "ledger-snapshots"

// StatusSource is the race lifecycle view the ledger gates writes on.
type StatusSource interface {
	Status() model.RaceStatus
	StartTime() (time.Time, bool)
}

type MutationKind int

const (
	// MutationCompleted means the segment now has an end time.
	MutationCompleted MutationKind = iota
	// MutationRemoved means an already-completed segment was untracked.
	MutationRemoved
)

// Mutation tells the caller what a write actually did, so "finish" and
// "undo" outcomes are never inferred from errors.
type Mutation struct {
	Kind   MutationKind
	Record model.SegmentTimeRecord
}

// Ledger is the canonical store of segment time records, keyed by
// (bib, segment). It is the single writer of canonical state; every other
// component goes through this API and its ordering checks.
type Ledger struct {
	mu        sync.RWMutex
	records   map[model.RecordKey]model.SegmentTimeRecord
	version   int64
	race      StatusSource
	snapshots *pubsub.PubSub[model.LedgerSnapshot]
	now       func() time.Time
}

func New(race StatusSource, snapshots *pubsub.PubSub[model.LedgerSnapshot]) *Ledger {
	return &Ledger{
		records:   make(map[model.RecordKey]model.SegmentTimeRecord),
		race:      race,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// EndSegment is the sole interactive mutation entry point. Ending a segment
// that is already completed untracks it instead; the returned Mutation
// reports which of the two happened.
func (l *Ledger) EndSegment(bib string, seg model.Segment) (Mutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.activeRaceLocked(); err != nil {
		return Mutation{}, err
	}
	if !seg.Valid() {
		return Mutation{}, errors.Wrapf(model.ErrOrderViolation, "unknown segment %q", seg)
	}

	key := model.RecordKey{BibNumber: bib, Segment: seg}
	snap := l.snapshotLocked()
	if existing, ok := l.records[key]; ok && existing.Completed() {
		if err := GuardRemoval(snap, bib, seg); err != nil {
			return Mutation{}, err
		}
		delete(l.records, key)
		l.publishLocked()
		return Mutation{Kind: MutationRemoved, Record: existing}, nil
	}

	raceStart, _ := l.race.StartTime()
	start, err := NextStart(snap, bib, seg, raceStart)
	if err != nil {
		return Mutation{}, err
	}
	end := l.now()
	rec := model.SegmentTimeRecord{
		BibNumber: bib,
		Segment:   seg,
		StartTime: start,
		EndTime:   &end,
	}
	l.records[key] = rec
	l.publishLocked()
	return Mutation{Kind: MutationCompleted, Record: rec}, nil
}

// PutRecord upserts a record on behalf of a remote writer. The start time is
// always re-derived here; a nil end time leaves the segment open, a set end
// time is honored as given (the instant was captured at the caller).
func (l *Ledger) PutRecord(rec model.SegmentTimeRecord) (model.SegmentTimeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.activeRaceLocked(); err != nil {
		return model.SegmentTimeRecord{}, err
	}
	raceStart, _ := l.race.StartTime()
	start, err := NextStart(l.snapshotLocked(), rec.BibNumber, rec.Segment, raceStart)
	if err != nil {
		return model.SegmentTimeRecord{}, err
	}
	rec.StartTime = start
	l.records[rec.Key()] = rec
	l.publishLocked()
	return rec, nil
}

// DeleteSegment removes the keyed record. Removing a record under a
// completed later segment is rejected; removing a missing record is a no-op.
func (l *Ledger) DeleteSegment(bib string, seg model.Segment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.activeRaceLocked(); err != nil {
		return err
	}
	key := model.RecordKey{BibNumber: bib, Segment: seg}
	if _, ok := l.records[key]; !ok {
		return nil
	}
	if err := GuardRemoval(l.snapshotLocked(), bib, seg); err != nil {
		return err
	}
	delete(l.records, key)
	l.publishLocked()
	return nil
}

// Query returns matching records, snapshot semantics, no side effects.
// Empty filter values match everything.
func (l *Ledger) Query(bib string, seg model.Segment) []model.SegmentTimeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []model.SegmentTimeRecord{}
	for _, rec := range l.records {
		if bib != "" && rec.BibNumber != bib {
			continue
		}
		if seg != "" && rec.Segment != seg {
			continue
		}
		out = append(out, rec)
	}
	model.SortRecords(out)
	return out
}

// Snapshot returns a full versioned copy of the ledger.
func (l *Ledger) Snapshot() model.LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// Subscribe returns a feed primed with the current snapshot, then one
// snapshot per mutation.
func (l *Ledger) Subscribe() *pubsub.Subscription[model.LedgerSnapshot] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshots.SubscribeWith(PubSubSnapshotTopic, l.snapshotLocked())
}

func (l *Ledger) activeRaceLocked() error {
	if l.race.Status() != model.StatusStarted {
		return errors.Wrapf(model.ErrInactiveRace, "race status is %q", l.race.Status())
	}
	return nil
}

func (l *Ledger) snapshotLocked() model.LedgerSnapshot {
	snap := model.LedgerSnapshot{Version: l.version}
	for _, rec := range l.records {
		snap.Records = append(snap.Records, rec)
	}
	model.SortRecords(snap.Records)
	return snap
}

func (l *Ledger) publishLocked() {
	l.version++
	snap := l.snapshotLocked()
	log.Printf("ledger version %d: %d records", snap.Version, len(snap.Records))
	if l.snapshots != nil {
		l.snapshots.Publish(PubSubSnapshotTopic, snap)
	}
}
