package assign

import (
	"context"
	"sync"
	"time"

	"trisplits/pkg/ledger"
	"trisplits/pkg/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Writer accepts derived records for the ledger. *syncer.Syncer satisfies it.
type Writer interface {
	PutRecord(ctx context.Context, rec model.SegmentTimeRecord) error
}

// SnapshotSource provides the best-known ledger view for guard checks.
type SnapshotSource interface {
	Snapshot() (model.LedgerSnapshot, error)
}

// ProvisionalInstant is a finish time captured before the BIB is known.
// Provisionals are local-only: they never reach the ledger and are excluded
// from aggregation until bound.
type ProvisionalInstant struct {
	ID      string    `json:"id"`
	Instant time.Time `json:"instant"`
}

// Manager supports deferred BIB identification: a finish instant is captured
// first and a BIB is attached later.
type Manager struct {
	mu           sync.Mutex
	provisionals []ProvisionalInstant
	writer       Writer
	view         SnapshotSource
	race         ledger.StatusSource
	now          func() time.Time
}

func NewManager(writer Writer, view SnapshotSource, race ledger.StatusSource) *Manager {
	return &Manager{
		writer: writer,
		view:   view,
		race:   race,
		now:    time.Now,
	}
}

// MarkInstant records a provisional timestamp with no BIB attached yet.
func (m *Manager) MarkInstant() ProvisionalInstant {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := ProvisionalInstant{ID: uuid.NewString(), Instant: m.now()}
	// most recent first, the order an operator works through them
	m.provisionals = append([]ProvisionalInstant{p}, m.provisionals...)
	return p
}

// Instants returns the unbound provisionals, most recent first.
func (m *Manager) Instants() []ProvisionalInstant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProvisionalInstant(nil), m.provisionals...)
}

// AssignBib binds a captured instant to (bib, segment). An existing open
// record just gets its end time; otherwise the record is materialized with
// the same start-derivation rule the ledger applies, via two writes.
func (m *Manager) AssignBib(ctx context.Context, bib string, seg model.Segment, instant time.Time) error {
	if m.race.Status() != model.StatusStarted {
		return errors.Wrapf(model.ErrInactiveRace, "race status is %q", m.race.Status())
	}
	snap, err := m.view.Snapshot()
	if err != nil {
		return err
	}

	if rec, ok := snap.Find(bib, seg); ok {
		if rec.Completed() {
			return errors.Wrapf(model.ErrDuplicateAssignment, "bib %s already completed %s", bib, seg)
		}
		rec.EndTime = &instant
		if err := m.writer.PutRecord(ctx, rec); err != nil {
			return err
		}
		m.unbind(instant)
		return nil
	}

	raceStart, _ := m.race.StartTime()
	start, err := ledger.NextStart(snap, bib, seg, raceStart)
	if err != nil {
		return err
	}
	open := model.SegmentTimeRecord{
		BibNumber: bib,
		Segment:   seg,
		StartTime: start,
	}
	if err := m.writer.PutRecord(ctx, open); err != nil {
		return err
	}
	done := open
	done.EndTime = &instant
	if err := m.writer.PutRecord(ctx, done); err != nil {
		return err
	}
	m.unbind(instant)
	return nil
}

// unbind drops the provisional carrying the bound instant, if any.
func (m *Manager) unbind(instant time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.provisionals {
		if p.Instant.Equal(instant) {
			m.provisionals = append(m.provisionals[:i], m.provisionals[i+1:]...)
			return
		}
	}
}
