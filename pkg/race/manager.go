package race

import (
	"log"
	"sync"
	"time"

	"trisplits/pkg/model"
	"trisplits/pkg/pubsub"

	"github.com/pkg/errors"
)

// PubSubStatusTopic carries a full race copy on every lifecycle transition.
const PubSubStatusTopic = "race-status"

// Manager owns the race lifecycle: NotStarted -> Started -> Finished, plus
// Reset back to NotStarted. Every transition is published so the ledger and
// the aggregator observe it.
type Manager struct {
	mu       sync.Mutex
	race     model.Race
	statuses *pubsub.PubSub[model.Race]
	now      func() time.Time
}

func NewManager(r model.Race, statuses *pubsub.PubSub[model.Race]) *Manager {
	if r.Status == "" {
		r.Status = model.StatusNotStarted
	}
	return &Manager{
		race:     r,
		statuses: statuses,
		now:      time.Now,
	}
}

// Race returns a copy of the current race state.
func (m *Manager) Race() model.Race {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raceLocked()
}

func (m *Manager) Status() model.RaceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.race.Status
}

// StartTime reports the race start instant, false while the race has not
// been started.
func (m *Manager) StartTime() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.race.StartTime == nil {
		return time.Time{}, false
	}
	return *m.race.StartTime, true
}

// RegisterBib adds a participant bib to the roster. Registration closes once
// the race leaves NotStarted.
func (m *Manager) RegisterBib(bib string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.race.Status != model.StatusNotStarted {
		return errors.Wrap(model.ErrPrecondition, "registration is closed")
	}
	if m.race.HasBib(bib) {
		return errors.Wrapf(model.ErrPrecondition, "bib %s already registered", bib)
	}
	m.race.BibNumbers = append(m.race.BibNumbers, bib)
	return nil
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.race.BibNumbers) == 0 {
		return errors.Wrap(model.ErrPrecondition, "no participants registered")
	}
	if m.race.Status != model.StatusNotStarted {
		return errors.Wrapf(model.ErrPrecondition, "cannot start a race in status %q", m.race.Status)
	}
	t := m.now()
	m.race.Status = model.StatusStarted
	m.race.StartTime = &t
	m.race.EndTime = nil
	m.publishLocked()
	return nil
}

func (m *Manager) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.race.Status != model.StatusStarted {
		return errors.Wrapf(model.ErrPrecondition, "cannot finish a race in status %q", m.race.Status)
	}
	t := m.now()
	m.race.Status = model.StatusFinished
	m.race.EndTime = &t
	m.publishLocked()
	return nil
}

// Reset is allowed from any status. Timing fields are cleared, the roster
// is retained.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.race.Status = model.StatusNotStarted
	m.race.StartTime = nil
	m.race.EndTime = nil
	m.publishLocked()
}

func (m *Manager) publishLocked() {
	log.Printf("race %s is now %s", m.race.Date, m.race.Status)
	if m.statuses != nil {
		m.statuses.Publish(PubSubStatusTopic, m.raceLocked())
	}
}

func (m *Manager) raceLocked() model.Race {
	r := m.race
	r.BibNumbers = append([]string(nil), m.race.BibNumbers...)
	return r
}
