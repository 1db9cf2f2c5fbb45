package results

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"trisplits/pkg/model"
	"trisplits/pkg/pubsub"
)

// PubSubBoardTopic carries a freshly computed board on every recompute.
const PubSubBoardTopic = "results-board"

// Store persists finished boards. Used only when race status is Finished.
type Store interface {
	PersistBoard(ctx context.Context, board model.RaceResultBoard) error
	FetchPersistedBoard(ctx context.Context, raceDate string) (*model.RaceResultBoard, error)
}

// Compute is a pure function of (race, roster, ledger snapshot). The board
// is built from scratch every time; items are never patched in place.
func Compute(race model.Race, roster []model.Participant, snap model.LedgerSnapshot) model.RaceResultBoard {
	ranked := []model.RaceResultItem{}
	unranked := []model.RaceResultItem{}
	for _, p := range roster {
		item := model.RaceResultItem{
			BibNumber:       p.BibNumber,
			ParticipantName: p.Name,
			SegmentTimes:    snap.ForBib(p.BibNumber),
		}
		item.TotalDuration = totalDuration(item.SegmentTimes)
		if item.Ranked() {
			ranked = append(ranked, item)
		} else {
			unranked = append(unranked, item)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].TotalDuration < *ranked[j].TotalDuration
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	// unranked participants carry no rank and sort after everyone, by bib
	sort.SliceStable(unranked, func(i, j int) bool {
		return unranked[i].BibNumber < unranked[j].BibNumber
	})

	return model.RaceResultBoard{
		Race:  race,
		Items: append(ranked, unranked...),
	}
}

// totalDuration sums the completed prefix of the segment sequence. A gap
// before the last completed segment leaves the total unset; no completed
// segment at all leaves the participant unranked.
func totalDuration(recs map[model.Segment]model.SegmentTimeRecord) *time.Duration {
	lastIdx := -1
	for i, seg := range model.SegmentOrder {
		if rec, ok := recs[seg]; ok && rec.Completed() {
			lastIdx = i
		}
	}
	if lastIdx < 0 {
		return nil
	}
	var sum time.Duration
	for i := 0; i <= lastIdx; i++ {
		rec, ok := recs[model.SegmentOrder[i]]
		if !ok || !rec.Completed() {
			return nil
		}
		d, _ := rec.Duration()
		sum += d
	}
	return &sum
}

// Manager keeps the current board in step with the race lifecycle and the
// synchronized ledger view, and persists the board once the race finishes.
type Manager struct {
	mu     sync.Mutex
	ctx    context.Context
	roster []model.Participant
	race   model.Race
	snap   model.LedgerSnapshot
	board  model.RaceResultBoard
	store  Store
	boards *pubsub.PubSub[model.RaceResultBoard]

	raceSub *pubsub.Subscription[model.Race]
	snapSub *pubsub.Subscription[model.LedgerSnapshot]
}

func NewManager(
	ctx context.Context,
	roster []model.Participant,
	initial model.Race,
	store Store,
	boards *pubsub.PubSub[model.RaceResultBoard],
	raceSub *pubsub.Subscription[model.Race],
	snapSub *pubsub.Subscription[model.LedgerSnapshot],
) *Manager {
	m := &Manager{
		ctx:     ctx,
		roster:  roster,
		race:    initial,
		store:   store,
		boards:  boards,
		raceSub: raceSub,
		snapSub: snapSub,
	}
	m.board = Compute(initial, roster, model.LedgerSnapshot{})
	go m.updater()
	return m
}

func (m *Manager) updater() {
	raceC := m.raceSub.C
	snapC := m.snapSub.C
	for {
		select {
		case <-m.ctx.Done():
			m.raceSub.Cancel()
			m.snapSub.Cancel()
			return
		case r, ok := <-raceC:
			if !ok {
				raceC = nil
				continue
			}
			m.onRace(r)
		case snap, ok := <-snapC:
			if !ok {
				snapC = nil
				continue
			}
			m.onSnapshot(snap)
		}
	}
}

func (m *Manager) onRace(r model.Race) {
	m.mu.Lock()
	m.race = r
	m.recomputeLocked()
	board := m.board
	finished := r.Status == model.StatusFinished
	m.mu.Unlock()

	if finished {
		m.persist(board)
	}
}

func (m *Manager) onSnapshot(snap model.LedgerSnapshot) {
	m.mu.Lock()
	m.snap = snap
	m.recomputeLocked()
	board := m.board
	finished := m.race.Status == model.StatusFinished
	m.mu.Unlock()

	if finished {
		m.persist(board)
	}
}

// persist writes the durable copy. Called on the Finished transition and
// again for any snapshot arriving after it, so a final snapshot that loses
// the pubsub race against the status event still reaches the stored board.
func (m *Manager) persist(board model.RaceResultBoard) {
	if m.store == nil {
		return
	}
	if err := m.store.PersistBoard(m.ctx, board); err != nil {
		log.Printf("error persisting finished board: %s", err.Error())
	}
}

func (m *Manager) recomputeLocked() {
	m.board = Compute(m.race, m.roster, m.snap)
	if m.boards != nil {
		m.boards.Publish(PubSubBoardTopic, m.board)
	}
}

// Board returns the current board. For a finished race the persisted copy,
// when present, is the canonical answer and wins over the fresh computation.
func (m *Manager) Board(ctx context.Context) (model.RaceResultBoard, error) {
	m.mu.Lock()
	current := m.board
	race := m.race
	m.mu.Unlock()

	if race.Status == model.StatusFinished && m.store != nil {
		persisted, err := m.store.FetchPersistedBoard(ctx, race.Date)
		if err != nil {
			log.Printf("error reading persisted board, serving computed one: %s", err.Error())
			return current, nil
		}
		if persisted != nil {
			return *persisted, nil
		}
	}
	return current, nil
}
