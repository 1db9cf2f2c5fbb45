package model

import (
	"sort"
	"time"
)

type RaceStatus string

const (
	StatusNotStarted RaceStatus = "not_started"
	StatusStarted    RaceStatus = "started"
	StatusFinished   RaceStatus = "finished"
)

type Segment string

const (
	SegmentSwim  Segment = "swim"
	SegmentCycle Segment = "cycle"
	SegmentRun   Segment = "run"
)

// SegmentOrder is the fixed race sequence. All ordering checks are index
// comparisons over this slice; segments are not configurable.
var SegmentOrder = []Segment{SegmentSwim, SegmentCycle, SegmentRun}

func (s Segment) Index() int {
	for i, seg := range SegmentOrder {
		if seg == s {
			return i
		}
	}
	return -1
}

func (s Segment) Valid() bool {
	return s.Index() >= 0
}

// Preceding returns the segment immediately before s, false for the first
// segment or an unknown one.
func (s Segment) Preceding() (Segment, bool) {
	idx := s.Index()
	if idx <= 0 {
		return "", false
	}
	return SegmentOrder[idx-1], true
}

type Race struct {
	Date             string              `json:"date"`
	Status           RaceStatus          `json:"status"`
	StartTime        *time.Time          `json:"startTime,omitempty"`
	EndTime          *time.Time          `json:"endTime,omitempty"`
	BibNumbers       []string            `json:"bibNumbers"`
	SegmentDistances map[Segment]float64 `json:"segmentDistances,omitempty"`
}

func (r Race) HasBib(bib string) bool {
	for _, b := range r.BibNumbers {
		if b == bib {
			return true
		}
	}
	return false
}

type RecordKey struct {
	BibNumber string  `json:"bibNumber"`
	Segment   Segment `json:"segment"`
}

type SegmentTimeRecord struct {
	BibNumber string     `json:"bibNumber"`
	Segment   Segment    `json:"segment"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

func (r SegmentTimeRecord) Key() RecordKey {
	return RecordKey{BibNumber: r.BibNumber, Segment: r.Segment}
}

func (r SegmentTimeRecord) Completed() bool {
	return r.EndTime != nil
}

// Duration is endTime-startTime, false while the segment is still open.
func (r SegmentTimeRecord) Duration() (time.Duration, bool) {
	if r.EndTime == nil {
		return 0, false
	}
	return r.EndTime.Sub(r.StartTime), true
}

// LedgerSnapshot is a full copy of the ledger at a given version. Versions
// are assigned by the ledger on every mutation and increase monotonically,
// so a receiver can drop any snapshot older than the one it already holds.
type LedgerSnapshot struct {
	Version int64               `json:"version"`
	Records []SegmentTimeRecord `json:"records"`
}

func (s LedgerSnapshot) Find(bib string, seg Segment) (SegmentTimeRecord, bool) {
	for _, rec := range s.Records {
		if rec.BibNumber == bib && rec.Segment == seg {
			return rec, true
		}
	}
	return SegmentTimeRecord{}, false
}

// ForBib returns the bib's records keyed by segment.
func (s LedgerSnapshot) ForBib(bib string) map[Segment]SegmentTimeRecord {
	out := map[Segment]SegmentTimeRecord{}
	for _, rec := range s.Records {
		if rec.BibNumber == bib {
			out[rec.Segment] = rec
		}
	}
	return out
}

// WithRecord returns a copy of the snapshot with rec upserted.
func (s LedgerSnapshot) WithRecord(rec SegmentTimeRecord) LedgerSnapshot {
	out := s.clone()
	for i := range out.Records {
		if out.Records[i].Key() == rec.Key() {
			out.Records[i] = rec
			return out
		}
	}
	out.Records = append(out.Records, rec)
	SortRecords(out.Records)
	return out
}

// WithoutRecord returns a copy of the snapshot with the keyed record removed.
func (s LedgerSnapshot) WithoutRecord(key RecordKey) LedgerSnapshot {
	out := LedgerSnapshot{Version: s.Version}
	for _, rec := range s.Records {
		if rec.Key() != key {
			out.Records = append(out.Records, rec)
		}
	}
	return out
}

func (s LedgerSnapshot) clone() LedgerSnapshot {
	out := LedgerSnapshot{Version: s.Version}
	out.Records = append(out.Records, s.Records...)
	return out
}

// SortRecords orders records by bib then segment index, the canonical
// snapshot order.
func SortRecords(recs []SegmentTimeRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].BibNumber != recs[j].BibNumber {
			return recs[i].BibNumber < recs[j].BibNumber
		}
		return recs[i].Segment.Index() < recs[j].Segment.Index()
	})
}

type Participant struct {
	BibNumber string `json:"bibNumber"`
	Name      string `json:"name"`
}

// RaceResultItem is derived data. It is never mutated in place; the
// aggregator rebuilds the whole board on every input change.
type RaceResultItem struct {
	BibNumber       string                        `json:"bibNumber"`
	ParticipantName string                        `json:"participantName"`
	SegmentTimes    map[Segment]SegmentTimeRecord `json:"segmentTimes"`
	TotalDuration   *time.Duration                `json:"totalDuration,omitempty"`
	Rank            int                           `json:"rank,omitempty"`
}

func (it RaceResultItem) Ranked() bool {
	return it.TotalDuration != nil
}

type RaceResultBoard struct {
	Race  Race             `json:"race"`
	Items []RaceResultItem `json:"items"`
}
