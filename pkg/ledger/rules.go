package ledger

import (
	"time"

	"trisplits/pkg/model"

	"github.com/pkg/errors"
)

// NextStart derives the start instant for completing (bib, seg) against the
// given snapshot. The first segment starts at the race start; every later
// segment starts where the immediately preceding one ended. Shared by the
// canonical ledger, the syncer's optimistic path and the assignment helper
// so the ordering rules live in one place.
func NextStart(snap model.LedgerSnapshot, bib string, seg model.Segment, raceStart time.Time) (time.Time, error) {
	if !seg.Valid() {
		return time.Time{}, errors.Wrapf(model.ErrOrderViolation, "unknown segment %q", seg)
	}
	prev, ok := seg.Preceding()
	if !ok {
		return raceStart, nil
	}
	prevRec, found := snap.Find(bib, prev)
	if !found || !prevRec.Completed() {
		return time.Time{}, errors.Wrapf(model.ErrOrderViolation, "bib %s has not completed %s", bib, prev)
	}
	return *prevRec.EndTime, nil
}

// CompletedLater reports whether any segment after seg is already completed
// for the bib. Removing a record is illegal while later work depends on it.
func CompletedLater(snap model.LedgerSnapshot, bib string, seg model.Segment) bool {
	idx := seg.Index()
	for i := idx + 1; i < len(model.SegmentOrder); i++ {
		if rec, ok := snap.Find(bib, model.SegmentOrder[i]); ok && rec.Completed() {
			return true
		}
	}
	return false
}

// GuardRemoval fails when deleting (bib, seg) would orphan a completed later
// segment.
func GuardRemoval(snap model.LedgerSnapshot, bib string, seg model.Segment) error {
	if CompletedLater(snap, bib, seg) {
		return errors.Wrapf(model.ErrOrderViolation, "bib %s has completed a segment after %s", bib, seg)
	}
	return nil
}
