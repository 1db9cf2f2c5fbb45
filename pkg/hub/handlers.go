package hub

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"trisplits/pkg/caster"
	"trisplits/pkg/ledger"
	"trisplits/pkg/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var snapshotCaster = caster.JSONChannelCaster[model.LedgerSnapshot]{}

func (m *Manager) handleFetchAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.ledger.Snapshot())
}

func (m *Manager) handleQuery(w http.ResponseWriter, r *http.Request) {
	bib := r.URL.Query().Get("bib")
	seg := model.Segment(r.URL.Query().Get("segment"))
	writeJSON(w, http.StatusOK, m.ledger.Query(bib, seg))
}

func (m *Manager) handleWrite(w http.ResponseWriter, r *http.Request) {
	var rec model.SegmentTimeRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stored, err := m.ledger.PutRecord(rec)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (m *Manager) handleEnd(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mut, err := m.ledger.EndSegment(vars["bib"], model.Segment(vars["segment"]))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	kind := "completed"
	if mut.Kind == ledger.MutationRemoved {
		kind = "removed"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":   kind,
		"record": mut.Record,
	})
}

func (m *Manager) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := m.ledger.DeleteSegment(vars["bib"], model.Segment(vars["segment"])); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Manager) handleRace(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.race.Race())
}

func (m *Manager) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := m.race.Start(); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m.race.Race())
}

func (m *Manager) handleFinish(w http.ResponseWriter, r *http.Request) {
	if err := m.race.Finish(); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m.race.Race())
}

func (m *Manager) handleReset(w http.ResponseWriter, r *http.Request) {
	m.race.Reset()
	writeJSON(w, http.StatusOK, m.race.Race())
}

func (m *Manager) handleRoster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.roster.Roster())
}

// handlePush upgrades to a websocket and streams one snapshot on connect,
// then one per ledger mutation, until the peer goes away.
func (m *Manager) handlePush(w http.ResponseWriter, r *http.Request) {
	c, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading push connection: %s", err.Error())
		return
	}
	defer c.Close()

	sub := m.ledger.Subscribe()
	defer sub.Cancel()

	// drain the peer so close frames are noticed; any read error tears the
	// subscription down and ends the write loop below
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				sub.Cancel()
				return
			}
		}
	}()

	for snap := range sub.C {
		payload, err := snapshotCaster.To(snap)
		if err != nil {
			log.Printf("error encoding snapshot: %s", err.Error())
			continue
		}
		if err := c.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			log.Printf("push connection closed: %s", err.Error())
			return
		}
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, model.ErrInactiveRace), errors.Is(err, model.ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, model.ErrOrderViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %s", err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
