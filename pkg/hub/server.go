package hub

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"trisplits/pkg/ledger"
	"trisplits/pkg/model"
	"trisplits/pkg/race"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var addr = ":8080"

// RosterSource exposes the participant roster read-only.
type RosterSource interface {
	Roster() []model.Participant
}

// Manager is the timing hub: the process that owns the canonical ledger and
// race lifecycle, and serves them to mirrors over HTTP plus a websocket
// push channel.
type Manager struct {
	race     *race.Manager
	ledger   *ledger.Ledger
	roster   RosterSource
	r        *mux.Router
	upgrader websocket.Upgrader
}

func NewManager(raceMgr *race.Manager, l *ledger.Ledger, roster RosterSource) *Manager {
	m := &Manager{
		race:     raceMgr,
		ledger:   l,
		roster:   roster,
		r:        mux.NewRouter(),
		upgrader: websocket.Upgrader{},
	}
	m.routes()
	return m
}

func (m *Manager) routes() {
	m.r.HandleFunc("/api/ledger", m.handleFetchAll).Methods("GET")
	m.r.HandleFunc("/api/ledger", m.handleWrite).Methods("POST")
	m.r.HandleFunc("/api/records", m.handleQuery).Methods("GET")
	m.r.HandleFunc("/api/ledger/{bib}/{segment}", m.handleDelete).Methods("DELETE")
	m.r.HandleFunc("/api/ledger/{bib}/{segment}/end", m.handleEnd).Methods("POST")
	m.r.HandleFunc("/api/race", m.handleRace).Methods("GET")
	m.r.HandleFunc("/api/race/start", m.handleStart).Methods("POST")
	m.r.HandleFunc("/api/race/finish", m.handleFinish).Methods("POST")
	m.r.HandleFunc("/api/race/reset", m.handleReset).Methods("POST")
	m.r.HandleFunc("/api/roster", m.handleRoster).Methods("GET")
	m.r.HandleFunc("/websocket/ledger", m.handlePush)
}

// Handler exposes the routed handler, mostly for tests.
func (m *Manager) Handler() http.Handler {
	return handlers.LoggingHandler(os.Stdout, m.r)
}

// Serve blocks until ctx is cancelled, then shuts the server down
// gracefully.
func (m *Manager) Serve(ctx context.Context) {
	if os.Getenv("HUB_ADDRESS") != "" {
		addr = os.Getenv("HUB_ADDRESS")
	}
	srv := &http.Server{
		Addr:         addr,
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      m.Handler(),
	}

	go func() {
		log.Printf("timing hub listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil {
			log.Println(err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("timing hub shutting down")
}
