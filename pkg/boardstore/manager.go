package boardstore

import (
	"context"
	"database/sql"
	"log"
	"sync"

	"trisplits/pkg/model"

	_ "github.com/mattn/go-sqlite3"
)

const DbName = "./trisplits.db"

// Manager persists finished result boards, the participant roster and the
// notification chat list in a local sqlite database.
type Manager struct {
	db *sql.DB
	mu sync.Mutex
}

func NewManager(dbPath string) (*Manager, error) {
	if dbPath == "" {
		dbPath = DbName
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		log.Printf("error opening database: %s\n", err)
		return nil, err
	}

	for _, stmt := range []string{
		buildCreateBoardsTable(),
		buildCreateParticipantsTable(),
		buildCreateChatsTable(),
	} {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("error init database: %s\n", err)
			return nil, err
		}
	}

	return &Manager{db: db}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.Close()
}

// PersistBoard stores the board under its race date, replacing any previous
// copy for that date.
func (m *Manager) PersistBoard(ctx context.Context, board model.RaceResultBoard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload, err := boardCaster.To(board)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx, buildUpsertBoardCommand(), board.Race.Date, payload)
	if err != nil {
		log.Printf("error updating database: %s\n", err)
	}
	return err
}

// FetchPersistedBoard returns the stored board for the date, nil when none
// was persisted.
func (m *Manager) FetchPersistedBoard(ctx context.Context, raceDate string) (*model.RaceResultBoard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query, read := buildSelectBoardCommand()
	rows, err := m.db.QueryContext(ctx, query, raceDate)
	if err != nil {
		return nil, err
	}
	return read(rows)
}

func (m *Manager) SaveParticipant(p model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.Exec(buildUpsertParticipantCommand(), p.BibNumber, p.Name)
	return err
}

func (m *Manager) FetchRoster() ([]model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query, read := buildSelectParticipantsCommand()
	rows, err := m.db.Query(query)
	if err != nil {
		return []model.Participant{}, err
	}
	return read(rows)
}

func (m *Manager) RegisterChat(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.Exec(buildUpsertChatCommand(), chatID)
	return err
}

func (m *Manager) ListChats() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query, read := buildSelectChatsCommand()
	rows, err := m.db.Query(query)
	if err != nil {
		return []string{}, err
	}
	return read(rows)
}
