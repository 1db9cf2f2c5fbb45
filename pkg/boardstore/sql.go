package boardstore

import (
	"database/sql"

	"trisplits/pkg/caster"
	"trisplits/pkg/model"
)

var boardCaster = caster.JSONChannelCaster[model.RaceResultBoard]{}

func buildCreateBoardsTable() string {
	return `CREATE TABLE IF NOT EXISTS boards (
		racedate TEXT PRIMARY KEY,
		payload TEXT NOT NULL);`
}

func buildCreateParticipantsTable() string {
	return `CREATE TABLE IF NOT EXISTS participants (
		bib TEXT PRIMARY KEY,
		name TEXT NOT NULL);`
}

func buildCreateChatsTable() string {
	return `CREATE TABLE IF NOT EXISTS chats (
		chatid TEXT PRIMARY KEY);`
}

func buildUpsertBoardCommand() string {
	return `INSERT OR REPLACE INTO boards (racedate, payload) VALUES (?, ?)`
}

func buildSelectBoardCommand() (string, func(*sql.Rows) (*model.RaceResultBoard, error)) {
	return `SELECT payload FROM boards WHERE racedate = ?`, processSelectBoardRows
}

func processSelectBoardRows(rows *sql.Rows) (*model.RaceResultBoard, error) {
	defer rows.Close()

	// only can be one row
	if rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		board, err := boardCaster.From(payload)
		if err != nil {
			return nil, err
		}
		return &board, nil
	}
	return nil, rows.Err()
}

func buildUpsertParticipantCommand() string {
	return `INSERT OR REPLACE INTO participants (bib, name) VALUES (?, ?)`
}

func buildSelectParticipantsCommand() (string, func(*sql.Rows) ([]model.Participant, error)) {
	return `SELECT bib, name FROM participants ORDER BY bib`, processSelectParticipantRows
}

func processSelectParticipantRows(rows *sql.Rows) ([]model.Participant, error) {
	defer rows.Close()

	roster := make([]model.Participant, 0)
	for rows.Next() {
		var bib string
		var name string
		if err := rows.Scan(&bib, &name); err != nil {
			return roster, err
		}
		roster = append(roster, model.Participant{BibNumber: bib, Name: name})
	}
	return roster, rows.Err()
}

func buildUpsertChatCommand() string {
	return `INSERT OR REPLACE INTO chats (chatid) VALUES (?)`
}

func buildSelectChatsCommand() (string, func(*sql.Rows) ([]string, error)) {
	return `SELECT chatid FROM chats`, processSelectChatRows
}

func processSelectChatRows(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	chats := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return chats, err
		}
		chats = append(chats, id)
	}
	return chats, rows.Err()
}
