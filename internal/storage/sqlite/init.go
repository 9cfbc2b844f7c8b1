package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB initializes the SQLite database and creates the transfers table
// if it doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfers (
		correlation_id TEXT PRIMARY KEY,
		created_at DATETIME,
		reported_digest TEXT,
		inbound_digest TEXT,
		outbound_digest TEXT,
		bytes INTEGER,
		origin TEXT
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
