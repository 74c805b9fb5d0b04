package mirrortest

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// blacklistStore persists blocked addresses the same way the mirror
// service does: one sqlite table keyed by IP, WAL journaling.
type blacklistStore struct {
	db *sql.DB
}

type blacklistRow struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func openBlacklistStore(dbPath string) (*blacklistStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS ip_blacklist (
		ip TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &blacklistStore{db: db}, nil
}

func (s *blacklistStore) Close() error {
	return s.db.Close()
}

func (s *blacklistStore) List() ([]blacklistRow, error) {
	rows, err := s.db.Query(`SELECT ip, reason, created_at FROM ip_blacklist ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []blacklistRow
	for rows.Next() {
		var e blacklistRow
		if err := rows.Scan(&e.IP, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *blacklistStore) Add(ip, reason string) error {
	_, err := s.db.Exec(`INSERT INTO ip_blacklist (ip, reason, created_at) VALUES (?, ?, ?)`,
		ip, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ip %s already blacklisted or store failed: %w", ip, err)
	}
	return nil
}

func (s *blacklistStore) Remove(ip string) error {
	_, err := s.db.Exec(`DELETE FROM ip_blacklist WHERE ip = ?`, ip)
	return err
}
