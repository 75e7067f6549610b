// Package historydb provides the optional MySQL-backed channel/DM history
// store, kept separate from the primary datastore (buntdb, package store)
// and reachable over the go-sql-driver/mysql driver. cmd/lobbyserver
// opens it only when a DSN is configured; the lobby server itself only
// closes it at shutdown, and stores channel history for channels with
// store_history set through package store.
package historydb

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Config configures the optional history backend.
type Config struct {
	Enabled bool
	DSN     string
}

// Message is one stored channel or DM history entry.
type Message struct {
	Time      time.Time
	Sender    string
	Text      string
	Emote     bool
	ID        int64
}

// DB is a thin wrapper over *sql.DB, schema-managing its own table.
type DB struct {
	conn *sql.DB
}

// Open connects to the configured MySQL instance and ensures the history
// table exists.
func Open(cfg Config) (*DB, error) {
	conn, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging history db: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
CREATE TABLE IF NOT EXISTS history (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	target VARCHAR(64) NOT NULL,
	correspondent VARCHAR(64) NOT NULL DEFAULT '',
	sender VARCHAR(64) NOT NULL,
	text TEXT NOT NULL,
	emote BOOLEAN NOT NULL DEFAULT FALSE,
	sent_at DATETIME NOT NULL,
	INDEX idx_target_time (target, correspondent, sent_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`)
	return err
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Append records a history entry for target (a channel name or account
// name); correspondent is set for DM conversations.
func (db *DB) Append(target, correspondent, sender, text string, emote bool) error {
	_, err := db.conn.Exec(
		`INSERT INTO history (target, correspondent, sender, text, emote, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
		target, correspondent, sender, text, emote, time.Now().UTC(),
	)
	return err
}

// Range returns history for target (and correspondent, if nonempty) with
// sent_at >= after, oldest-first.
func (db *DB) Range(target, correspondent string, after time.Time) ([]Message, error) {
	rows, err := db.conn.Query(
		`SELECT id, sender, text, emote, sent_at FROM history WHERE target = ? AND correspondent = ? AND sent_at >= ? ORDER BY sent_at ASC`,
		target, correspondent, after,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &m.Emote, &m.Time); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteOlderThan prunes history rows older than cutoff, used by the
// daily maintenance sweep (spec §6.2 channel history retention).
func (db *DB) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM history WHERE sent_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Forget deletes all history authored by accountName, used when an
// account is erased (right-to-be-forgotten style cleanup).
func (db *DB) Forget(accountName string) error {
	_, err := db.conn.Exec(`DELETE FROM history WHERE sender = ?`, accountName)
	return err
}

// DeleteMsgid removes a single message by id.
func (db *DB) DeleteMsgid(id int64) error {
	_, err := db.conn.Exec(`DELETE FROM history WHERE id = ?`, id)
	return err
}
