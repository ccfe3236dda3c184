package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// HistoryDBName is the lock history database file in the data dir.
const HistoryDBName = "history.db"

// EncryptedLockHistory stores lock events in a SQLCipher database.
type EncryptedLockHistory struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedLockHistory opens (or creates) the history database in dataDir.
func NewEncryptedLockHistory(dataDir string, key []byte) (*EncryptedLockHistory, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, HistoryDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// A wrong key only shows up on first access.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	h := &EncryptedLockHistory{db: db, dbPath: dbPath}
	if err := h.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return h, nil
}

func (h *EncryptedLockHistory) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lock_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		locked_at INTEGER NOT NULL,
		reason TEXT NOT NULL,
		mismatches INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return err
	}
	_, err := h.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', '1')`)
	return err
}

// Append stores event.
func (h *EncryptedLockHistory) Append(event domain.LockEvent) error {
	_, err := h.db.Exec(`
		INSERT INTO lock_events (id, locked_at, reason, mismatches, session_id)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.LockedAt.UnixNano(), string(event.Reason), event.Mismatches, event.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to append lock event: %w", err)
	}
	return nil
}

// Recent returns up to n most recent events, oldest first.
func (h *EncryptedLockHistory) Recent(n int) ([]domain.LockEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := h.db.Query(`
		SELECT id, locked_at, reason, mismatches, session_id FROM (
			SELECT * FROM lock_events ORDER BY locked_at DESC, seq DESC LIMIT ?
		) ORDER BY locked_at ASC, seq ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query lock events: %w", err)
	}
	defer rows.Close()

	var events []domain.LockEvent
	for rows.Next() {
		var (
			ev     domain.LockEvent
			nanos  int64
			reason string
		)
		if err := rows.Scan(&ev.ID, &nanos, &reason, &ev.Mismatches, &ev.SessionID); err != nil {
			return nil, err
		}
		ev.LockedAt = time.Unix(0, nanos)
		ev.Reason = domain.LockReason(reason)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (h *EncryptedLockHistory) Count() (int, error) {
	var n int
	err := h.db.QueryRow(`SELECT COUNT(*) FROM lock_events`).Scan(&n)
	return n, err
}

// Path returns the database path.
func (h *EncryptedLockHistory) Path() string {
	return h.dbPath
}

// Close closes the database.
func (h *EncryptedLockHistory) Close() error {
	return h.db.Close()
}

// OpenLockHistory opens the history in dataDir with the key from the data dir.
func OpenLockHistory(dataDir string) (*EncryptedLockHistory, error) {
	key, err := NewFileKeyProvider(dataDir).Key()
	if err != nil {
		return nil, err
	}
	return NewEncryptedLockHistory(dataDir, key)
}

// Ensure EncryptedLockHistory implements domain.LockHistory.
var _ domain.LockHistory = (*EncryptedLockHistory)(nil)
