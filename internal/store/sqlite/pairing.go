// Package sqlite provides the SQLite-backed bridge store.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/larkbridge/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS pairing (
	account     TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	chat_id     TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL UNIQUE,
	created_at  INTEGER NOT NULL,
	approved_at INTEGER,
	PRIMARY KEY (account, sender_id)
);
CREATE INDEX IF NOT EXISTS idx_pairing_code ON pairing(code);
`

// Store persists pairing requests and agent routes in a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.PairingStore = (*Store)(nil)

// NewStore opens (creating if needed) the bridge database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// The driver is not safe for concurrent writes on one connection pool
	// beyond what SQLite serializes itself; a single connection avoids
	// SQLITE_BUSY churn for these low-traffic tables.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema + routesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Upsert(account, senderID, chatID string) (store.PairingRequest, bool, error) {
	var req store.PairingRequest
	if account == "" || senderID == "" {
		return req, false, errors.New("pairing: account and sender id required")
	}
	existing, err := s.get(account, senderID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return req, false, err
	}

	req = store.PairingRequest{
		Account:   account,
		SenderID:  senderID,
		ChatID:    chatID,
		Code:      newCode(),
		CreatedAt: time.Now(),
	}
	_, err = s.db.Exec(
		`INSERT INTO pairing (account, sender_id, chat_id, code, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account, sender_id) DO NOTHING`,
		account, senderID, chatID, req.Code, req.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return req, false, fmt.Errorf("insert pairing request: %w", err)
	}
	// A concurrent insert may have won the conflict; read back the row that
	// actually landed so callers always see the stored code.
	stored, err := s.get(account, senderID)
	if err != nil {
		return req, false, err
	}
	created := stored.Code == req.Code
	if created {
		slog.Info("Pairing request created", "account", account, "sender", senderID, "code", stored.Code)
	}
	return stored, created, nil
}

func (s *Store) Approve(code string) (store.PairingRequest, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return store.PairingRequest{}, errors.New("pairing: empty code")
	}
	now := time.Now()
	res, err := s.db.Exec(
		`UPDATE pairing SET approved_at = ? WHERE code = ? AND approved_at IS NULL`,
		now.UnixMilli(), code,
	)
	if err != nil {
		return store.PairingRequest{}, fmt.Errorf("approve pairing: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.PairingRequest{}, fmt.Errorf("pairing: no pending request with code %q", code)
	}
	row := s.db.QueryRow(
		`SELECT account, sender_id, chat_id, code, created_at, approved_at FROM pairing WHERE code = ?`, code)
	req, err := scanRequest(row)
	if err != nil {
		return store.PairingRequest{}, err
	}
	slog.Info("Pairing approved", "account", req.Account, "sender", req.SenderID)
	return req, nil
}

func (s *Store) IsPaired(account, senderID string) bool {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM pairing WHERE account = ? AND sender_id = ? AND approved_at IS NOT NULL`,
		account, senderID,
	).Scan(&one)
	return err == nil
}

func (s *Store) AllowFrom(account string) []string {
	rows, err := s.db.Query(
		`SELECT sender_id FROM pairing WHERE account = ? AND approved_at IS NOT NULL ORDER BY created_at`,
		account,
	)
	if err != nil {
		slog.Warn("Failed to read pairing allow-list", "account", account, "error", err)
		return nil
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) List(account string) ([]store.PairingRequest, error) {
	rows, err := s.db.Query(
		`SELECT account, sender_id, chat_id, code, created_at, approved_at FROM pairing
		 WHERE account = ? ORDER BY approved_at IS NOT NULL, created_at`,
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("list pairing requests: %w", err)
	}
	defer rows.Close()
	var reqs []store.PairingRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(account, senderID string) (store.PairingRequest, error) {
	row := s.db.QueryRow(
		`SELECT account, sender_id, chat_id, code, created_at, approved_at FROM pairing
		 WHERE account = ? AND sender_id = ?`,
		account, senderID,
	)
	return scanRequest(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (store.PairingRequest, error) {
	var (
		req      store.PairingRequest
		created  int64
		approved sql.NullInt64
	)
	err := row.Scan(&req.Account, &req.SenderID, &req.ChatID, &req.Code, &created, &approved)
	if err != nil {
		return req, err
	}
	req.CreatedAt = time.UnixMilli(created)
	if approved.Valid {
		t := time.UnixMilli(approved.Int64)
		req.ApprovedAt = &t
	}
	return req, nil
}

// newCode derives a short human-typeable code from a UUID.
func newCode() string {
	id := uuid.NewString()
	return strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
}
