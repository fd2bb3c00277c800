package sqlite

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/store"
)

const routesSchema = `
CREATE TABLE IF NOT EXISTS routes (
	account    TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	agent_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (account, sender_id)
);
`

var _ store.RouteStore = (*Store)(nil)

// Bind records the agent route for a sender. First writer wins; later calls
// for the same (account, sender) are no-ops.
func (s *Store) Bind(account, senderID, agentID string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO routes (account, sender_id, agent_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(account, sender_id) DO NOTHING`,
		account, senderID, agentID, time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("bind agent route: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AgentFor returns the bound agent id for a sender, if any.
func (s *Store) AgentFor(account, senderID string) (string, bool) {
	var agentID string
	err := s.db.QueryRow(
		`SELECT agent_id FROM routes WHERE account = ? AND sender_id = ?`,
		account, senderID,
	).Scan(&agentID)
	if err != nil {
		return "", false
	}
	return agentID, true
}
