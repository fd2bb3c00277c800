// Package store defines the storage interfaces consumed by the bridge.
package store

import "time"

// PairingRequest is one pending or approved DM pairing handshake.
type PairingRequest struct {
	Account    string     `json:"account"`
	SenderID   string     `json:"sender_id"`
	ChatID     string     `json:"chat_id"`
	Code       string     `json:"code"`
	CreatedAt  time.Time  `json:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// PairingStore owns pairing requests and the persisted allow-list that
// approvals feed. Upsert is idempotent per (account, sender): repeated
// messages before approval reuse the same code.
type PairingStore interface {
	// Upsert creates or fetches the pairing request for a sender.
	// created is false when an unapproved request already existed.
	Upsert(account, senderID, chatID string) (req PairingRequest, created bool, err error)

	// Approve marks the request with the given code as approved, which adds
	// the sender to the persisted allow-list.
	Approve(code string) (PairingRequest, error)

	// IsPaired reports whether the sender has an approved request.
	IsPaired(account, senderID string) bool

	// AllowFrom returns the persisted allow-list for an account: the sender
	// ids of all approved requests.
	AllowFrom(account string) []string

	// List returns all requests for an account, pending first.
	List(account string) ([]PairingRequest, error)

	Close() error
}
