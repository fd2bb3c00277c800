package store

// RouteStore persists the sender→agent route bound on first contact, so a
// sender keeps talking to the same agent across restarts.
type RouteStore interface {
	// Bind records the route for (account, sender) unless one already
	// exists. created is false when the sender was already bound.
	Bind(account, senderID, agentID string) (created bool, err error)

	// AgentFor returns the bound agent id for a sender, if any.
	AgentFor(account, senderID string) (string, bool)
}
