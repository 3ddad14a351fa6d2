package domain

import "time"

// SessionState is the lifecycle state of the authenticated trading session.
type SessionState string

const (
	SessionNotAuthenticated SessionState = "not_authenticated"
	SessionAuthPending      SessionState = "auth_pending"
	SessionAuthenticated    SessionState = "authenticated"
	SessionExpired          SessionState = "expired"
)

// Credential is a session credential obtained from the REST authentication
// collaborator. The engine never derives credentials itself.
type Credential struct {
	Address   string
	Token     string
	Nonce     int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionInfo is a point-in-time copy of trading session state for external
// readers.
type SessionInfo struct {
	State     SessionState
	SessionID string
	Epoch     uint64
	ChainHead uint64
	HeadTime  time.Time
}
