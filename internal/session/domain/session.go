package domain

import "time"

// UserSnapshot is the denormalized slice of a user stored with each session so
// token verification does not need a database round trip.
type UserSnapshot struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	IsActive  bool   `json:"isActive"`
}

// Record is the value stored under a session key. A record exists if and only if
// its session is active; RefreshJTI changes on every rotation.
type Record struct {
	SessionID   string         `json:"sessionId"`
	UserID      string         `json:"userId"`
	AccessJTI   string         `json:"accessJti"`
	RefreshJTI  string         `json:"refreshJti"`
	RefreshHash string         `json:"refreshHash,omitempty"` // SHA-256 of the refresh token
	User        UserSnapshot   `json:"user"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	RotatedFrom string         `json:"rotatedFrom,omitempty"` // previous session id, empty for a fresh login
}

// TokenIDs returns the access and refresh jti of r, skipping empty values.
func (r *Record) TokenIDs() []string {
	ids := make([]string, 0, 2)
	for _, id := range []string{r.AccessJTI, r.RefreshJTI} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Identity is what a verified credential resolves to. SessionID is always the
// session the credential belongs to.
type Identity struct {
	UserSnapshot
	SessionID string `json:"ssid"`
	// TokenID is the jti of the verified credential. Not exposed to clients.
	TokenID string `json:"-"`
}

// NewIdentity builds the identity for a session record.
func NewIdentity(r *Record, tokenID string) *Identity {
	return &Identity{UserSnapshot: r.User, SessionID: r.SessionID, TokenID: tokenID}
}
