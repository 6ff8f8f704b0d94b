package models

import "time"

// RefreshToken is a server-side session. Only a digest of the opaque token
// handed to the client is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	Expires   time.Time
	CreatedAt time.Time
}
