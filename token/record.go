package token

import "time"

// UserID is the provider-assigned stable identifier of a user. It is the only
// key into a Store.
type UserID string

// Record is one user's current OAuth grant.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"` // Zero means the expiry is unknown.
	Scope        string    `json:"scope"`
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Grant is a token response as returned by the provider, before it has been
// normalized into a Record.
//
// ExpiryDate and ExpiresIn hold the raw values the provider sent, which may be
// numbers, numeric strings, timestamps or nothing at all. They are resolved by
// ExpiryPolicy.ComputeExpiry.
type Grant struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiryDate   any // absolute expiry, epoch milliseconds or a time
	ExpiresIn    any // relative lifetime in seconds
}
