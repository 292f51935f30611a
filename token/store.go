package token

import "context"

// Store keeps one Record per UserID.
//
// Implementations must write a record as a whole so that the access token and
// its expiry are never observed out of step.
type Store interface {
	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id UserID) (*Record, error)
	// Set stores rec for id, replacing any previous record.
	Set(ctx context.Context, id UserID, rec *Record) error
	// Delete removes the record for id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id UserID) error
}
