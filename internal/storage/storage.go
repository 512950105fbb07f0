// Package storage defines the key-value contract the core consumes and two
// implementations of it: an in-memory store for development and tests, and a
// Postgres store. Values are opaque structured data; no schema is enforced
// at this boundary.
package storage

import "errors"

// ErrNotFound is returned for a key that has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Store is the collaborator contract for the generic key-value engine.
type Store interface {
	GetPersonal(userID, key string) (any, error)
	SetPersonal(userID, key string, value any) error
	GetGlobal(key string) (any, error)
	// SetGlobal records actor (a user id or "server") alongside the write.
	SetGlobal(key string, value any, actor string) error
}
