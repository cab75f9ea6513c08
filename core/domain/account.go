// Package domain holds the core entities of the mail archive, free of any
// persistence or transport concerns.
package domain

// Account is the unit of sync: one remote mailbox, identified by the id the
// provider assigned it. An Account owns exactly one SyncCursor and at most
// one active OAuthToken.
type Account struct {
	ID string
}
