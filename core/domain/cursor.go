package domain

import "time"

// SyncStatus is the per-account sync state machine's current state.
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusError     SyncStatus = "error"
)

// SyncCursor is the durable per-account sync progress record. LastSyncToken
// only advances after the batch it represents has been durably persisted;
// TotalEmailsSynced is monotone non-decreasing under successful batches.
type SyncCursor struct {
	AccountID         string
	LastSyncToken     string
	LastSyncDate      *time.Time
	TotalEmailsSynced int64
	LastError         string
	Status            SyncStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
