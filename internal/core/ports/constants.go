package ports

import "time"

const (
	DefaultSnapshotTTL    = 30 * time.Second // Capability snapshot validity window
	DefaultSignalTimeout  = 5 * time.Second  // Per reachability signal
	DefaultAttemptTimeout = 10 * time.Second // Per channel attempt
	DefaultSyncTimeout    = 10 * time.Second // Per reconciliation request
	DefaultSyncInterval   = time.Minute
	MaxConcurrentSyncs    = 8 // Maximum concurrent reconciliation requests
)
