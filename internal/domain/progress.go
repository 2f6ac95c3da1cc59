package domain

// ProgressFunc reports transfer progress for a single request.
// total is -1 when the server did not announce a length.
type ProgressFunc func(read, total int64)

// SyncResult summarizes what happened during a sync run.
type SyncResult struct {
	Remote     int      // records in the remote index (0 when unavailable)
	Batch      int      // records scheduled for download
	Downloaded int      // records written and verified
	Failed     []string // names that failed to download or verify
	Scripts    int      // script chunks loaded from the script directory
}
