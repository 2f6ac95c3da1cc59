package domain

// ResourceStore is the read-only store of assets packaged with the
// build. Keys are asset paths without their suffix.
type ResourceStore interface {
	Get(key string) (*Asset, bool)
}

// SyncProgress reports progress during a sync run.
type SyncProgress struct {
	Stage    string  // stage name, see service.Stage
	Fraction float64 // overall progress in [0, 1]
	Current  string  // bundle being downloaded, if any
	Done     int     // batch items finished
	Total    int     // batch size
	Error    error   // per-item error, if the last item failed
}

// SyncObserver receives progress updates during sync operations.
type SyncObserver interface {
	OnProgress(progress SyncProgress)
}

// ObserverFunc adapts a function to SyncObserver.
type ObserverFunc func(SyncProgress)

func (f ObserverFunc) OnProgress(p SyncProgress) { f(p) }

// NoOpObserver discards progress updates (for testing/batch operations).
type NoOpObserver struct{}

func (NoOpObserver) OnProgress(SyncProgress) {}
