package tui

import "github.com/mmcdole/bundlesync/internal/domain"

// SyncProgressMsg carries one observer update
type SyncProgressMsg struct {
	Progress domain.SyncProgress
}

// SyncDoneMsg signals the sync run returned
type SyncDoneMsg struct {
	Result domain.SyncResult
	Err    error
}
