package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrServerOffline indicates the distribution server is unreachable
	ErrServerOffline = errors.New("distribution server is unreachable")

	// ErrNotFound indicates the requested index, bundle or asset does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedKind indicates an asset kind with no path suffix mapping
	ErrUnsupportedKind = errors.New("unsupported asset kind")

	// ErrManifestUnavailable indicates the platform dependency manifest could not be loaded
	ErrManifestUnavailable = errors.New("dependency manifest unavailable")

	// ErrSyncInProgress indicates Run was called while another run is active
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrBundleUnloaded indicates a bundle handle was used after Unload
	ErrBundleUnloaded = errors.New("bundle has been unloaded")

	// ErrSizeMismatch indicates downloaded bytes disagree with the index size
	ErrSizeMismatch = errors.New("bundle size does not match index")

	// ErrHashMismatch indicates downloaded bytes disagree with the index hash
	ErrHashMismatch = errors.New("bundle hash does not match index")

	// ErrUnsafePath indicates a record name that resolves outside the cache root
	ErrUnsafePath = errors.New("bundle name escapes cache root")
)
