package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mmcdole/bundlesync/internal/bundle"
	"github.com/mmcdole/bundlesync/internal/domain"
	"github.com/mmcdole/bundlesync/internal/index"
	"github.com/mmcdole/bundlesync/internal/transport"
)

// Stage is a step of a sync run.
type Stage int

const (
	StageIdle Stage = iota
	StageCheckIndex
	StageDownloading
	StageLoadManifestAssets
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageCheckIndex:
		return "check_index"
	case StageDownloading:
		return "downloading"
	case StageLoadManifestAssets:
		return "load_manifest_assets"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// UpdaterOptions configures an Updater.
type UpdaterOptions struct {
	Server        string          // host[:port] or base URL of the distribution server
	Platform      domain.Platform // server path segment
	CacheRoot     string          // local directory holding the index and bundles
	BundleRootDir string          // server path segment above the platform, default "AssetBundles"
	IndexFile     string          // default "list.txt"
	Extension     string          // bundle extension without the dot, default "unity3d"
	ScriptDir     string          // cache root sub-directory holding script bundles, default "lua"
	Hasher        index.Hasher    // zero value selects MD5
	// Verify checks each download against the size and hash in the
	// remote index before it is written.
	Verify bool
}

func (o *UpdaterOptions) withDefaults() {
	if o.Platform == "" {
		o.Platform = domain.CurrentPlatform()
	}
	if o.BundleRootDir == "" {
		o.BundleRootDir = "AssetBundles"
	}
	if o.IndexFile == "" {
		o.IndexFile = "list.txt"
	}
	if o.Extension == "" {
		o.Extension = "unity3d"
	}
	if o.ScriptDir == "" {
		o.ScriptDir = "lua"
	}
	if o.Hasher.Name() == "" {
		o.Hasher = index.MD5
	}
}

// Updater brings the local cache root up to date with the remote index:
// CheckIndex, Downloading, LoadManifestAssets, Done. Runs are strictly
// sequential and one download is in flight at a time.
type Updater struct {
	opts      UpdaterOptions
	fetcher   domain.Fetcher
	resources domain.ResourceStore
	scripts   *Scripts
	observer  domain.SyncObserver
	logger    *slog.Logger

	running atomic.Bool

	mu           sync.Mutex
	stage        Stage
	batch        []domain.BundleRecord
	current      int   // index into batch of the in-flight record
	totalBytes   int64 // declared size of the whole batch
	doneBytes    int64 // declared size of finished records
	partialBytes int64 // declared-size share of the in-flight record

	// per-run state, touched only by the running goroutine
	local     []domain.BundleRecord
	remote    []domain.BundleRecord
	remoteRaw []byte
	verified  map[string]bool
	result    domain.SyncResult
}

// NewUpdater creates a sync orchestrator. resources serves the packaged
// bootstrap index and may be nil. scripts receives the script table
// built in LoadManifestAssets and may be nil.
func NewUpdater(opts UpdaterOptions, fetcher domain.Fetcher, resources domain.ResourceStore, scripts *Scripts, observer domain.SyncObserver, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = domain.NoOpObserver{}
	}
	opts.withDefaults()
	return &Updater{
		opts:      opts,
		fetcher:   fetcher,
		resources: resources,
		scripts:   scripts,
		observer:  observer,
		logger:    logger,
	}
}

// Run performs one sync and calls onDone when it reaches Done. A
// cancelled run records the bundles verified so far in the local index
// and returns ctx.Err() without calling onDone.
func (u *Updater) Run(ctx context.Context, onDone func()) (domain.SyncResult, error) {
	if !u.running.CompareAndSwap(false, true) {
		return domain.SyncResult{}, domain.ErrSyncInProgress
	}
	defer u.running.Store(false)

	u.reset()
	u.logger.Info("sync started", "server", u.opts.Server, "platform", u.opts.Platform)

	for stage := StageCheckIndex; ; {
		u.setStage(stage)

		var err error
		switch stage {
		case StageCheckIndex:
			err = u.checkIndex(ctx)
			stage = StageDownloading
		case StageDownloading:
			err = u.download(ctx)
			stage = StageLoadManifestAssets
		case StageLoadManifestAssets:
			err = u.loadManifestAssets(ctx)
			stage = StageDone
		case StageDone:
			u.logger.Info("sync complete",
				"downloaded", u.result.Downloaded,
				"failed", len(u.result.Failed),
				"scripts", u.result.Scripts)
			if onDone != nil {
				onDone()
			}
			return u.result, nil
		}
		if err != nil {
			u.logger.Warn("sync aborted", "stage", u.Stage(), "error", err)
			return u.result, err
		}
	}
}

func (u *Updater) reset() {
	u.mu.Lock()
	u.stage = StageIdle
	u.batch = nil
	u.current = 0
	u.totalBytes, u.doneBytes, u.partialBytes = 0, 0, 0
	u.mu.Unlock()

	u.local, u.remote, u.remoteRaw = nil, nil, nil
	u.verified = make(map[string]bool)
	u.result = domain.SyncResult{}
}

// Stage returns the current stage.
func (u *Updater) Stage() Stage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stage
}

// Progress returns overall progress in [0, 1]: 0 while checking the
// index, 0.1 to 0.9 across the download batch by declared size, 0.9
// while loading scripts and 1 when done.
func (u *Updater) Progress() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progressLocked()
}

func (u *Updater) progressLocked() float64 {
	switch u.stage {
	case StageDownloading:
		var frac float64
		if u.totalBytes > 0 {
			frac = float64(u.doneBytes+u.partialBytes) / float64(u.totalBytes)
		}
		return 0.1 + 0.8*frac
	case StageLoadManifestAssets:
		return 0.9
	case StageDone:
		return 1
	default:
		return 0
	}
}

func (u *Updater) setStage(s Stage) {
	u.mu.Lock()
	u.stage = s
	u.mu.Unlock()
	u.notify(nil)
}

// notify sends a snapshot to the observer outside the lock.
func (u *Updater) notify(itemErr error) {
	u.mu.Lock()
	p := domain.SyncProgress{
		Stage:    u.stage.String(),
		Fraction: u.progressLocked(),
		Done:     u.current,
		Total:    len(u.batch),
		Error:    itemErr,
	}
	if u.stage == StageDownloading && u.current < len(u.batch) {
		p.Current = u.batch[u.current].Name
	}
	u.mu.Unlock()
	u.observer.OnProgress(p)
}

func (u *Updater) indexPath() string {
	return filepath.Join(u.opts.CacheRoot, u.opts.IndexFile)
}

func (u *Updater) remoteURL(name string) string {
	return transport.JoinURL(transport.BaseURL(u.opts.Server), u.opts.BundleRootDir, string(u.opts.Platform), name)
}

func (u *Updater) checkIndex(ctx context.Context) error {
	u.bootstrap()

	local, err := index.ReadFile(u.indexPath())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			u.logger.Warn("local index unreadable, treating as empty", "path", u.indexPath(), "error", err)
		}
		local = nil
	}
	u.local = local

	data, err := u.fetcher.Get(ctx, u.remoteURL(u.opts.IndexFile), nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		u.logger.Warn("remote index unavailable, nothing to update", "error", err)
		return nil
	}

	remote, err := index.Parse(data)
	if err != nil {
		u.logger.Error("remote index unusable, keeping local state", "error", err)
		return nil
	}
	u.remote, u.remoteRaw = remote, data
	u.result.Remote = len(remote)

	batch := index.Diff(local, remote)
	u.mu.Lock()
	u.batch = batch
	u.totalBytes = index.TotalSize(batch)
	u.mu.Unlock()
	u.result.Batch = len(batch)

	u.logger.Info("index checked", "local", len(local), "remote", len(remote), "downloading", len(batch))
	return nil
}

// bootstrap copies the packaged default index into the cache root when
// there is no local index yet.
func (u *Updater) bootstrap() {
	if _, err := os.Stat(u.indexPath()); !errors.Is(err, fs.ErrNotExist) {
		return
	}
	if u.resources == nil {
		return
	}
	u.logger.Debug("local index not found, trying packaged default")
	asset, ok := u.resources.Get(domain.StripSuffix(u.opts.IndexFile))
	if !ok {
		u.logger.Warn("no packaged default index")
		return
	}
	if err := index.WriteFile(u.indexPath(), asset.Data); err != nil {
		u.logger.Warn("failed to copy packaged index", "error", err)
	}
}

func (u *Updater) download(ctx context.Context) error {
	u.mu.Lock()
	batch := u.batch
	u.mu.Unlock()

	for i, rec := range batch {
		if err := ctx.Err(); err != nil {
			u.commitIndex()
			return err
		}

		u.logger.Debug("downloading bundle", "name", rec.Name, "size", rec.SizeBytes)
		err := u.fetchRecord(ctx, rec)
		if err != nil && ctx.Err() != nil {
			u.commitIndex()
			return ctx.Err()
		}
		if err != nil {
			u.logger.Error("bundle download failed", "name", rec.Name, "error", err)
			u.result.Failed = append(u.result.Failed, rec.Name)
		} else {
			u.verified[rec.Name] = true
			u.result.Downloaded++
		}

		u.mu.Lock()
		u.doneBytes += rec.SizeBytes
		u.partialBytes = 0
		u.current = i + 1
		u.mu.Unlock()
		u.notify(err)
	}

	u.commitIndex()
	return nil
}

func (u *Updater) fetchRecord(ctx context.Context, rec domain.BundleRecord) error {
	rel := filepath.FromSlash(rec.RelPath())
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: %q", domain.ErrUnsafePath, rec.Name)
	}

	data, err := u.fetcher.Get(ctx, u.remoteURL(rec.RelPath()), func(read, total int64) {
		u.onItemProgress(rec.SizeBytes, read, total)
	})
	if err != nil {
		return err
	}

	if u.opts.Verify {
		if int64(len(data)) != rec.SizeBytes {
			return fmt.Errorf("%w: got %d bytes, want %d", domain.ErrSizeMismatch, len(data), rec.SizeBytes)
		}
		if sum := u.opts.Hasher.Sum(data); !strings.EqualFold(sum, rec.ContentHash) {
			return fmt.Errorf("%w: got %s, want %s", domain.ErrHashMismatch, sum, rec.ContentHash)
		}
	}

	return index.WriteFile(filepath.Join(u.opts.CacheRoot, rel), data)
}

// onItemProgress scales the transport's byte count onto the record's
// declared size so the batch fraction never moves backwards.
func (u *Updater) onItemProgress(size, read, total int64) {
	var partial int64
	switch {
	case total > 0:
		partial = int64(float64(size) * float64(read) / float64(total))
	default:
		partial = read
	}
	partial = max(0, min(partial, size))

	u.mu.Lock()
	changed := partial > u.partialBytes
	if changed {
		u.partialBytes = partial
	}
	u.mu.Unlock()
	if changed {
		u.notify(nil)
	}
}

// commitIndex persists the local index. A fully successful batch writes
// the remote bytes as fetched. Otherwise a record only advances when its
// bundle was verified, and failed records keep their prior local entry.
func (u *Updater) commitIndex() {
	if u.remoteRaw == nil {
		return
	}

	data := u.remoteRaw
	if len(u.verified) != len(u.batch) {
		inBatch := make(map[string]bool, len(u.batch))
		for _, r := range u.batch {
			inBatch[r.Name] = true
		}
		prior := index.ByName(u.local)

		merged := make([]domain.BundleRecord, 0, len(u.remote))
		for _, r := range u.remote {
			switch {
			case !inBatch[r.Name] || u.verified[r.Name]:
				merged = append(merged, r)
			default:
				if old, ok := prior[r.Name]; ok {
					merged = append(merged, old)
				}
			}
		}
		data = index.Serialize(merged)
	}

	if err := index.WriteFile(u.indexPath(), data); err != nil {
		u.logger.Error("failed to write local index", "error", err)
		return
	}
	u.logger.Debug("local index written", "verified", len(u.verified), "batch", len(u.batch))
}

// loadManifestAssets replaces the script table with the bundles under
// the script directory.
func (u *Updater) loadManifestAssets(ctx context.Context) error {
	dir := filepath.Join(u.opts.CacheRoot, u.opts.ScriptDir)
	chunks, err := LoadScriptChunks(ctx, dir, u.opts.Extension, u.logger)
	if err != nil {
		return err
	}
	if u.scripts != nil {
		u.scripts.Replace(chunks)
	}
	u.result.Scripts = len(chunks)
	u.logger.Debug("scripts loaded", "count", len(chunks))
	return nil
}

// LoadScriptChunks reads the first asset of every bundle under dir.
// Each entry is keyed by its path relative to dir with the content and
// bundle suffixes removed, e.g. "ui/main.lua.unity3d" is "ui/main". A
// missing dir yields an empty table. Only cancellation is an error.
func LoadScriptChunks(ctx context.Context, dir, ext string, logger *slog.Logger) (map[string][]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ext = "." + strings.TrimPrefix(ext, ".")
	chunks := make(map[string][]byte)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ext) {
			return nil
		}

		b, err := bundle.Open(p)
		if err != nil {
			logger.Warn("skipping unreadable script bundle", "path", p, "error", err)
			return nil
		}
		defer b.Unload()

		assets, err := b.Assets()
		if err != nil || len(assets) == 0 {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		key := domain.StripSuffix(domain.StripSuffix(filepath.ToSlash(rel)))
		chunks[key] = assets[0].Data
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("script directory walk failed", "dir", dir, "error", err)
	}
	return chunks, nil
}
