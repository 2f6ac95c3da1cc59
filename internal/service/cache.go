package service

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/mmcdole/bundlesync/internal/bundle"
	"github.com/mmcdole/bundlesync/internal/domain"
)

// Handle is an opened bundle.
type Handle interface {
	LoadAsset(name string, kind domain.AssetKind) (*domain.Asset, error)
	SceneOnly() bool
	Unload()
}

// Opener opens the bundle file at a filesystem path.
type Opener interface {
	Open(filePath string) (Handle, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(filePath string) (Handle, error)

func (f OpenerFunc) Open(filePath string) (Handle, error) { return f(filePath) }

// BundleOpener opens bundle files with the bundle package.
func BundleOpener() Opener {
	return OpenerFunc(func(filePath string) (Handle, error) {
		b, err := bundle.Open(filePath)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	Root      string          // cache root holding bundles and the manifest
	Platform  domain.Platform // names the dependency manifest bundle
	Extension string          // bundle file extension without the dot
	// Editor skips bundle-backed loads and serves every request from
	// the packaged store.
	Editor bool
	// Reclaim runs after CleanAllAsset. Nil uses runtime.GC.
	Reclaim func()
}

type loadedBundle struct {
	handle   Handle
	refCount int
	deps     []string // dependencies acquired when this entry was created
}

// Cache loads assets from bundles under the cache root, loading each
// bundle's dependencies first and counting references per bundle.
//
// Every LoadAsset served from a bundle, and every load of a scene
// bundle, acquires one reference and must be paired with Release. A
// bundle whose count drops to zero is unloaded and releases the
// dependencies it acquired. CleanAllAsset unloads everything
// regardless of counts.
type Cache struct {
	opts      CacheOptions
	opener    Opener
	resources domain.ResourceStore
	logger    *slog.Logger

	mu             sync.Mutex
	manifest       *bundle.Manifest
	manifestHandle Handle
	loaded         map[string]*loadedBundle
	opening        map[string]bool
}

// NewCache creates a bundle cache. resources may be nil when there is
// no packaged store.
func NewCache(opts CacheOptions, opener Opener, resources domain.ResourceStore, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if opener == nil {
		opener = BundleOpener()
	}
	if opts.Extension == "" {
		opts.Extension = "unity3d"
	}
	if opts.Platform == "" {
		opts.Platform = domain.CurrentPlatform()
	}
	if opts.Reclaim == nil {
		opts.Reclaim = runtime.GC
	}
	return &Cache{
		opts:      opts,
		opener:    opener,
		resources: resources,
		logger:    logger,
		loaded:    make(map[string]*loadedBundle),
		opening:   make(map[string]bool),
	}
}

// BundleName returns the bundle file name serving logicalPath, e.g.
// "ui/panel" as a prefab is "ui/panel.prefab.unity3d".
func (c *Cache) BundleName(logicalPath string, kind domain.AssetKind) (string, bool) {
	assetPath, ok := domain.AssetPath(logicalPath, kind)
	if !ok {
		return "", false
	}
	return assetPath + "." + c.opts.Extension, true
}

// LoadAsset returns the asset at logicalPath, relative to the asset
// root and with or without its suffix. Bundles are tried first, then
// the packaged store.
func (c *Cache) LoadAsset(logicalPath string, kind domain.AssetKind) (*domain.Asset, bool) {
	assetPath, ok := domain.AssetPath(logicalPath, kind)
	if !ok {
		c.logger.Warn("load asset: unsupported kind", "kind", kind, "path", logicalPath)
		return nil, false
	}

	if !c.opts.Editor {
		if asset := c.loadFromBundle(assetPath, kind); asset != nil {
			return asset, true
		}
	}

	if c.resources == nil {
		return nil, false
	}
	return c.resources.Get(domain.StripSuffix(assetPath))
}

func (c *Cache) loadFromBundle(assetPath string, kind domain.AssetKind) *domain.Asset {
	c.mu.Lock()
	defer c.mu.Unlock()

	assetName := strings.ToLower(path.Base(assetPath))
	bundleName := assetPath + "." + c.opts.Extension

	if entry, ok := c.loaded[bundleName]; ok {
		entry.refCount++
		return c.loadSubAsset(entry, bundleName, assetName, kind)
	}

	if err := c.ensureManifest(); err != nil {
		c.logger.Debug("bundle load skipped", "bundle", bundleName, "error", err)
		return nil
	}

	entry, err := c.open(bundleName)
	if err != nil {
		c.logger.Debug("bundle not available", "bundle", bundleName, "error", err)
		return nil
	}
	return c.loadSubAsset(entry, bundleName, assetName, kind)
}

// loadSubAsset reads the requested asset from a bundle whose reference
// has just been taken. A miss gives the reference back, except for
// scene bundles: they hold nothing loadable and loading one is the
// point of the call.
func (c *Cache) loadSubAsset(entry *loadedBundle, bundleName, assetName string, kind domain.AssetKind) *domain.Asset {
	if entry.handle.SceneOnly() {
		return nil
	}
	asset, err := entry.handle.LoadAsset(assetName, kind)
	if err != nil {
		c.logger.Warn("asset missing from bundle", "bundle", bundleName, "asset", assetName, "error", err)
		c.release(bundleName)
		return nil
	}
	return asset
}

// acquire takes one reference on a dependency bundle, opening it if
// needed. It reports whether a reference is now held.
func (c *Cache) acquire(bundleName string) bool {
	if entry, ok := c.loaded[bundleName]; ok {
		entry.refCount++
		return true
	}
	if c.opening[bundleName] {
		return false
	}
	if _, err := c.open(bundleName); err != nil {
		c.logger.Warn("failed to load dependency bundle", "bundle", bundleName, "error", err)
		return false
	}
	return true
}

// open creates the entry for bundleName with one reference. The entry
// holds a reference on each of its own dependencies, however it was
// reached, so they stay loaded for as long as it does. Bundles already
// being opened further up a dependency cycle are skipped.
func (c *Cache) open(bundleName string) (*loadedBundle, error) {
	c.opening[bundleName] = true
	defer delete(c.opening, bundleName)

	var acquired []string
	for _, dep := range c.manifest.AllDependencies(bundleName) {
		if c.acquire(dep) {
			acquired = append(acquired, dep)
		}
	}

	handle, err := c.opener.Open(c.bundlePath(bundleName))
	if err != nil {
		for _, dep := range acquired {
			c.release(dep)
		}
		return nil, err
	}
	entry := &loadedBundle{handle: handle, refCount: 1, deps: acquired}
	c.loaded[bundleName] = entry
	return entry, nil
}

func (c *Cache) release(bundleName string) bool {
	entry, ok := c.loaded[bundleName]
	if !ok {
		return false
	}
	entry.refCount--
	if entry.refCount > 0 {
		return true
	}
	entry.handle.Unload()
	delete(c.loaded, bundleName)
	for _, dep := range entry.deps {
		c.release(dep)
	}
	c.logger.Debug("bundle unloaded", "bundle", bundleName)
	return true
}

func (c *Cache) ensureManifest() error {
	if c.manifest != nil {
		return nil
	}
	name := string(c.opts.Platform)
	handle, err := c.opener.Open(c.bundlePath(name))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrManifestUnavailable, err)
	}
	manifest, err := bundle.ManifestFromBundle(handle)
	if err != nil {
		handle.Unload()
		return fmt.Errorf("%w: %v", domain.ErrManifestUnavailable, err)
	}
	c.manifest, c.manifestHandle = manifest, handle
	return nil
}

func (c *Cache) bundlePath(bundleName string) string {
	return filepath.Join(c.opts.Root, filepath.FromSlash(strings.TrimLeft(bundleName, "/")))
}

// Release drops the reference taken by one LoadAsset of logicalPath.
// It reports false when the bundle is not loaded.
func (c *Cache) Release(logicalPath string, kind domain.AssetKind) bool {
	bundleName, ok := c.BundleName(logicalPath, kind)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.release(bundleName)
}

// CleanAllAsset unloads every cached bundle and the dependency
// manifest. Assets previously returned by LoadAsset are invalid after
// this call.
func (c *Cache) CleanAllAsset() {
	c.mu.Lock()
	for name, entry := range c.loaded {
		entry.handle.Unload()
		delete(c.loaded, name)
	}
	if c.manifestHandle != nil {
		c.manifestHandle.Unload()
	}
	c.manifest, c.manifestHandle = nil, nil
	c.mu.Unlock()

	c.opts.Reclaim()
}

// RefCount returns the reference count of a loaded bundle.
func (c *Cache) RefCount(bundleName string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.loaded[bundleName]
	if !ok {
		return 0, false
	}
	return entry.refCount, true
}

// Loaded lists the names of loaded bundles, sorted.
func (c *Cache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.loaded))
	for name := range c.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
