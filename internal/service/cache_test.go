package service

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mmcdole/bundlesync/internal/bundle"
	"github.com/mmcdole/bundlesync/internal/domain"
	"github.com/mmcdole/bundlesync/internal/store"
)

// fakeHandle is an in-memory bundle.
type fakeHandle struct {
	assets    map[string]domain.Asset
	sceneOnly bool
	unloaded  bool
}

func (h *fakeHandle) LoadAsset(name string, kind domain.AssetKind) (*domain.Asset, error) {
	if h.unloaded {
		return nil, domain.ErrBundleUnloaded
	}
	a, ok := h.assets[name]
	if !ok || (kind != "" && a.Kind != kind) {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (h *fakeHandle) SceneOnly() bool { return h.sceneOnly }
func (h *fakeHandle) Unload()         { h.unloaded = true }

// fakeOpener serves fakeHandles by path relative to root and records
// the order of opens.
type fakeOpener struct {
	root    string
	bundles map[string]func() *fakeHandle
	opened  []string
}

func (o *fakeOpener) Open(filePath string) (Handle, error) {
	rel, _ := filepath.Rel(o.root, filePath)
	rel = filepath.ToSlash(rel)
	mk, ok := o.bundles[rel]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o.opened = append(o.opened, rel)
	return mk(), nil
}

func (o *fakeOpener) opens(name string) int {
	n := 0
	for _, opened := range o.opened {
		if opened == name {
			n++
		}
	}
	return n
}

func manifestHandle(t *testing.T, deps map[string][]string) func() *fakeHandle {
	t.Helper()
	asset, err := (&bundle.Manifest{Bundles: deps}).Asset()
	if err != nil {
		t.Fatal(err)
	}
	return func() *fakeHandle {
		return &fakeHandle{assets: map[string]domain.Asset{bundle.ManifestAssetName: asset}}
	}
}

func assetHandle(name string, kind domain.AssetKind) func() *fakeHandle {
	return func() *fakeHandle {
		return &fakeHandle{assets: map[string]domain.Asset{name: {Name: name, Kind: kind, Data: []byte(name)}}}
	}
}

func newTestCache(t *testing.T, deps map[string][]string, extra map[string]func() *fakeHandle) (*Cache, *fakeOpener) {
	t.Helper()
	root := t.TempDir()
	opener := &fakeOpener{root: root, bundles: map[string]func() *fakeHandle{
		"Windows": manifestHandle(t, deps),
	}}
	for k, v := range extra {
		opener.bundles[k] = v
	}
	cache := NewCache(CacheOptions{Root: root, Platform: domain.PlatformWindows, Reclaim: func() {}}, opener, nil, nil)
	return cache, opener
}

func TestCacheRefCountGrowth(t *testing.T) {
	cache, opener := newTestCache(t, nil, map[string]func() *fakeHandle{
		"ui/panel.prefab.unity3d": assetHandle("panel.prefab", domain.KindPrefab),
	})

	for i := 0; i < 2; i++ {
		asset, ok := cache.LoadAsset("ui/panel", domain.KindPrefab)
		if !ok {
			t.Fatalf("LoadAsset #%d failed", i+1)
		}
		if asset.Name != "panel.prefab" {
			t.Errorf("asset name = %q", asset.Name)
		}
	}

	count, ok := cache.RefCount("ui/panel.prefab.unity3d")
	if !ok || count != 2 {
		t.Errorf("RefCount = %d, %v, want 2", count, ok)
	}
	if n := opener.opens("ui/panel.prefab.unity3d"); n != 1 {
		t.Errorf("bundle opened %d times, want 1", n)
	}
	if n := opener.opens("Windows"); n != 1 {
		t.Errorf("manifest opened %d times, want 1", n)
	}
}

func TestCacheDependencyOrdering(t *testing.T) {
	deps := map[string][]string{
		"x.prefab.unity3d": {"y.unity3d"},
		"y.unity3d":        {"z.unity3d"},
	}
	cache, opener := newTestCache(t, deps, map[string]func() *fakeHandle{
		"x.prefab.unity3d": assetHandle("x.prefab", domain.KindPrefab),
		"y.unity3d":        assetHandle("y.mat", domain.KindMaterial),
		"z.unity3d":        assetHandle("z.shader", domain.KindShader),
	})

	if _, ok := cache.LoadAsset("x", domain.KindPrefab); !ok {
		t.Fatal("LoadAsset(x) failed")
	}
	want := []string{"Windows", "z.unity3d", "y.unity3d", "x.prefab.unity3d"}
	if !reflect.DeepEqual(opener.opened, want) {
		t.Errorf("open order = %v, want %v", opener.opened, want)
	}
	if got := cache.Loaded(); !reflect.DeepEqual(got, []string{"x.prefab.unity3d", "y.unity3d", "z.unity3d"}) {
		t.Errorf("Loaded = %v", got)
	}
}

func TestCacheDependencyLoadedDirectly(t *testing.T) {
	deps := map[string][]string{
		"x.prefab.unity3d": {"y.mat.unity3d"},
		"y.mat.unity3d":    {"z.shader.unity3d"},
	}
	cache, opener := newTestCache(t, deps, map[string]func() *fakeHandle{
		"x.prefab.unity3d": assetHandle("x.prefab", domain.KindPrefab),
		"y.mat.unity3d":    assetHandle("y.mat", domain.KindMaterial),
		"z.shader.unity3d": assetHandle("z.shader", domain.KindShader),
	})

	if _, ok := cache.LoadAsset("x", domain.KindPrefab); !ok {
		t.Fatal("LoadAsset(x) failed")
	}
	if _, ok := cache.LoadAsset("y", domain.KindMaterial); !ok {
		t.Fatal("LoadAsset(y) failed")
	}
	if !cache.Release("x", domain.KindPrefab) {
		t.Fatal("Release(x) = false")
	}

	if n, ok := cache.RefCount("y.mat.unity3d"); !ok || n != 1 {
		t.Errorf("y refcount = %d, %v, want 1", n, ok)
	}
	if n, ok := cache.RefCount("z.shader.unity3d"); !ok || n != 1 {
		t.Errorf("z refcount = %d, %v, want 1 while y is held", n, ok)
	}
	if n := opener.opens("z.shader.unity3d"); n != 1 {
		t.Errorf("z opened %d times, want 1", n)
	}

	cache.Release("y", domain.KindMaterial)
	if got := cache.Loaded(); len(got) != 0 {
		t.Errorf("Loaded after releasing y = %v", got)
	}
}

func TestCacheDependencyCycle(t *testing.T) {
	deps := map[string][]string{
		"x.prefab.unity3d": {"y.mat.unity3d"},
		"y.mat.unity3d":    {"x.prefab.unity3d"},
	}
	cache, _ := newTestCache(t, deps, map[string]func() *fakeHandle{
		"x.prefab.unity3d": assetHandle("x.prefab", domain.KindPrefab),
		"y.mat.unity3d":    assetHandle("y.mat", domain.KindMaterial),
	})

	if _, ok := cache.LoadAsset("x", domain.KindPrefab); !ok {
		t.Fatal("LoadAsset(x) failed")
	}
	if got := cache.Loaded(); !reflect.DeepEqual(got, []string{"x.prefab.unity3d", "y.mat.unity3d"}) {
		t.Errorf("Loaded = %v", got)
	}
	cache.Release("x", domain.KindPrefab)
	if got := cache.Loaded(); len(got) != 0 {
		t.Errorf("Loaded after release = %v", got)
	}
}

func TestCacheReleaseEvictsDependencies(t *testing.T) {
	deps := map[string][]string{
		"a.prefab.unity3d": {"shared.unity3d"},
		"b.prefab.unity3d": {"shared.unity3d"},
	}
	cache, _ := newTestCache(t, deps, map[string]func() *fakeHandle{
		"a.prefab.unity3d": assetHandle("a.prefab", domain.KindPrefab),
		"b.prefab.unity3d": assetHandle("b.prefab", domain.KindPrefab),
		"shared.unity3d":   assetHandle("shared.mat", domain.KindMaterial),
	})

	cache.LoadAsset("a", domain.KindPrefab)
	cache.LoadAsset("b", domain.KindPrefab)
	if n, _ := cache.RefCount("shared.unity3d"); n != 2 {
		t.Fatalf("shared refcount = %d, want 2", n)
	}

	if !cache.Release("a", domain.KindPrefab) {
		t.Fatal("Release(a) = false")
	}
	if _, ok := cache.RefCount("a.prefab.unity3d"); ok {
		t.Error("a still loaded after release to zero")
	}
	if n, _ := cache.RefCount("shared.unity3d"); n != 1 {
		t.Errorf("shared refcount = %d, want 1", n)
	}

	cache.Release("b", domain.KindPrefab)
	if got := cache.Loaded(); len(got) != 0 {
		t.Errorf("Loaded after releasing everything = %v", got)
	}
	if cache.Release("b", domain.KindPrefab) {
		t.Error("Release of unloaded bundle = true")
	}
}

func TestCacheCleanAllAsset(t *testing.T) {
	var handles []*fakeHandle
	cache, opener := newTestCache(t, nil, map[string]func() *fakeHandle{
		"ui/panel.prefab.unity3d": func() *fakeHandle {
			h := assetHandle("panel.prefab", domain.KindPrefab)()
			handles = append(handles, h)
			return h
		},
	})
	reclaimed := 0
	cache.opts.Reclaim = func() { reclaimed++ }

	cache.LoadAsset("ui/panel", domain.KindPrefab)
	cache.LoadAsset("ui/panel", domain.KindPrefab)
	cache.CleanAllAsset()

	if got := cache.Loaded(); len(got) != 0 {
		t.Errorf("Loaded after flush = %v", got)
	}
	if !handles[0].unloaded {
		t.Error("handle not unloaded by flush")
	}
	if reclaimed != 1 {
		t.Errorf("reclaim called %d times", reclaimed)
	}

	if _, ok := cache.LoadAsset("ui/panel", domain.KindPrefab); !ok {
		t.Fatal("LoadAsset after flush failed")
	}
	if n := opener.opens("ui/panel.prefab.unity3d"); n != 2 {
		t.Errorf("bundle opened %d times, want 2 (re-open after flush)", n)
	}
	if n, _ := cache.RefCount("ui/panel.prefab.unity3d"); n != 1 {
		t.Errorf("refcount after re-open = %d, want 1", n)
	}
}

func TestCacheSceneBundle(t *testing.T) {
	cache, _ := newTestCache(t, nil, map[string]func() *fakeHandle{
		"levels/one.unity.unity3d": func() *fakeHandle { return &fakeHandle{sceneOnly: true} },
	})
	if asset, ok := cache.LoadAsset("levels/one", domain.KindScene); ok || asset != nil {
		t.Errorf("scene load returned an asset")
	}
	if n, ok := cache.RefCount("levels/one.unity.unity3d"); !ok || n != 1 {
		t.Errorf("scene bundle refcount = %d, %v, want 1", n, ok)
	}
}

func TestCacheMissingSubAssetReleases(t *testing.T) {
	cache, _ := newTestCache(t, nil, map[string]func() *fakeHandle{
		"ui/panel.prefab.unity3d": assetHandle("other.prefab", domain.KindPrefab),
	})
	if _, ok := cache.LoadAsset("ui/panel", domain.KindPrefab); ok {
		t.Fatal("LoadAsset found a missing asset")
	}
	if got := cache.Loaded(); len(got) != 0 {
		t.Errorf("Loaded = %v, want bundle released after miss", got)
	}
}

func TestCacheUnsupportedKind(t *testing.T) {
	cache, opener := newTestCache(t, nil, nil)
	if _, ok := cache.LoadAsset("ui/icon", domain.AssetKind("texture")); ok {
		t.Error("unsupported kind loaded")
	}
	if len(opener.opened) != 0 {
		t.Errorf("opened %v for unsupported kind", opener.opened)
	}
}

func TestCacheFallsBackToPackagedStore(t *testing.T) {
	resources, err := store.NewPackagedStore("")
	if err != nil {
		t.Fatal(err)
	}
	if err := resources.Put("ui/panel", domain.Asset{Name: "panel.prefab", Kind: domain.KindPrefab, Data: []byte("packaged")}); err != nil {
		t.Fatal(err)
	}

	// No manifest: bundle-backed loads yield nothing.
	root := t.TempDir()
	opener := &fakeOpener{root: root, bundles: map[string]func() *fakeHandle{}}
	cache := NewCache(CacheOptions{Root: root, Platform: domain.PlatformAndroid}, opener, resources, nil)

	asset, ok := cache.LoadAsset("ui/panel.prefab", domain.KindPrefab)
	if !ok || string(asset.Data) != "packaged" {
		t.Fatalf("fallback asset = %+v, %v", asset, ok)
	}

	editor := NewCache(CacheOptions{Root: root, Editor: true}, opener, resources, nil)
	if _, ok := editor.LoadAsset("ui/panel", domain.KindPrefab); !ok {
		t.Error("editor mode did not use packaged store")
	}
	if len(opener.opened) != 0 {
		t.Errorf("opened %v", opener.opened)
	}
}

func TestCacheWithRealBundles(t *testing.T) {
	root := t.TempDir()
	manifest := &bundle.Manifest{Bundles: map[string][]string{
		"ui/panel.prefab.unity3d": {"materials/panel.mat.unity3d"},
	}}
	manifestAsset, err := manifest.Asset()
	if err != nil {
		t.Fatal(err)
	}
	write := func(rel string, assets ...domain.Asset) {
		if err := bundle.WriteFile(filepath.Join(root, filepath.FromSlash(rel)), assets); err != nil {
			t.Fatal(err)
		}
	}
	write("IOS", manifestAsset)
	write("ui/panel.prefab.unity3d", domain.Asset{Name: "Panel.prefab", Kind: domain.KindPrefab, Data: []byte("prefab")})
	write("materials/panel.mat.unity3d", domain.Asset{Name: "panel.mat", Kind: domain.KindMaterial, Data: []byte("mat")})

	cache := NewCache(CacheOptions{Root: root, Platform: domain.PlatformIOS}, nil, nil, nil)
	asset, ok := cache.LoadAsset("ui/panel", domain.KindPrefab)
	if !ok || string(asset.Data) != "prefab" {
		t.Fatalf("LoadAsset = %+v, %v", asset, ok)
	}
	want := []string{"materials/panel.mat.unity3d", "ui/panel.prefab.unity3d"}
	if got := cache.Loaded(); !reflect.DeepEqual(got, want) {
		t.Errorf("Loaded = %v, want %v", got, want)
	}
}
